package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiters keeps a token bucket per client address. Buckets idle for
// longer than ttl are dropped on the next sweep.
type ipLimiters struct {
	every rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiters(limit int, per time.Duration) *ipLimiters {
	limit = max(limit, 1)
	return &ipLimiters{
		every:   rate.Every(per / time.Duration(limit)),
		burst:   limit,
		ttl:     3 * per,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (l *ipLimiters) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) <= l.ttl {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.ttl {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// reserve takes a token for key. When none is available it returns false and
// the wait until one would be.
func (l *ipLimiters) reserve(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now

	r := b.lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *ipLimiters) allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// RateLimit caps requests per client address at limit per period. It expects
// RealIP to have already rewritten RemoteAddr.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	limiters := newIPLimiters(limit, per)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiters.reserve(clientKey(r.RemoteAddr))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey strips the port from addr. Anything unparseable is used verbatim.
func clientKey(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
