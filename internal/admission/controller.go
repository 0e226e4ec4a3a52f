// Package admission gates new jobs per user with a sliding request window
// and a cap on concurrently tracked jobs.
package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"imagebot/internal/metrics"
)

// Reason explains a denial.
type Reason string

const (
	ReasonRateLimited       Reason = "RateLimited"
	ReasonTooManyActiveJobs Reason = "TooManyActiveJobs"
)

const (
	DefaultMaxRequests   = 10
	DefaultWindow        = 60 * time.Second
	DefaultMaxActiveJobs = 5
)

// Config bounds admissions per user.
type Config struct {
	MaxRequests   int
	Window        time.Duration
	MaxActiveJobs int
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxActiveJobs <= 0 {
		c.MaxActiveJobs = DefaultMaxActiveJobs
	}
	return c
}

// Decision is the outcome of TryAdmit. A denial is a value, not an error.
type Decision struct {
	Admitted bool
	Reason   Reason
	// RetryAfter hints when a RateLimited caller may try again.
	RetryAfter time.Duration
}

// Message renders a user-facing explanation for a denial.
func (d Decision) Message(cfg Config) string {
	switch d.Reason {
	case ReasonRateLimited:
		return fmt.Sprintf("Rate limit exceeded. Max %d requests per %d seconds.", cfg.MaxRequests, int(cfg.Window/time.Second))
	case ReasonTooManyActiveJobs:
		return fmt.Sprintf("Too many active tasks. Max %d concurrent tasks.", cfg.MaxActiveJobs)
	}
	return ""
}

// Stats is a read-only view of a user's admission state.
type Stats struct {
	RecentRequests int `json:"recent_requests"`
	MaxRequests    int `json:"max_requests"`
	ActiveJobs     int `json:"active_jobs"`
	MaxActiveJobs  int `json:"max_active_jobs"`
}

type userState struct {
	requests []time.Time
	active   int
}

// Controller owns the per-user request windows and in-flight counters.
type Controller struct {
	cfg     Config
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	users map[int64]*userState
}

type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: zerolog.Nop(),
		users:  make(map[int64]*userState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective limits.
func (c *Controller) Config() Config {
	return c.cfg
}

// TryAdmit evicts expired window entries, then admits the request unless the
// window is full or the user already has MaxActiveJobs in flight. An admitted
// caller must call Release exactly once when the job ends.
func (c *Controller) TryAdmit(userID int64) Decision {
	now := c.now()

	c.mu.Lock()
	st := c.users[userID]
	if st == nil {
		st = &userState{}
		c.users[userID] = st
	}
	c.evict(st, now)

	var d Decision
	switch {
	case len(st.requests) >= c.cfg.MaxRequests:
		d = Decision{Reason: ReasonRateLimited, RetryAfter: st.requests[0].Add(c.cfg.Window).Sub(now)}
	case st.active >= c.cfg.MaxActiveJobs:
		d = Decision{Reason: ReasonTooManyActiveJobs}
	default:
		st.requests = append(st.requests, now)
		st.active++
		d = Decision{Admitted: true}
	}
	active := st.active
	c.mu.Unlock()

	c.metrics.RecordAdmission(d.Admitted, string(d.Reason))
	if d.Admitted {
		c.logger.Debug().Int64("user_id", userID).Int("active", active).Msg("admission: admitted")
	} else {
		c.logger.Info().Int64("user_id", userID).Str("reason", string(d.Reason)).Msg("admission: denied")
	}
	return d
}

// Release frees one in-flight slot. The counter never drops below zero.
func (c *Controller) Release(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.users[userID]
	if st == nil || st.active == 0 {
		c.logger.Warn().Int64("user_id", userID).Msg("admission: release without active job")
		return
	}
	st.active--
	c.evict(st, c.now())
	if st.active == 0 && len(st.requests) == 0 {
		delete(c.users, userID)
	}
}

// Snapshot reports current usage without mutating the window.
func (c *Controller) Snapshot(userID int64) Stats {
	now := c.now()
	cutoff := now.Add(-c.cfg.Window)

	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{MaxRequests: c.cfg.MaxRequests, MaxActiveJobs: c.cfg.MaxActiveJobs}
	st := c.users[userID]
	if st == nil {
		return stats
	}
	for _, ts := range st.requests {
		if ts.After(cutoff) {
			stats.RecentRequests++
		}
	}
	stats.ActiveJobs = st.active
	return stats
}

// Prune drops users with no active jobs and no requests inside the window.
func (c *Controller) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, st := range c.users {
		c.evict(st, now)
		if st.active == 0 && len(st.requests) == 0 {
			delete(c.users, id)
			removed++
		}
	}
	return removed
}

// evict keeps only timestamps strictly newer than now-Window. Caller holds mu.
func (c *Controller) evict(st *userState, now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	i := 0
	for i < len(st.requests) && !st.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		st.requests = append(st.requests[:0], st.requests[i:]...)
	}
}
