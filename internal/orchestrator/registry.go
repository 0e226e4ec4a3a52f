package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tracking selects how many in-flight handles stay visible per user.
type Tracking int

const (
	// TrackAll keeps every in-flight handle addressable by its id.
	TrackAll Tracking = iota
	// TrackLatest keeps only the newest handle per user. Older jobs still run
	// to completion but can no longer be listed or cancelled individually.
	TrackLatest
)

func (t Tracking) String() string {
	if t == TrackLatest {
		return "latest"
	}
	return "all"
}

// ParseTracking maps a config value to a Tracking mode.
func ParseTracking(raw string) (Tracking, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return TrackAll, nil
	case "latest":
		return TrackLatest, nil
	}
	return TrackAll, fmt.Errorf("unknown handle tracking mode %q", raw)
}

type registry struct {
	mode Tracking

	mu     sync.Mutex
	byUser map[int64]map[string]*Handle
}

func newRegistry(mode Tracking) *registry {
	return &registry{mode: mode, byUser: make(map[int64]map[string]*Handle)}
}

func (r *registry) add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.byUser[h.UserID]
	if handles == nil || r.mode == TrackLatest {
		handles = make(map[string]*Handle, 1)
		r.byUser[h.UserID] = handles
	}
	handles[h.ID] = h
}

// remove drops h only if it is still registered; a newer handle that
// superseded it is left alone.
func (r *registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.byUser[h.UserID]
	if handles == nil || handles[h.ID] != h {
		return
	}
	delete(handles, h.ID)
	if len(handles) == 0 {
		delete(r.byUser, h.UserID)
	}
}

func (r *registry) get(userID int64, id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byUser[userID][id]
	return h, ok
}

// list returns the user's handles, oldest first.
func (r *registry) list(userID int64) []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.byUser[userID]))
	for _, h := range r.byUser[userID] {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, handles := range r.byUser {
		n += len(handles)
	}
	return n
}
