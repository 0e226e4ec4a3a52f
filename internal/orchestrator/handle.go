package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"imagebot/internal/domain"
)

// Handle tracks one submitted job. It is safe for concurrent use.
type Handle struct {
	ID        string
	UserID    int64
	Kind      domain.JobKind
	Prompt    string
	Params    domain.GenerationParams
	CreatedAt time.Time

	cancel    context.CancelFunc
	finalized atomic.Bool
	done      chan struct{}

	mu        sync.RWMutex
	taskID    string
	persisted bool
	observed  string
	event     *domain.CompletionEvent
	cancelled bool
}

func newHandle(id string, req Request, createdAt time.Time, cancel context.CancelFunc) *Handle {
	return &Handle{
		ID:        id,
		UserID:    req.UserID,
		Kind:      req.Kind,
		Prompt:    req.Prompt,
		Params:    req.Params.WithDefaults(),
		CreatedAt: createdAt,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// TaskID is empty until the provider accepted the job.
func (h *Handle) TaskID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.taskID
}

// Observed returns the last provider status seen while polling.
func (h *Handle) Observed() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.observed
}

// Done is closed once the job finished or was cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Event returns the completion event once the job reached a terminal status.
func (h *Handle) Event() (domain.CompletionEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.event == nil {
		return domain.CompletionEvent{}, false
	}
	return *h.event, true
}

// Wait blocks until the job ends. A cancelled job returns ErrCancelled.
func (h *Handle) Wait(ctx context.Context) (domain.CompletionEvent, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return domain.CompletionEvent{}, ctx.Err()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cancelled || h.event == nil {
		return domain.CompletionEvent{}, ErrCancelled
	}
	return *h.event, nil
}

// Info is a JSON-friendly view of a handle.
type Info struct {
	HandleID  string            `json:"handle_id"`
	UserID    int64             `json:"user_id"`
	Kind      domain.JobKind    `json:"kind"`
	TaskID    string            `json:"task_id,omitempty"`
	Status    domain.TaskStatus `json:"status"`
	Observed  string            `json:"provider_status,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := domain.TaskStatusPending
	if h.event != nil {
		status = h.event.Status
	}
	return Info{
		HandleID:  h.ID,
		UserID:    h.UserID,
		Kind:      h.Kind,
		TaskID:    h.taskID,
		Status:    status,
		Observed:  h.observed,
		CreatedAt: h.CreatedAt,
	}
}

func (h *Handle) setSubmitted(taskID string) {
	h.mu.Lock()
	h.taskID = taskID
	h.mu.Unlock()
}

func (h *Handle) setPersisted() {
	h.mu.Lock()
	h.persisted = true
	h.mu.Unlock()
}

func (h *Handle) isPersisted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.persisted
}

func (h *Handle) observe(status string) {
	h.mu.Lock()
	h.observed = status
	h.mu.Unlock()
}

func (h *Handle) complete(ev *domain.CompletionEvent) {
	h.mu.Lock()
	if ev != nil {
		h.event = ev
	} else {
		h.cancelled = true
	}
	h.mu.Unlock()
	close(h.done)
}
