package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	testclock "k8s.io/utils/clock/testing"

	"imagebot/internal/domain"
)

type fetchFunc func(taskID string, call int) (domain.Snapshot, error)

type fakeClient struct {
	mu        sync.Mutex
	submitErr error
	onSubmit  func()
	fetch     fetchFunc
	submits   int
	fetches   map[string]int
}

func newFakeClient(fetch fetchFunc) *fakeClient {
	return &fakeClient{fetch: fetch, fetches: make(map[string]int)}
}

func (c *fakeClient) Submit(ctx context.Context, prompt string, params domain.GenerationParams) (domain.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	if c.onSubmit != nil {
		c.onSubmit()
	}
	if c.submitErr != nil {
		return domain.Submission{}, c.submitErr
	}
	id := "task-" + prompt
	return domain.Submission{TaskID: id, PollURL: "https://poll.example/" + id}, nil
}

func (c *fakeClient) Fetch(ctx context.Context, taskID, pollURL string) (domain.Snapshot, error) {
	c.mu.Lock()
	call := c.fetches[taskID]
	c.fetches[taskID] = call + 1
	fn := c.fetch
	c.mu.Unlock()
	return fn(taskID, call)
}

func (c *fakeClient) fetchCount(taskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[taskID]
}

func alwaysPending(string, int) (domain.Snapshot, error) {
	return domain.Snapshot{Status: "Pending"}, nil
}

// memTasks is an in-memory TaskRepository honoring the pending-only update.
type memTasks struct {
	mu      sync.Mutex
	saveErr error
	records map[string]*domain.TaskRecord
	updates int
}

func newMemTasks() *memTasks {
	return &memTasks{records: make(map[string]*domain.TaskRecord)}
}

func (m *memTasks) Save(ctx context.Context, rec *domain.TaskRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return "", m.saveErr
	}
	cp := *rec
	cp.ID = "row-" + rec.TaskID
	m.records[rec.TaskID] = &cp
	return cp.ID, nil
}

func (m *memTasks) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, resultURL, errMsg *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	rec, ok := m.records[taskID]
	if !ok || rec.Status != domain.TaskStatusPending {
		return false, nil
	}
	rec.Status = status
	if resultURL != nil {
		rec.ResultURL = *resultURL
	}
	if errMsg != nil {
		rec.ErrorMessage = *errMsg
	}
	return true, nil
}

func (m *memTasks) Find(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memTasks) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, errors.New("not supported")
}

func (m *memTasks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memTasks) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

type memUsage struct {
	mu     sync.Mutex
	counts map[domain.JobKind]int
}

func (u *memUsage) EnsureUser(ctx context.Context, userID int64) error { return nil }

func (u *memUsage) IncrementUsage(ctx context.Context, userID int64, kind domain.JobKind) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.counts == nil {
		u.counts = make(map[domain.JobKind]int)
	}
	u.counts[kind]++
	return nil
}

func (u *memUsage) GetUsage(ctx context.Context, userID int64) (*domain.UsageStats, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return &domain.UsageStats{
		UserID:            userID,
		TotalGenerations:  u.counts[domain.JobKindGeneration],
		TotalEdits:        u.counts[domain.JobKindEdit],
		TotalEnhancements: u.counts[domain.JobKindEnhancement],
	}, nil
}

type memImages struct {
	mu    sync.Mutex
	saved []domain.ImageRecord
}

func (m *memImages) Save(ctx context.Context, rec *domain.ImageRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *rec)
	return "img", nil
}

func (m *memImages) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ImageRecord(nil), m.saved...), nil
}

type slotCounter struct {
	mu       sync.Mutex
	releases map[int64]int
}

func (s *slotCounter) Release(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.releases == nil {
		s.releases = make(map[int64]int)
	}
	s.releases[userID]++
}

func (s *slotCounter) count(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases[userID]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.CompletionEvent
}

func (r *eventRecorder) sink(ev domain.CompletionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) all() []domain.CompletionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CompletionEvent(nil), r.events...)
}

type harness struct {
	orch   *Orchestrator
	client *fakeClient
	tasks  *memTasks
	usage  *memUsage
	images *memImages
	slots  *slotCounter
	clock  *testclock.FakeClock
	events *eventRecorder
}

func newHarness(t *testing.T, client *fakeClient, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		client: client,
		tasks:  newMemTasks(),
		usage:  &memUsage{},
		images: &memImages{},
		slots:  &slotCounter{},
		clock:  testclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		events: &eventRecorder{},
	}
	opts := Options{
		Client:       client,
		Tasks:        h.tasks,
		Usage:        h.usage,
		Images:       h.images,
		Slots:        h.slots,
		Logger:       zerolog.Nop(),
		Clock:        h.clock,
		PollInterval: 2 * time.Second,
		PollTimeout:  300 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	h.orch = orch
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return h
}

// autoStep advances the fake clock by step whenever a job is sleeping,
// until the returned stop function is called.
func (h *harness) autoStep(step time.Duration) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			if h.clock.HasWaiters() {
				h.clock.Step(step)
				continue
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func waitEvent(t *testing.T, hd *Handle) domain.CompletionEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := hd.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	return ev
}
