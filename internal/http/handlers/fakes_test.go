package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	testclock "k8s.io/utils/clock/testing"

	"imagebot/internal/admission"
	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/middleware"
	"imagebot/internal/orchestrator"
)

// stubProvider answers every fetch with status, or Ready when status is empty.
type stubProvider struct {
	mu      sync.Mutex
	status  string
	prompts []string
	params  []domain.GenerationParams
}

func (p *stubProvider) Submit(ctx context.Context, prompt string, params domain.GenerationParams) (domain.Submission, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	p.params = append(p.params, params)
	return domain.Submission{TaskID: "task-" + strconv.Itoa(len(p.prompts))}, nil
}

func (p *stubProvider) Fetch(ctx context.Context, taskID, pollURL string) (domain.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != "" {
		return domain.Snapshot{Status: p.status}, nil
	}
	return domain.Snapshot{Status: "Ready", ResultURL: "https://cdn.example/" + taskID + ".jpg"}, nil
}

func (p *stubProvider) lastParams() domain.GenerationParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.params) == 0 {
		return domain.GenerationParams{}
	}
	return p.params[len(p.params)-1]
}

func (p *stubProvider) lastPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return ""
	}
	return p.prompts[len(p.prompts)-1]
}

type memTasks struct {
	mu      sync.Mutex
	records map[string]*domain.TaskRecord
}

func (m *memTasks) Save(ctx context.Context, rec *domain.TaskRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]*domain.TaskRecord)
	}
	cp := *rec
	m.records[rec.TaskID] = &cp
	return "row-" + rec.TaskID, nil
}

func (m *memTasks) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, resultURL, errMsg *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	return 0, nil
}

type memUsers struct {
	mu      sync.Mutex
	ensured map[int64]bool
	stats   map[int64]*domain.UsageStats
	err     error
}

func (m *memUsers) EnsureUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ensured == nil {
		m.ensured = make(map[int64]bool)
	}
	m.ensured[userID] = true
	return nil
}

func (m *memUsers) IncrementUsage(ctx context.Context, userID int64, kind domain.JobKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats == nil {
		m.stats = make(map[int64]*domain.UsageStats)
	}
	st, ok := m.stats[userID]
	if !ok {
		st = &domain.UsageStats{UserID: userID}
		m.stats[userID] = st
	}
	switch kind {
	case domain.JobKindGeneration:
		st.TotalGenerations++
	case domain.JobKindEdit:
		st.TotalEdits++
	case domain.JobKindEnhancement:
		st.TotalEnhancements++
	}
	return nil
}

func (m *memUsers) GetUsage(ctx context.Context, userID int64) (*domain.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if st, ok := m.stats[userID]; ok {
		cp := *st
		return &cp, nil
	}
	return &domain.UsageStats{UserID: userID}, nil
}

type memImages struct {
	mu      sync.Mutex
	records []domain.ImageRecord
	limit   int
}

func (m *memImages) Save(ctx context.Context, rec *domain.ImageRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return "img-" + strconv.Itoa(len(m.records)), nil
}

func (m *memImages) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = limit
	var out []domain.ImageRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type testEnv struct {
	app      *App
	provider *stubProvider
	tasks    *memTasks
	users    *memUsers
	images   *memImages
	events   chan domain.CompletionEvent
	router   http.Handler
}

// newTestEnv wires the real admission controller and orchestrator against
// in-memory stores. The orchestrator clock never advances, so a job whose
// first fetch is non-terminal stays in flight until cancelled.
func newTestEnv(t *testing.T, admCfg admission.Config) *testEnv {
	t.Helper()
	env := &testEnv{
		provider: &stubProvider{},
		tasks:    &memTasks{},
		users:    &memUsers{},
		images:   &memImages{},
		events:   make(chan domain.CompletionEvent, 16),
	}
	adm := admission.New(admCfg)
	orch, err := orchestrator.New(orchestrator.Options{
		Client: env.provider,
		Tasks:  env.tasks,
		Usage:  env.users,
		Images: env.images,
		Slots:  adm,
		Logger: zerolog.Nop(),
		Clock:  testclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	env.app = &App{
		Config:     &infra.Config{AppEnv: "test"},
		Logger:     zerolog.Nop(),
		Admission:  adm,
		Jobs:       orch,
		Tasks:      env.tasks,
		Users:      env.users,
		Images:     env.images,
		OnComplete: func(ev domain.CompletionEvent) { env.events <- ev },
	}
	env.router = testRouter(env.app)
	return env
}

func testRouter(a *App) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", a.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if raw := r.Header.Get("X-Test-User"); raw != "" {
					id, _ := strconv.ParseInt(raw, 10, 64)
					r = r.WithContext(middleware.ContextWithUserID(r.Context(), id))
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Post("/images/generate", a.ImagesGenerate)
		r.Post("/images/edit", a.ImagesEdit)
		r.Get("/images/history", a.ImagesHistory)
		r.Get("/tasks/{task_id}", a.TaskStatus)
		r.Post("/tasks/{task_id}/enhance", a.TaskEnhance)
		r.Post("/tasks/{task_id}/regenerate", a.TaskRegenerate)
		r.Get("/jobs", a.JobsList)
		r.Get("/jobs/{handle_id}", a.JobGet)
		r.Delete("/jobs/{handle_id}", a.JobCancel)
		r.Get("/me/limits", a.MeLimits)
	})
	return r
}

func (env *testEnv) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-Test-User", strconv.FormatInt(userID, 10))
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) waitEvent(t *testing.T) domain.CompletionEvent {
	t.Helper()
	select {
	case ev := <-env.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
	return domain.CompletionEvent{}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

var errStore = errors.New("store down")
