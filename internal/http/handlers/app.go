package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"imagebot/internal/admission"
	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/metrics"
	"imagebot/internal/middleware"
	"imagebot/internal/orchestrator"
)

// Admitter gates job starts per user.
type Admitter interface {
	TryAdmit(userID int64) admission.Decision
	Release(userID int64)
	Snapshot(userID int64) admission.Stats
	Config() admission.Config
}

// JobRunner tracks admitted jobs until completion.
type JobRunner interface {
	SubmitAndTrack(req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Handle, error)
	Handles(userID int64) []*orchestrator.Handle
	Lookup(userID int64, handleID string) (*orchestrator.Handle, bool)
	Cancel(userID int64, handleID string) error
}

// App bundles dependencies shared by the HTTP handlers.
type App struct {
	Config    *infra.Config
	Logger    zerolog.Logger
	Admission Admitter
	Jobs      JobRunner
	Tasks     domain.TaskRepository
	Users     domain.UserRepository
	Images    domain.ImageRepository
	Metrics   *metrics.Metrics
	// Ping checks storage for readiness; nil skips the check.
	Ping func(ctx context.Context) error
	// OnComplete receives every completion event after it is logged.
	OnComplete orchestrator.Sink
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, msg string) {
	a.json(w, code, map[string]string{"error": kind, "message": msg})
}

func (a *App) currentUserID(r *http.Request) (int64, bool) {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}
