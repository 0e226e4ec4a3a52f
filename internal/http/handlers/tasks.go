package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"imagebot/internal/domain"
	"imagebot/internal/imagegen"
)

type taskResponse struct {
	TaskID       string            `json:"task_id"`
	Kind         domain.JobKind    `json:"kind"`
	Status       domain.TaskStatus `json:"status"`
	Prompt       string            `json:"prompt"`
	ResultURL    string            `json:"result_url,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ownedTask loads a task and hides records owned by other users.
func (a *App) ownedTask(w http.ResponseWriter, r *http.Request, userID int64) (*domain.TaskRecord, bool) {
	rec, err := a.Tasks.Find(r.Context(), chi.URLParam(r, "task_id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "task not found")
			return nil, false
		}
		a.Logger.Error().Err(err).Msg("find task")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load task")
		return nil, false
	}
	if rec.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "task not found")
		return nil, false
	}
	return rec, true
}

// TaskStatus returns the stored record for a provider task.
func (a *App) TaskStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	rec, ok := a.ownedTask(w, r, userID)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, taskResponse{
		TaskID:       rec.TaskID,
		Kind:         rec.Kind,
		Status:       rec.Status,
		Prompt:       rec.Prompt,
		ResultURL:    rec.ResultURL,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// TaskEnhance re-renders a finished task at higher quality.
func (a *App) TaskEnhance(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	rec, ok := a.ownedTask(w, r, userID)
	if !ok {
		return
	}
	if !rec.Status.Succeeded() {
		a.error(w, http.StatusConflict, "conflict", "only finished images can be enhanced")
		return
	}
	prompt := imagegen.BuildEnhancementPrompt(rec)
	a.startJob(w, r, userID, domain.JobKindEnhancement, prompt, domain.GenerationParams{}.WithDefaults())
}

// TaskRegenerate runs the stored prompt of a task again.
func (a *App) TaskRegenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	rec, ok := a.ownedTask(w, r, userID)
	if !ok {
		return
	}
	prompt, err := imagegen.BuildGenerationPrompt(rec.Prompt)
	if err != nil {
		a.error(w, http.StatusConflict, "conflict", "stored prompt cannot be reused")
		return
	}
	kind := rec.Kind
	if !kind.Valid() {
		kind = domain.JobKindGeneration
	}
	a.startJob(w, r, userID, kind, prompt, domain.GenerationParams{}.WithDefaults())
}
