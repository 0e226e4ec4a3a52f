package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"imagebot/internal/admission"
	"imagebot/internal/domain"
	"imagebot/internal/orchestrator"
)

type jobAccepted struct {
	HandleID string            `json:"handle_id"`
	Kind     domain.JobKind    `json:"kind"`
	Status   domain.TaskStatus `json:"status"`
}

// startJob admits and launches a job, writing the HTTP response either way.
func (a *App) startJob(w http.ResponseWriter, r *http.Request, userID int64, kind domain.JobKind, prompt string, params domain.GenerationParams) {
	log := a.Logger.With().Int64("user_id", userID).Str("kind", string(kind)).Logger()

	if err := a.Users.EnsureUser(r.Context(), userID); err != nil {
		log.Warn().Err(err).Msg("ensure user failed")
	}

	decision := a.Admission.TryAdmit(userID)
	if !decision.Admitted {
		a.deny(w, decision)
		return
	}

	h, err := a.Jobs.SubmitAndTrack(orchestrator.Request{
		UserID: userID,
		Kind:   kind,
		Prompt: prompt,
		Params: params,
	}, a.complete)
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	case err != nil:
		log.Error().Err(err).Msg("start job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to start job")
		return
	}

	log.Info().Str("handle_id", h.ID).Msg("job accepted")
	w.Header().Set("Location", "/v1/jobs/"+h.ID)
	a.json(w, http.StatusAccepted, jobAccepted{HandleID: h.ID, Kind: kind, Status: domain.TaskStatusPending})
}

func (a *App) deny(w http.ResponseWriter, d admission.Decision) {
	body := map[string]any{
		"reason":  d.Reason,
		"message": d.Message(a.Admission.Config()),
	}
	switch d.Reason {
	case admission.ReasonRateLimited:
		body["error"] = "rate_limited"
		secs := int((d.RetryAfter + time.Second - 1) / time.Second)
		if secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			body["retry_after_seconds"] = secs
		}
	default:
		body["error"] = "too_many_active_jobs"
	}
	a.json(w, http.StatusTooManyRequests, body)
}

func (a *App) complete(ev domain.CompletionEvent) {
	e := a.Logger.Info()
	if !ev.Status.Succeeded() {
		e = a.Logger.Warn().Str("error_message", ev.ErrorMessage)
	}
	e.Int64("user_id", ev.UserID).
		Str("task_id", ev.TaskID).
		Str("kind", string(ev.Kind)).
		Str("status", string(ev.Status)).
		Msg("job completed")
	if a.OnComplete != nil {
		a.OnComplete(ev)
	}
}

// JobsList returns the caller's in-flight jobs.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	handles := a.Jobs.Handles(userID)
	items := make([]orchestrator.Info, 0, len(handles))
	for _, h := range handles {
		items = append(items, h.Info())
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) JobGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	h, found := a.Jobs.Lookup(userID, chi.URLParam(r, "handle_id"))
	if !found {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.json(w, http.StatusOK, h.Info())
}

func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	id := chi.URLParam(r, "handle_id")
	if err := a.Jobs.Cancel(userID, id); err != nil {
		if errors.Is(err, orchestrator.ErrJobNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel job")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"handle_id": id, "status": "cancelling"})
}
