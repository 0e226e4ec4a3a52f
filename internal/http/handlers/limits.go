package handlers

import (
	"net/http"
	"time"

	"imagebot/internal/admission"
)

type usageView struct {
	TotalGenerations  int        `json:"total_generations"`
	TotalEdits        int        `json:"total_edits"`
	TotalEnhancements int        `json:"total_enhancements"`
	Total             int        `json:"total"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
}

type limitsResponse struct {
	Admission     admission.Stats `json:"admission"`
	WindowSeconds int             `json:"window_seconds"`
	Usage         usageView       `json:"usage"`
}

// MeLimits reports the caller's admission counters and lifetime usage.
func (a *App) MeLimits(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	resp := limitsResponse{
		Admission:     a.Admission.Snapshot(userID),
		WindowSeconds: int(a.Admission.Config().Window / time.Second),
	}
	usage, err := a.Users.GetUsage(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("get usage")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load usage")
		return
	}
	resp.Usage = usageView{
		TotalGenerations:  usage.TotalGenerations,
		TotalEdits:        usage.TotalEdits,
		TotalEnhancements: usage.TotalEnhancements,
		Total:             usage.Total(),
		LastUsedAt:        usage.LastUsedAt,
	}
	a.json(w, http.StatusOK, resp)
}
