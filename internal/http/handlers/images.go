package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"imagebot/internal/domain"
	"imagebot/internal/imagegen"
)

const (
	minImageSide       = 256
	maxImageSide       = 1440
	maxSafetyTolerance = 6
	defaultHistory     = 10
)

type generateRequest struct {
	Prompt           string `json:"prompt"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Seed             *int   `json:"seed"`
	SafetyTolerance  *int   `json:"safety_tolerance,omitempty"`
	OutputFormat     string `json:"output_format"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
}

func (req generateRequest) params() (domain.GenerationParams, error) {
	for name, v := range map[string]int{"width": req.Width, "height": req.Height} {
		if v != 0 && (v < minImageSide || v > maxImageSide) {
			return domain.GenerationParams{}, fmt.Errorf("%s must be between %d and %d", name, minImageSide, maxImageSide)
		}
	}
	if t := req.SafetyTolerance; t != nil && (*t < 0 || *t > maxSafetyTolerance) {
		return domain.GenerationParams{}, fmt.Errorf("safety_tolerance must be between 0 and %d", maxSafetyTolerance)
	}
	switch req.OutputFormat {
	case "", "jpeg", "png":
	default:
		return domain.GenerationParams{}, errors.New("output_format must be jpeg or png")
	}
	return domain.GenerationParams{
		Width:            req.Width,
		Height:           req.Height,
		Seed:             req.Seed,
		SafetyTolerance:  req.SafetyTolerance,
		OutputFormat:     req.OutputFormat,
		PromptUpsampling: req.PromptUpsampling,
	}.WithDefaults(), nil
}

// ImagesGenerate starts a text-to-image job.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	var req generateRequest
	if !a.decode(w, r, &req) {
		return
	}
	prompt, err := imagegen.BuildGenerationPrompt(req.Prompt)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	params, err := req.params()
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.startJob(w, r, userID, domain.JobKindGeneration, prompt, params)
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

// ImagesEdit starts an edit job from a free-form instruction.
func (a *App) ImagesEdit(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	var req editRequest
	if !a.decode(w, r, &req) {
		return
	}
	prompt, err := imagegen.BuildEditPrompt(req.Instruction)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	a.startJob(w, r, userID, domain.JobKindEdit, prompt, domain.GenerationParams{}.WithDefaults())
}

type historyItem struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Kind      string `json:"kind"`
	Summary   string `json:"summary"`
	ImageURL  string `json:"image_url"`
	CreatedAt string `json:"created_at"`
}

// ImagesHistory lists the caller's most recent finished images.
func (a *App) ImagesHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.currentUserID(r)
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user")
		return
	}
	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a number")
			return
		}
		limit = n
	}
	records, err := a.Images.ListByUser(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("list history")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load history")
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			ID:        rec.ID,
			TaskID:    rec.TaskID,
			Kind:      imagegen.KindLabel(rec.Kind),
			Summary:   imagegen.Summary(rec.Prompt),
			ImageURL:  rec.ImageURL,
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
