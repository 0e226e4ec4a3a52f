// Package bfl talks to the Black Forest Labs asynchronous image API: a POST
// starts a task and returns a polling URL, GETs on that URL report progress.
package bfl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"imagebot/internal/domain"
	"imagebot/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("bfl: api key is required")

const (
	DefaultBaseURL = "https://api.bfl.ai"
	DefaultModel   = "flux-pro-1.1"

	maxErrorBody = 2048
)

// Provider-reported task states.
const (
	StatusPending          = "Pending"
	StatusReady            = "Ready"
	StatusError            = "Error"
	StatusFailed           = "Failed"
	StatusContentModerated = "Content Moderated"
	StatusRequestModerated = "Request Moderated"
	StatusTaskNotFound     = "Task not found"
)

// Options configures the client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the BFL API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type submitRequest struct {
	Prompt           string `json:"prompt"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
	Seed             *int   `json:"seed,omitempty"`
	SafetyTolerance  int    `json:"safety_tolerance"`
	OutputFormat     string `json:"output_format"`
}

type submitResponse struct {
	ID         string `json:"id"`
	PollingURL string `json:"polling_url"`
}

type resultResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Sample string `json:"sample"`
	} `json:"result"`
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("bfl: invalid base url: %w", err)
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.Nop())
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured endpoint name.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts a generation task.
func (c *Client) Submit(ctx context.Context, prompt string, params domain.GenerationParams) (domain.Submission, error) {
	if !c.HasCredentials() {
		return domain.Submission{}, ErrMissingAPIKey
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Submission{}, fmt.Errorf("bfl: prompt is required: %w", domain.ErrInvalidInput)
	}
	params = params.WithDefaults()
	body, err := json.Marshal(submitRequest{
		Prompt:           prompt,
		Width:            params.Width,
		Height:           params.Height,
		PromptUpsampling: params.PromptUpsampling,
		Seed:             params.Seed,
		SafetyTolerance:  *params.SafetyTolerance,
		OutputFormat:     params.OutputFormat,
	})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("bfl: encode request: %w", err)
	}
	endpoint := c.baseURL + "/v1/" + c.model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Submission{}, fmt.Errorf("bfl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("model", c.model).Msg("bfl: submit transport error")
		return domain.Submission{}, fmt.Errorf("bfl: submit: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Submission{}, fmt.Errorf("bfl: read response: %w: %v", domain.ErrTransport, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn().Str("body", truncate(raw)).Msg("bfl: rate limited")
		return domain.Submission{}, domain.ErrProviderRateLimited
	case resp.StatusCode == http.StatusPaymentRequired:
		c.logger.Warn().Str("body", truncate(raw)).Msg("bfl: insufficient credits")
		return domain.Submission{}, domain.ErrQuotaExceeded
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error().Int("status", resp.StatusCode).Str("body", truncate(raw)).Msg("bfl: submit failed")
		return domain.Submission{}, &domain.ProviderError{StatusCode: resp.StatusCode, Body: truncate(raw)}
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Submission{}, fmt.Errorf("bfl: decode response: %w", err)
	}
	if decoded.ID == "" {
		return domain.Submission{}, errors.New("bfl: response missing task id")
	}
	c.logger.Info().Str("task_id", decoded.ID).Str("model", c.model).Msg("bfl: task submitted")
	return domain.Submission{TaskID: decoded.ID, PollURL: decoded.PollingURL}, nil
}

// Fetch reads the current state of a task. An empty pollURL falls back to
// the shared get_result endpoint.
func (c *Client) Fetch(ctx context.Context, taskID, pollURL string) (domain.Snapshot, error) {
	target := strings.TrimSpace(pollURL)
	if target == "" {
		target = c.baseURL + "/v1/get_result"
	}
	u, err := url.Parse(target)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("bfl: invalid polling url %q: %w", target, err)
	}
	q := u.Query()
	q.Set("id", taskID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("bfl: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("bfl: get result: %w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("bfl: read result: %w: %v", domain.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("task_id", taskID).Msg("bfl: get result failed")
		return domain.Snapshot{}, fmt.Errorf("bfl: get result: %w: %w", domain.ErrTransport,
			&domain.ProviderError{StatusCode: resp.StatusCode, Body: truncate(raw)})
	}

	var decoded resultResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.Snapshot{}, fmt.Errorf("bfl: decode result: %w: %v", domain.ErrTransport, err)
	}
	snap := domain.Snapshot{Status: decoded.Status, Error: decoded.Error}
	if decoded.Result != nil {
		snap.ResultURL = decoded.Result.Sample
	}
	if snap.Error == "" && len(decoded.Details) > 0 && string(decoded.Details) != "null" {
		snap.Error = string(decoded.Details)
	}
	c.logger.Debug().Str("task_id", taskID).Str("status", snap.Status).Msg("bfl: polled task")
	return snap, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", c.apiKey)
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
