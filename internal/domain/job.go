package domain

import "time"

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindGeneration  JobKind = "generation"
	JobKindEnhancement JobKind = "enhancement"
	JobKindEdit        JobKind = "edit"
)

// Valid reports whether k is one of the known job kinds.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindGeneration, JobKindEnhancement, JobKindEdit:
		return true
	}
	return false
}

// TaskStatus enumerates task lifecycle states. Values match the strings the
// provider reports so records stay readable next to raw provider payloads.
type TaskStatus string

const (
	TaskStatusPending          TaskStatus = "Pending"
	TaskStatusReady            TaskStatus = "Ready"
	TaskStatusFailed           TaskStatus = "Failed"
	TaskStatusContentModerated TaskStatus = "Content Moderated"
	TaskStatusTimeout          TaskStatus = "Timeout"
	TaskStatusError            TaskStatus = "Error"
)

// Terminal reports whether no further transition may happen from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusReady, TaskStatusFailed, TaskStatusContentModerated, TaskStatusTimeout, TaskStatusError:
		return true
	}
	return false
}

// Succeeded reports whether s is the success terminal.
func (s TaskStatus) Succeeded() bool {
	return s == TaskStatusReady
}

// TaskRecord tracks one submission to the generation provider.
type TaskRecord struct {
	ID           string
	UserID       int64
	TaskID       string
	Kind         JobKind
	Status       TaskStatus
	Prompt       string
	ResultURL    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CompletionEvent is delivered exactly once per accepted submission.
type CompletionEvent struct {
	TaskID       string     `json:"task_id,omitempty"`
	UserID       int64      `json:"user_id"`
	Kind         JobKind    `json:"kind"`
	Status       TaskStatus `json:"status"`
	ResultURL    string     `json:"result_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// GenerationParams are the provider knobs forwarded with a prompt.
type GenerationParams struct {
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	Seed             *int   `json:"seed,omitempty"`
	SafetyTolerance  *int   `json:"safety_tolerance,omitempty"`
	OutputFormat     string `json:"output_format"`
	PromptUpsampling bool   `json:"prompt_upsampling"`
}

const (
	DefaultImageWidth      = 1024
	DefaultImageHeight     = 1024
	DefaultSafetyTolerance = 2
	DefaultOutputFormat    = "jpeg"
)

// WithDefaults fills unset fields with the provider defaults. A safety
// tolerance of 0 is a valid request and is kept.
func (p GenerationParams) WithDefaults() GenerationParams {
	if p.Width <= 0 {
		p.Width = DefaultImageWidth
	}
	if p.Height <= 0 {
		p.Height = DefaultImageHeight
	}
	if p.SafetyTolerance == nil {
		tolerance := DefaultSafetyTolerance
		p.SafetyTolerance = &tolerance
	}
	if p.OutputFormat == "" {
		p.OutputFormat = DefaultOutputFormat
	}
	return p
}

// Submission identifies a job accepted by the provider.
type Submission struct {
	TaskID  string
	PollURL string
}

// Snapshot is one observation of a provider job.
type Snapshot struct {
	Status    string
	ResultURL string
	Error     string
}
