package domain

import "time"

// ImageRecord is a history entry written for every successful job.
type ImageRecord struct {
	ID        string
	UserID    int64
	TaskID    string
	Prompt    string
	ImageURL  string
	Kind      JobKind
	Metadata  map[string]any
	CreatedAt time.Time
}
