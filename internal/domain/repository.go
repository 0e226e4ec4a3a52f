package domain

import (
	"context"
	"time"
)

// TaskRepository persists task records keyed by provider task id.
type TaskRepository interface {
	Save(ctx context.Context, record *TaskRecord) (string, error)
	// UpdateStatus only applies while the stored record is still pending and
	// reports whether a row changed.
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, resultURL, errMsg *string) (bool, error)
	Find(ctx context.Context, taskID string) (*TaskRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserRepository tracks per-user usage counters.
type UserRepository interface {
	EnsureUser(ctx context.Context, userID int64) error
	IncrementUsage(ctx context.Context, userID int64, kind JobKind) error
	GetUsage(ctx context.Context, userID int64) (*UsageStats, error)
}

// ImageRepository stores generation history.
type ImageRepository interface {
	Save(ctx context.Context, record *ImageRecord) (string, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]ImageRecord, error)
}
