package repo

import (
	"context"
	"fmt"
	"time"

	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository.
type TaskRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewTaskRepository creates a task repository backed by PostgreSQL.
func NewTaskRepository(sql infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{sql: sql, now: time.Now}
}

// Save inserts a new task record and returns its row id.
func (r *TaskRepositoryPG) Save(ctx context.Context, record *domain.TaskRecord) (string, error) {
	if record == nil || record.TaskID == "" {
		return "", fmt.Errorf("save task: %w", domain.ErrInvalidInput)
	}
	status := record.Status
	if status == "" {
		status = domain.TaskStatusPending
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertTask,
		record.TaskID,
		record.UserID,
		string(record.Kind),
		string(status),
		record.Prompt,
		createdAt,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("save task %s: %w", record.TaskID, err)
	}
	record.ID = id
	record.Status = status
	record.CreatedAt = createdAt
	record.UpdatedAt = createdAt
	return id, nil
}

// UpdateStatus moves a pending task to status and optionally stores the
// result or error text.
func (r *TaskRepositoryPG) UpdateStatus(ctx context.Context, taskID string, status domain.TaskStatus, resultURL, errMsg *string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateTaskStatus, taskID, string(status), nullableString(resultURL), nullableString(errMsg))
	if err != nil {
		return false, fmt.Errorf("update task %s: %w", taskID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Find fetches a task by its provider task id.
func (r *TaskRepositoryPG) Find(ctx context.Context, taskID string) (*domain.TaskRecord, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectTaskByTaskID, taskID)
	var (
		rec    domain.TaskRecord
		kind   string
		status string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.TaskID,
		&rec.UserID,
		&kind,
		&status,
		&rec.Prompt,
		&rec.ResultURL,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find task %s: %w", taskID, err)
	}
	rec.Kind = domain.JobKind(kind)
	rec.Status = domain.TaskStatus(status)
	return &rec, nil
}

// DeleteOlderThan removes tasks created before cutoff.
func (r *TaskRepositoryPG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QDeleteTasksOlderThan, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullableString(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
