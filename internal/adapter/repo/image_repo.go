package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/sqlinline"
)

const maxHistoryLimit = 50

// ImageRepositoryPG implements domain.ImageRepository.
type ImageRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewImageRepository creates an image history repository backed by PostgreSQL.
func NewImageRepository(sql infra.SQLExecutor) *ImageRepositoryPG {
	return &ImageRepositoryPG{sql: sql}
}

// Save stores a history entry.
func (r *ImageRepositoryPG) Save(ctx context.Context, record *domain.ImageRecord) (string, error) {
	if record == nil || record.ImageURL == "" {
		return "", fmt.Errorf("save image: %w", domain.ErrInvalidInput)
	}
	meta := record.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode image metadata: %w", err)
	}
	kind := record.Kind
	if kind == "" {
		kind = domain.JobKindGeneration
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertImage,
		record.UserID,
		record.TaskID,
		record.Prompt,
		record.ImageURL,
		string(kind),
		rawMeta,
	)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("save image for task %s: %w", record.TaskID, err)
	}
	record.ID = id
	return id, nil
}

// ListByUser returns the most recent entries first.
func (r *ImageRepositoryPG) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.ImageRecord, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = 10
	}
	rows, err := r.sql.Query(ctx, sqlinline.QSelectImagesByUser, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list images %d: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.ImageRecord
	for rows.Next() {
		var (
			rec     domain.ImageRecord
			kind    string
			rawMeta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TaskID, &rec.Prompt, &rec.ImageURL, &kind, &rawMeta, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		rec.Kind = domain.JobKind(kind)
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &rec.Metadata)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return out, nil
}

var _ domain.ImageRepository = (*ImageRepositoryPG)(nil)
