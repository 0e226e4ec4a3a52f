package repo

import (
	"context"
	"fmt"
	"time"

	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/sqlinline"
)

// UserRepositoryPG implements domain.UserRepository.
type UserRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewUserRepository creates a usage repository backed by PostgreSQL.
func NewUserRepository(sql infra.SQLExecutor) *UserRepositoryPG {
	return &UserRepositoryPG{sql: sql}
}

// EnsureUser creates the user row on first contact.
func (r *UserRepositoryPG) EnsureUser(ctx context.Context, userID int64) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QEnsureUser, userID); err != nil {
		return fmt.Errorf("ensure user %d: %w", userID, err)
	}
	return nil
}

// IncrementUsage bumps the counter for kind.
func (r *UserRepositoryPG) IncrementUsage(ctx context.Context, userID int64, kind domain.JobKind) error {
	if !kind.Valid() {
		return fmt.Errorf("increment usage: unknown kind %q: %w", kind, domain.ErrInvalidInput)
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QIncrementUsage, userID, string(kind)); err != nil {
		return fmt.Errorf("increment usage %d: %w", userID, err)
	}
	return nil
}

// GetUsage returns counters for the user; unknown users have zero usage.
func (r *UserRepositoryPG) GetUsage(ctx context.Context, userID int64) (*domain.UsageStats, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectUsage, userID)
	var (
		stats    domain.UsageStats
		lastUsed *time.Time
	)
	if err := row.Scan(&stats.UserID, &stats.TotalGenerations, &stats.TotalEdits, &stats.TotalEnhancements, &lastUsed); err != nil {
		if infra.IsNoRows(err) {
			return &domain.UsageStats{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get usage %d: %w", userID, err)
	}
	stats.LastUsedAt = lastUsed
	return &stats, nil
}

var _ domain.UserRepository = (*UserRepositoryPG)(nil)
