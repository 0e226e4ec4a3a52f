// Package credentials keeps provider API keys in integration_tokens so an
// operator can rotate them without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"imagebot/internal/infra"
	"imagebot/internal/sqlinline"
)

// ProviderBFL names the generation provider row in integration_tokens.
const ProviderBFL = "bfl"

// Source reports where a resolved key came from.
type Source string

const (
	SourceEnv   Source = "env"
	SourceStore Source = "store"
	SourceNone  Source = "none"
)

type Store struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql, now: time.Now}
}

// Get returns the stored token for provider. A missing row is not an error.
func (s *Store) Get(ctx context.Context, provider string) (string, error) {
	var token string
	err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&token)
	switch {
	case infra.IsNoRows(err):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("load %s token: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// Put stores token for provider and stamps rotated_at into its properties.
func (s *Store) Put(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s token is empty", provider)
	}
	props, err := json.Marshal(struct {
		RotatedAt string `json:"rotated_at"`
	}{RotatedAt: s.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, props); err != nil {
		return fmt.Errorf("store %s token: %w", provider, err)
	}
	return nil
}

// Resolve prefers the configured key and falls back to the store. store may
// be nil.
func Resolve(ctx context.Context, provider, configured string, store *Store) (string, Source, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, SourceEnv, nil
	}
	if store == nil {
		return "", SourceNone, nil
	}
	key, err := store.Get(ctx, provider)
	if err != nil || key == "" {
		return "", SourceNone, err
	}
	return key, SourceStore, nil
}
