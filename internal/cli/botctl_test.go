package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagebot/internal/domain"
	"imagebot/internal/infra"
	"imagebot/internal/middleware"
)

type execCall struct {
	query string
	args  []any
}

type fakeSQL struct {
	mu    sync.Mutex
	tag   string
	calls []execCall
}

func (f *fakeSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{query: query, args: args})
	return pgconn.NewCommandTag(f.tag), nil
}

func (f *fakeSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return noRow{}
}

func (f *fakeSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func run(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := BuildCLI(deps)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newDeps(sql *fakeSQL) (*Deps, *int) {
	released := 0
	return &Deps{
		Config: &infra.Config{JWTSecret: "cli-secret", TaskRetention: 7 * 24 * time.Hour},
		Logger: zerolog.Nop(),
		OpenSQL: func(ctx context.Context) (infra.SQLExecutor, func(), error) {
			return sql, func() { released++ }, nil
		},
		Migrate: func(ctx context.Context) ([]string, error) {
			return []string{"001_init"}, nil
		},
	}, &released
}

func TestMigrateCommand(t *testing.T) {
	deps, _ := newDeps(&fakeSQL{})
	out, err := run(t, deps, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "applied 001_init\n", out)

	deps.Migrate = func(ctx context.Context) ([]string, error) { return nil, nil }
	out, err = run(t, deps, "migrate")
	require.NoError(t, err)
	assert.Equal(t, "schema up to date\n", out)

	deps.Migrate = func(ctx context.Context) ([]string, error) { return nil, errors.New("boom") }
	_, err = run(t, deps, "migrate")
	assert.EqualError(t, err, "migrate: boom")
}

func TestSetKeyCommand(t *testing.T) {
	sql := &fakeSQL{tag: "INSERT 0 1"}
	deps, released := newDeps(sql)

	out, err := run(t, deps, "set-key", "  bfl-123  ")
	require.NoError(t, err)
	assert.Equal(t, "api key stored\n", out)
	require.Len(t, sql.calls, 1)
	assert.Equal(t, "bfl", sql.calls[0].args[0])
	assert.Equal(t, "bfl-123", sql.calls[0].args[1])
	assert.Equal(t, 1, *released)

	_, err = run(t, deps, "set-key")
	assert.Error(t, err)
}

func TestCleanupCommand(t *testing.T) {
	sql := &fakeSQL{tag: "DELETE 4"}
	deps, _ := newDeps(sql)

	before := time.Now()
	out, err := run(t, deps, "cleanup", "--days", "2")
	require.NoError(t, err)
	assert.Equal(t, "deleted 4 task records\n", out)

	require.Len(t, sql.calls, 1)
	cutoff := sql.calls[0].args[0].(time.Time)
	assert.WithinDuration(t, before.Add(-48*time.Hour), cutoff, time.Minute)
}

func TestTaskCommandNotFound(t *testing.T) {
	deps, _ := newDeps(&fakeSQL{})
	_, err := run(t, deps, "task", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenCommand(t *testing.T) {
	deps, _ := newDeps(&fakeSQL{})
	out, err := run(t, deps, "token", "--user", "42", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := middleware.VerifyJWT("cli-secret", strings.TrimSpace(out))
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	_, err = run(t, deps, "token")
	assert.Error(t, err)
}

func TestDatabaseUnavailable(t *testing.T) {
	deps, _ := newDeps(&fakeSQL{})
	deps.OpenSQL = func(ctx context.Context) (infra.SQLExecutor, func(), error) {
		return nil, nil, errors.New("refused")
	}
	_, err := run(t, deps, "task", "t-1")
	assert.EqualError(t, err, "connect database: refused")
}
