package repo

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type execCall struct {
	query string
	args  []any
}

// stubSQL records statements and answers them from canned values keyed by a
// substring of the query text.
type stubSQL struct {
	mu       sync.Mutex
	execs    []execCall
	rowsTag  string
	execErr  error
	rowVals  map[string][]any
	rowErr   error
	listVals [][]any
}

func (s *stubSQL) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	return pgconn.NewCommandTag(s.rowsTag), nil
}

func (s *stubSQL) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.rowErr != nil {
		return stubRow{err: s.rowErr}
	}
	for key, vals := range s.rowVals {
		if strings.Contains(query, key) {
			return stubRow{vals: vals}
		}
	}
	return stubRow{err: pgx.ErrNoRows}
}

func (s *stubSQL) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, execCall{query: query, args: args})
	if s.rowErr != nil {
		return nil, s.rowErr
	}
	return &stubRows{rows: s.listVals, idx: -1}, nil
}

func (s *stubSQL) last() execCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.execs) == 0 {
		return execCall{}
	}
	return s.execs[len(s.execs)-1]
}

type stubRow struct {
	vals []any
	err  error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

type stubRows struct {
	rows [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *stubRows) Scan(dest ...any) error {
	return assign(dest, r.rows[r.idx])
}

func (r *stubRows) Values() ([]any, error) {
	return nil, errors.New("values not supported in stub rows")
}

func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		if vals[i] == nil {
			target.Elem().Set(reflect.Zero(target.Elem().Type()))
			continue
		}
		target.Elem().Set(reflect.ValueOf(vals[i]))
	}
	return nil
}
