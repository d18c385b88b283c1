// Package sqldriver adapts any database/sql driver to engine.DB/engine.Stmt,
// emulating the codec's step-based access pattern over sql.Rows.Next. It is
// driven in tests against github.com/go-sql-driver/mysql; cmd/tunnel-bench
// also registers github.com/jackc/pgx/v5/stdlib.
package sqldriver

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nodeql/tunnel/engine"
)

// DB wraps a *sql.DB as an engine.DB.
type DB struct {
	conn *sql.DB

	lastCode int
	lastMsg  string
}

// Open wraps an already-opened *sql.DB.
func Open(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Prepare compiles sql into a *sql.Stmt. database/sql has no concept of a
// multi-statement tail the way a SQLite-style prepare does, so tail is
// always empty here.
func (d *DB) Prepare(ctx context.Context, query string) (engine.Stmt, string, error) {
	prepared, err := d.conn.PrepareContext(ctx, query)
	if err != nil {
		d.lastCode = 1
		d.lastMsg = err.Error()
		return nil, "", fmt.Errorf("sqldriver: prepare: %w", err)
	}
	return &Stmt{metaCtx: ctx, stmt: prepared}, "", nil
}

func (d *DB) LastError() (int, string) { return d.lastCode, d.lastMsg }

func (d *DB) Close() error { return d.conn.Close() }

// Stmt adapts a *sql.Stmt. BindInt64/BindFloat64/etc. buffer positional
// arguments; the query only actually runs on the first call that needs
// metadata or rows (ColumnCount or Step), since database/sql (unlike a
// SQLite-style prepare) can't report result columns until the statement is
// executed with its bound arguments. Binding again after the query has run
// closes its rows, so the next ColumnCount or Step runs it afresh with the
// new arguments.
type Stmt struct {
	metaCtx context.Context
	stmt    *sql.Stmt

	args []any

	rows    *sql.Rows
	cols    []*sql.ColumnType
	current []any

	started bool
}

func (s *Stmt) setArg(index int, v any) error {
	if index < 1 {
		return engine.ErrBindRange
	}
	if s.started {
		_ = s.rows.Close()
		s.rows, s.cols, s.current = nil, nil, nil
		s.started = false
	}
	for len(s.args) < index {
		s.args = append(s.args, nil)
	}
	s.args[index-1] = v
	return nil
}

func (s *Stmt) BindInt64(index int, v int64) error      { return s.setArg(index, v) }
func (s *Stmt) BindFloat64(index int, v float64) error  { return s.setArg(index, v) }
func (s *Stmt) BindText(index int, v string) error      { return s.setArg(index, v) }
func (s *Stmt) BindBlob(index int, v []byte) error      { return s.setArg(index, v) }
func (s *Stmt) BindNull(index int) error                { return s.setArg(index, nil) }

func (s *Stmt) ensureStarted(ctx context.Context) error {
	if s.started {
		return nil
	}
	rows, err := s.stmt.QueryContext(ctx, s.args...)
	if err != nil {
		return fmt.Errorf("sqldriver: query: %w", err)
	}
	cols, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return fmt.Errorf("sqldriver: column types: %w", err)
	}
	s.rows = rows
	s.cols = cols
	s.started = true
	return nil
}

func (s *Stmt) Step(ctx context.Context) (engine.StepResult, error) {
	if err := s.ensureStarted(ctx); err != nil {
		return engine.StepDone, err
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return engine.StepDone, fmt.Errorf("sqldriver: rows: %w", err)
		}
		return engine.StepDone, nil
	}
	dest := make([]any, len(s.cols))
	ptrs := make([]any, len(s.cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return engine.StepDone, fmt.Errorf("sqldriver: scan: %w", err)
	}
	s.current = dest
	return engine.StepRow, nil
}

// ColumnCount triggers the lazy query execution (see ensureStarted) using
// the metadata context captured at Prepare time, since database/sql can't
// report columns before running the statement.
func (s *Stmt) ColumnCount() int {
	if err := s.ensureStarted(s.metaCtx); err != nil {
		return 0
	}
	return len(s.cols)
}

func (s *Stmt) ColumnName(i int) string { return s.cols[i].Name() }

func (s *Stmt) ColumnDeclType(i int) string { return s.cols[i].DatabaseTypeName() }

func (s *Stmt) ColumnType(i int) engine.ColumnType {
	return columnType(s.current[i], s.cols[i].DatabaseTypeName())
}

func columnType(v any, declType string) engine.ColumnType {
	switch v.(type) {
	case nil:
		return engine.ColumnNull
	case int64, int32, int, bool:
		return engine.ColumnInteger
	case float64, float32:
		return engine.ColumnFloat
	case time.Time, string:
		return engine.ColumnText
	case []byte:
		if isBlobDeclType(declType) {
			return engine.ColumnBlob
		}
		return engine.ColumnText
	}
	return engine.ColumnText
}

func isBlobDeclType(declType string) bool {
	u := strings.ToUpper(declType)
	return strings.Contains(u, "BLOB") || strings.Contains(u, "BINARY")
}

func (s *Stmt) ColumnInt64(i int) int64 {
	switch v := s.current[i].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func (s *Stmt) ColumnFloat64(i int) float64 {
	switch v := s.current[i].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func (s *Stmt) ColumnText(i int) string {
	switch v := s.current[i].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(s.current[i])
}

func (s *Stmt) ColumnBlob(i int) []byte {
	switch v := s.current[i].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

func (s *Stmt) Close() error {
	var firstErr error
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.stmt.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
