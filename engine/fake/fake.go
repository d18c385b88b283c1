// Package fake is an in-memory engine.DB/engine.Stmt test double. The unit
// tests in stmt and stmtcache drive the codec against it instead of a mock
// framework, the way the teacher's own tests favor a small hand-rolled
// fake over mocking libraries.
package fake

import (
	"context"
	"fmt"

	"github.com/nodeql/tunnel/engine"
)

// Column describes one result column a Stmt reports.
type Column struct {
	Name     string
	DeclType string
	Type     engine.ColumnType
}

// Value is one cell of a fake result row.
type Value struct {
	Type  engine.ColumnType
	Int   int64
	Float float64
	Text  string
	Blob  []byte
}

// Bound captures what was bound at a given 1-based parameter index, for
// tests asserting on stmt.Bind's effect.
type Bound struct {
	Kind engine.ColumnType
	Int  int64
	Flt  float64
	Text string
	Blob []byte
	Null bool
}

// Stmt is a scripted prepared statement: its column schema and row data are
// set up by the test before it is driven through stmt.Bind / stmt.Query.
type Stmt struct {
	Columns []Column
	Rows    [][]Value

	// MaxParam bounds valid 1-based bind indices; negative means unbounded
	// (the default via NewStmt). Used to exercise the RANGE error path.
	MaxParam int

	pos   int
	Binds map[int]Bound

	closed bool
}

// NewStmt creates a scripted statement with the given column schema and
// row data. Rows may be empty to model a query with no results.
func NewStmt(columns []Column, rows [][]Value) *Stmt {
	return &Stmt{
		Columns:  columns,
		Rows:     rows,
		pos:      -1,
		Binds:    make(map[int]Bound),
		MaxParam: -1,
	}
}

// checkIndex rejects an out-of-range bind index. MaxParam < 0 (the default)
// means unbounded; MaxParam >= 0 caps the highest valid 1-based index.
func (s *Stmt) checkIndex(index int) error {
	if s.MaxParam >= 0 && (index < 1 || index > s.MaxParam) {
		return engine.ErrBindRange
	}
	return nil
}

func (s *Stmt) BindInt64(index int, v int64) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.Binds[index] = Bound{Kind: engine.ColumnInteger, Int: v}
	return nil
}

func (s *Stmt) BindFloat64(index int, v float64) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.Binds[index] = Bound{Kind: engine.ColumnFloat, Flt: v}
	return nil
}

func (s *Stmt) BindText(index int, v string) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.Binds[index] = Bound{Kind: engine.ColumnText, Text: v}
	return nil
}

func (s *Stmt) BindBlob(index int, v []byte) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.Binds[index] = Bound{Kind: engine.ColumnBlob, Blob: v}
	return nil
}

func (s *Stmt) BindNull(index int) error {
	if err := s.checkIndex(index); err != nil {
		return err
	}
	s.Binds[index] = Bound{Kind: engine.ColumnNull, Null: true}
	return nil
}

func (s *Stmt) Step(ctx context.Context) (engine.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.StepDone, err
	}
	s.pos++
	if s.pos >= len(s.Rows) {
		return engine.StepDone, nil
	}
	return engine.StepRow, nil
}

func (s *Stmt) ColumnCount() int { return len(s.Columns) }

func (s *Stmt) ColumnName(i int) string     { return s.Columns[i].Name }
func (s *Stmt) ColumnDeclType(i int) string { return s.Columns[i].DeclType }

func (s *Stmt) ColumnType(i int) engine.ColumnType {
	if s.pos < 0 || s.pos >= len(s.Rows) {
		return s.Columns[i].Type
	}
	return s.Rows[s.pos][i].Type
}

func (s *Stmt) currentValue(i int) Value {
	return s.Rows[s.pos][i]
}

func (s *Stmt) ColumnInt64(i int) int64     { return s.currentValue(i).Int }
func (s *Stmt) ColumnFloat64(i int) float64 { return s.currentValue(i).Float }
func (s *Stmt) ColumnText(i int) string     { return s.currentValue(i).Text }
func (s *Stmt) ColumnBlob(i int) []byte     { return s.currentValue(i).Blob }

func (s *Stmt) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called, for tests asserting cleanup.
func (s *Stmt) Closed() bool { return s.closed }

// DB is a fake engine.DB backed by a registry of SQL text to statement
// factories, so Prepare can return a fresh Stmt per call.
type DB struct {
	stmts    map[string]func() *Stmt
	lastCode int
	lastMsg  string
	closed   bool
}

// NewDB creates an empty fake database.
func NewDB() *DB {
	return &DB{stmts: make(map[string]func() *Stmt)}
}

// Register associates sql with a factory invoked on every Prepare(sql).
func (d *DB) Register(sql string, factory func() *Stmt) {
	d.stmts[sql] = factory
}

func (d *DB) Prepare(ctx context.Context, sql string) (engine.Stmt, string, error) {
	factory, ok := d.stmts[sql]
	if !ok {
		d.lastCode = 1
		d.lastMsg = fmt.Sprintf("no such statement registered: %q", sql)
		return nil, "", fmt.Errorf("fake: %s", d.lastMsg)
	}
	return factory(), "", nil
}

func (d *DB) LastError() (int, string) { return d.lastCode, d.lastMsg }

func (d *DB) Close() error {
	d.closed = true
	return nil
}

// Closed reports whether Close was called, for tests asserting cleanup.
func (d *DB) Closed() bool { return d.closed }
