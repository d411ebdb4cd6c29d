package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// StepResult is the outcome of Step.
type StepResult int

const (
	// Row means a result row is available through the Column accessors.
	Row StepResult = iota
	// Done means the statement has run to completion.
	Done
)

// Statement is a prepared statement with SQLite-style positional bindings
// (1-based) and row stepping.
type Statement struct {
	ctx   context.Context
	stmt  *sql.Stmt
	text  string
	query bool

	args    []any
	rows    *sql.Rows
	cur     []any
	done    bool
	changes int64
}

// SQL returns the statement text.
func (s *Statement) SQL() string {
	return s.text
}

func (s *Statement) bind(i int, v any) error {
	if i < 1 {
		return fmt.Errorf("bind %d: parameter indexes start at 1", i)
	}
	for len(s.args) < i {
		s.args = append(s.args, nil)
	}
	s.args[i-1] = v
	return nil
}

func (s *Statement) BindInt(i int, v int32) error { return s.bind(i, int64(v)) }
func (s *Statement) BindInt64(i int, v int64) error { return s.bind(i, v) }
func (s *Statement) BindDouble(i int, v float64) error { return s.bind(i, v) }
func (s *Statement) BindText(i int, v string) error { return s.bind(i, v) }
func (s *Statement) BindNull(i int) error { return s.bind(i, nil) }

// BindBlob binds a copy of v. A nil slice binds an empty blob, not NULL.
func (s *Statement) BindBlob(i int, v []byte) error {
	b := make([]byte, len(v))
	copy(b, v)
	return s.bind(i, b)
}

// Step advances the statement. Statements that return no rows execute on
// the first Step and report Done.
func (s *Statement) Step() (StepResult, error) {
	if s.done {
		return Done, nil
	}
	if !s.query {
		res, err := s.stmt.ExecContext(s.ctx, s.args...)
		if err != nil {
			return Done, stepError(s.text, err)
		}
		s.changes, _ = res.RowsAffected()
		s.done = true
		return Done, nil
	}
	if s.rows == nil {
		rows, err := s.stmt.QueryContext(s.ctx, s.args...)
		if err != nil {
			return Done, stepError(s.text, err)
		}
		s.rows = rows
	}
	if !s.rows.Next() {
		err := s.rows.Err()
		_ = s.rows.Close()
		s.rows = nil
		s.cur = nil
		s.done = true
		if err != nil {
			return Done, stepError(s.text, err)
		}
		return Done, nil
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return Done, stepError(s.text, err)
	}
	if cap(s.cur) < len(cols) {
		s.cur = make([]any, len(cols))
	}
	s.cur = s.cur[:len(cols)]
	ptrs := make([]any, len(cols))
	for i := range s.cur {
		ptrs[i] = &s.cur[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return Done, stepError(s.text, err)
	}
	return Row, nil
}

// Changes is the number of rows the last executed write affected.
func (s *Statement) Changes() int64 {
	return s.changes
}

// Reset rewinds the statement so it can be stepped again. Bindings are kept.
func (s *Statement) Reset() error {
	var err error
	if s.rows != nil {
		err = s.rows.Close()
		s.rows = nil
	}
	s.cur = nil
	s.done = false
	s.changes = 0
	return err
}

// ClearBindings sets every parameter back to NULL.
func (s *Statement) ClearBindings() {
	s.args = s.args[:0]
}

// Finalize releases the statement.
func (s *Statement) Finalize() error {
	_ = s.Reset()
	return s.stmt.Close()
}

// ColumnCount is the number of columns of the current row.
func (s *Statement) ColumnCount() int {
	return len(s.cur)
}

// ColumnValue returns the raw value of column i of the current row: nil,
// int64, float64, string or []byte.
func (s *Statement) ColumnValue(i int) any {
	if i < 0 || i >= len(s.cur) {
		return nil
	}
	return s.cur[i]
}

// ColumnIsNull reports whether column i of the current row is NULL.
func (s *Statement) ColumnIsNull(i int) bool {
	return s.ColumnValue(i) == nil
}

// ColumnInt64 reads column i as a 64-bit integer, converting the way SQLite
// does: reals truncate, text is parsed, NULL is 0.
func (s *Statement) ColumnInt64(i int) int64 {
	switch v := s.ColumnValue(i).(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	}
	return 0
}

// ColumnInt reads column i as a 32-bit integer.
func (s *Statement) ColumnInt(i int) int32 {
	return int32(s.ColumnInt64(i))
}

// ColumnDouble reads column i as a double.
func (s *Statement) ColumnDouble(i int) float64 {
	switch v := s.ColumnValue(i).(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	}
	return 0
}

// ColumnText reads column i as text. NULL reads as "".
func (s *Statement) ColumnText(i int) string {
	switch v := s.ColumnValue(i).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ColumnBlob reads column i as bytes. NULL reads as nil.
func (s *Statement) ColumnBlob(i int) []byte {
	switch v := s.ColumnValue(i).(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	case nil:
		return nil
	default:
		return []byte(s.ColumnText(i))
	}
}
