// Package store is the relational store the mapping engine runs against:
// SQLite through modernc.org/sqlite, exposed as prepare/bind/step/column
// primitives on top of database/sql.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store errors. They are joined with the driver error, so both the sentinel
// and the underlying *sqlite.Error are reachable with errors.Is/As. Nothing
// in this package retries.
var (
	ErrPrepareFailed       = errors.New("prepare failed")
	ErrStepFailed          = errors.New("step failed")
	ErrConstraintViolation = errors.New("constraint violation")
)

// DB is an open SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database. Foreign keys are enforced, which the cascading
// deletes of split tables rely on.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &DB{db: db, path: path}, nil
}

// Path returns the path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Exec runs a statement outside any explicit transaction.
func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return stepError(query, err)
	}
	return nil
}

// Begin starts a transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, stmts: make(map[string]*Statement)}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Tx is a transaction with a prepared-statement cache keyed by SQL text.
// Cached statements live until Commit or Rollback.
type Tx struct {
	tx    *sql.Tx
	stmts map[string]*Statement
}

// Prepare returns the cached statement for query, preparing it on first use.
// A cached statement is reset and its bindings cleared before it is handed
// out again.
func (t *Tx) Prepare(ctx context.Context, query string) (*Statement, error) {
	if s, ok := t.stmts[query]; ok {
		s.ctx = ctx
		if err := s.Reset(); err != nil {
			return nil, err
		}
		s.ClearBindings()
		return s, nil
	}
	st, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPrepareFailed, query, err)
	}
	s := &Statement{ctx: ctx, stmt: st, text: query, query: returnsRows(query)}
	t.stmts[query] = s
	return s, nil
}

// Exec runs a one-off statement in the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, stepError(query, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueryRow runs a one-off single-row query in the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// Query runs a one-off query in the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stepError(query, err)
	}
	return rows, nil
}

// Commit finalizes cached statements and commits.
func (t *Tx) Commit() error {
	t.finalizeAll()
	if err := t.tx.Commit(); err != nil {
		return stepError("COMMIT", err)
	}
	return nil
}

// Rollback finalizes cached statements and rolls back. Rolling back a
// finished transaction is a no-op.
func (t *Tx) Rollback() error {
	t.finalizeAll()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *Tx) finalizeAll() {
	for k, s := range t.stmts {
		_ = s.Finalize()
		delete(t.stmts, k)
	}
}

func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "WITH") ||
		strings.HasPrefix(q, "PRAGMA") || strings.Contains(q, " RETURNING ")
}

// IsConstraint reports whether err is a SQLite constraint failure (any
// extended code of SQLITE_CONSTRAINT).
func IsConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func stepError(query string, err error) error {
	if IsConstraint(err) {
		return fmt.Errorf("%w: %w: %s: %w", ErrStepFailed, ErrConstraintViolation, query, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStepFailed, query, err)
}
