// Package engine is the entry point of the mapping engine. It owns the
// database, the current schema and one layout plan per hierarchy root, and
// turns class-level operations into prepared statements against the store.
//
// Readers share a read lock; schema imports and writes take the write lock.
// Every write runs in a single transaction, primary table first.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentic-research/classmap/api"
	"github.com/agentic-research/classmap/internal/catalog"
	"github.com/agentic-research/classmap/internal/config"
	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlcheck"
	"github.com/agentic-research/classmap/internal/store"
)

var (
	// ErrNoSchema is returned by class operations before any import.
	ErrNoSchema = errors.New("no schema imported")
	// ErrNotFound is returned when no instance of the class has the id.
	ErrNotFound = errors.New("instance not found")
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSQLValidation overrides Config.ValidateSQL.
func WithSQLValidation(on bool) Option {
	return func(e *Engine) { e.validate = on }
}

// Engine maps class instances onto the tables of one database.
type Engine struct {
	mu       sync.RWMutex
	db       *store.DB
	cfg      config.Config
	log      zerolog.Logger
	validate bool
	linted   sync.Map // SQL text -> lint error (nil when clean)

	schema *model.Schema
	plans  map[model.ClassID]*layout.Plan
}

// Open opens the database of cfg, creating the catalog on first use, and
// reloads the schema and plans stored in it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: *cfg, log: zerolog.Nop(), validate: cfg.ValidateSQL}
	for _, o := range opts {
		o(e)
	}

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	e.db = db
	err = e.inTx(ctx, func(tx *store.Tx) error {
		if err := catalog.Ensure(ctx, tx); err != nil {
			return err
		}
		e.schema, e.plans, err = catalog.Load(ctx, tx)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if e.plans == nil {
		e.plans = make(map[model.ClassID]*layout.Plan)
	}
	ev := e.log.Info().Str("db", cfg.DBPath)
	if e.schema != nil {
		ev = ev.Str("schema", e.schema.Name).Int("classes", e.schema.Len())
	}
	ev.Msg("engine opened")
	return e, nil
}

// Close closes the database.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Close()
}

// Schema returns the current schema, nil before the first import. The
// returned schema must not be modified.
func (e *Engine) Schema() *model.Schema {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schema
}

// Plan returns the layout plan of the hierarchy class belongs to.
func (e *Engine) Plan(class string) (*layout.Plan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, plan, err := e.mapping(class)
	return plan, err
}

// ImportResult describes a committed schema import.
type ImportResult struct {
	ID      string
	Classes int
	// DDL holds the statements the import executed, in order.
	DDL []string
}

// ImportSchema applies doc to the schema stored in the database: new
// classes are mapped, existing ones may append properties. The catalog is
// re-read under the import lock, so imports made by other processes since
// Open are kept. Tables, columns and catalog rows are written in one
// transaction, so a failed import leaves the database and the engine as
// they were.
func (e *Engine) ImportSchema(ctx context.Context, doc *api.Schema) (*ImportResult, error) {
	if path := e.cfg.SchemaLock(); path != "" {
		lock, err := catalog.Acquire(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Release() }()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		next  *model.Schema
		plans map[model.ClassID]*layout.Plan
		res   = &ImportResult{}
	)
	err := e.inTx(ctx, func(tx *store.Tx) error {
		// Another process may have imported since this engine loaded the
		// catalog. The stored catalog is the base, never the cached state.
		cur, prevPlans, err := catalog.Load(ctx, tx)
		if err != nil {
			return err
		}
		if next, err = model.Apply(cur, doc); err != nil {
			return err
		}
		plans = make(map[model.ClassID]*layout.Plan, len(prevPlans))
		for _, root := range next.Roots() {
			prev := prevPlans[root]
			plan, err := layout.Resolve(next, root, prev)
			if err != nil {
				return err
			}
			plans[root] = plan
			res.DDL = append(res.DDL, layout.DDL(plan, prev)...)
			e.log.Debug().
				Str("root", next.Class(root).Name).
				Stringer("strategy", plan.Strategy()).
				Int("tables", len(plan.Tables)).
				Msg("plan resolved")
		}

		for _, q := range res.DDL {
			e.lint(q)
			e.log.Debug().Str("sql", q).Msg("ddl")
			if _, err := tx.Exec(ctx, q); err != nil {
				return err
			}
		}
		if err := catalog.Save(ctx, tx, next, plans); err != nil {
			return err
		}
		res.Classes = next.Len()
		res.ID, err = catalog.RecordImport(ctx, tx, next.Name, next.Len(), len(res.DDL))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("import schema %s: %w", doc.Name, err)
	}
	e.schema, e.plans = next, plans
	e.log.Info().
		Str("schema", next.Name).
		Str("import", res.ID).
		Int("classes", res.Classes).
		Int("statements", len(res.DDL)).
		Msg("schema imported")
	return res, nil
}

// Reload replaces the cached schema and plans with the catalog, picking up
// imports made by other processes.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var (
		s     *model.Schema
		plans map[model.ClassID]*layout.Plan
	)
	err := e.inTx(ctx, func(tx *store.Tx) error {
		var err error
		s, plans, err = catalog.Load(ctx, tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	if plans == nil {
		plans = make(map[model.ClassID]*layout.Plan)
	}
	e.schema, e.plans = s, plans
	return nil
}

// Imports returns the schema-import history, oldest first.
func (e *Engine) Imports(ctx context.Context) ([]catalog.Import, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []catalog.Import
	err := e.inTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = catalog.Imports(ctx, tx)
		return err
	})
	return out, err
}

// mapping resolves a class name to its id and hierarchy plan. Callers hold
// e.mu.
func (e *Engine) mapping(class string) (model.ClassID, *layout.Plan, error) {
	if e.schema == nil {
		return 0, nil, ErrNoSchema
	}
	id, err := e.schema.MustLookup(class)
	if err != nil {
		return 0, nil, err
	}
	return id, e.plans[e.schema.Root(id)], nil
}

func (e *Engine) inTx(ctx context.Context, fn func(*store.Tx) error) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lint runs the SQL linter once per statement text. Findings are logged,
// never fatal: the grammar does not know every SQLite extension.
func (e *Engine) lint(q string) {
	if !e.validate {
		return
	}
	if _, seen := e.linted.Load(q); seen {
		return
	}
	err := sqlcheck.Validate(q)
	e.linted.Store(q, err)
	if err != nil {
		e.log.Warn().Err(err).Msg("generated SQL failed lint")
	}
}
