package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/agentic-research/classmap/internal/catalog"
	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/materialize"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
	"github.com/agentic-research/classmap/internal/store"
)

// Insert writes a new instance of class and returns its id. A zero id is
// drawn from the catalog sequence; a caller-chosen id must be positive and
// moves the sequence past it.
func (e *Engine) Insert(ctx context.Context, class string, id int64, values materialize.Values) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return 0, err
	}
	err = e.inTx(ctx, func(tx *store.Tx) error {
		id, err = e.insert(ctx, tx, plan, cid, id, values)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", class, err)
	}
	return id, nil
}

// InsertBatch writes every element of rows as a new instance of class with
// a sequence-assigned id, all in one transaction. Either all rows are
// written or none.
func (e *Engine) InsertBatch(ctx context.Context, class string, rows []materialize.Values) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(rows))
	err = e.inTx(ctx, func(tx *store.Tx) error {
		for i, v := range rows {
			id, err := e.insert(ctx, tx, plan, cid, 0, v)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", class, err)
	}
	e.log.Debug().Str("class", class).Int("rows", len(ids)).Msg("batch inserted")
	return ids, nil
}

func (e *Engine) insert(ctx context.Context, tx *store.Tx, plan *layout.Plan, class model.ClassID, id int64, values materialize.Values) (int64, error) {
	if err := materialize.Check(e.schema, plan.Classes[class], values); err != nil {
		return 0, err
	}
	stmts, err := sqlgen.BuildInsert(e.schema, plan, class)
	if err != nil {
		return 0, err
	}
	switch {
	case id < 0:
		return 0, fmt.Errorf("instance id %d must be positive", id)
	case id == 0:
		if id, err = catalog.NextID(ctx, tx); err != nil {
			return 0, err
		}
	default:
		if err := e.idFree(ctx, tx, plan, class, id); err != nil {
			return 0, err
		}
		if err := catalog.ReserveID(ctx, tx, id); err != nil {
			return 0, err
		}
	}
	for i := range stmts {
		if _, err := e.run(ctx, tx, &stmts[i], id, class, values); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Update replaces every property value of the instance id of exactly class.
// Properties absent from values become NULL.
func (e *Engine) Update(ctx context.Context, class string, id int64, values materialize.Values) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return err
	}
	if err := materialize.Check(e.schema, plan.Classes[cid], values); err != nil {
		return fmt.Errorf("update %s: %w", class, err)
	}
	updates, err := sqlgen.BuildUpdate(e.schema, plan, cid, true)
	if err != nil {
		return fmt.Errorf("update %s: %w", class, err)
	}
	inserts, err := sqlgen.BuildInsert(e.schema, plan, cid)
	if err != nil {
		return fmt.Errorf("update %s: %w", class, err)
	}

	err = e.inTx(ctx, func(tx *store.Tx) error {
		if err := e.exists(ctx, tx, plan, cid, id); err != nil {
			return err
		}
		primary := plan.Tables[plan.Primary(cid)].Name
		for i := range updates {
			n, err := e.run(ctx, tx, &updates[i], id, cid, values)
			if err != nil {
				return err
			}
			if n > 0 || updates[i].Table == primary {
				continue
			}
			// The table was added by a later import than the instance.
			for j := range inserts {
				if inserts[j].Table == updates[i].Table {
					if _, err := e.run(ctx, tx, &inserts[j], id, cid, values); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s %d: %w", class, id, err)
	}
	return nil
}

// idFree checks that no other concrete table of a TablePerClass hierarchy
// holds id. Each table only enforces its own primary key.
func (e *Engine) idFree(ctx context.Context, tx *store.Tx, plan *layout.Plan, class model.ClassID, id int64) error {
	if plan.UsesClassID() {
		return nil
	}
	for _, other := range e.schema.ConcreteSubtree(plan.Root).ToArray() {
		if model.ClassID(other) == class {
			continue
		}
		t := layout.Quote(plan.Tables[plan.Primary(model.ClassID(other))].Name)
		var one int
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", t, layout.Quote(layout.IDColumn)), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: instance id %d is taken by a %s", store.ErrConstraintViolation, id, e.schema.Class(model.ClassID(other)).Name)
	}
	return nil
}

// exists checks that id is an instance of exactly class.
func (e *Engine) exists(ctx context.Context, tx *store.Tx, plan *layout.Plan, class model.ClassID, id int64) error {
	t := layout.Quote(plan.Tables[plan.Primary(class)].Name)
	idCol := layout.Quote(layout.IDColumn)
	if !plan.UsesClassID() {
		var one int
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", t, idCol), id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var got int64
	err := tx.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		layout.Quote(layout.ClassIDColumn), t, idCol), id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.ClassID(got) != class {
		return fmt.Errorf("%w: it is a %s", ErrNotFound, e.schema.Class(model.ClassID(got)).Name)
	}
	return nil
}

// Delete removes the instance id of class or of one of its subclasses and
// reports whether it existed. Rows in joined tables go with it.
func (e *Engine) Delete(ctx context.Context, class string, id int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return false, err
	}
	stmts, err := sqlgen.BuildDelete(e.schema, plan, cid, sqlgen.Polymorphic, true)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", class, err)
	}
	var n int64
	err = e.inTx(ctx, func(tx *store.Tx) error {
		for i := range stmts {
			c, err := e.run(ctx, tx, &stmts[i], id, cid, nil)
			if err != nil {
				return err
			}
			n += c
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete %s %d: %w", class, id, err)
	}
	return n > 0, nil
}

// DeleteAll removes every instance of class in scope and returns how many
// were removed.
func (e *Engine) DeleteAll(ctx context.Context, class string, scope sqlgen.Scope) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return 0, err
	}
	stmts, err := sqlgen.BuildDelete(e.schema, plan, cid, scope, false)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", class, err)
	}
	var n int64
	err = e.inTx(ctx, func(tx *store.Tx) error {
		for i := range stmts {
			c, err := e.run(ctx, tx, &stmts[i], 0, cid, nil)
			if err != nil {
				return err
			}
			n += c
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", class, err)
	}
	e.log.Debug().Str("class", class).Stringer("scope", scope).Int64("rows", n).Msg("deleted")
	return n, nil
}

// run prepares, binds and executes a write statement and returns the
// number of rows it changed.
func (e *Engine) run(ctx context.Context, tx *store.Tx, st *sqlgen.Statement, id int64, class model.ClassID, values materialize.Values) (int64, error) {
	ps, err := e.prepare(ctx, tx, st, id, class, values)
	if err != nil {
		return 0, err
	}
	if _, err := ps.Step(); err != nil {
		return 0, err
	}
	return ps.Changes(), nil
}

func (e *Engine) prepare(ctx context.Context, tx *store.Tx, st *sqlgen.Statement, id int64, class model.ClassID, values materialize.Values) (*store.Statement, error) {
	e.lint(st.SQL)
	ps, err := tx.Prepare(ctx, st.SQL)
	if err != nil {
		return nil, err
	}
	if err := materialize.Bind(ps, st, id, class, values); err != nil {
		return nil, err
	}
	return ps, nil
}
