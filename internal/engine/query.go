package engine

import (
	"context"
	"fmt"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/materialize"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
	"github.com/agentic-research/classmap/internal/store"
)

// Get returns the instance id of class or of one of its subclasses. The
// instance carries the properties of its actual class.
func (e *Engine) Get(ctx context.Context, class string, id int64) (*materialize.Instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return nil, err
	}
	q, err := sqlgen.BuildSelect(e.schema, plan, cid, sqlgen.SelectPolymorphic, true)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", class, err)
	}
	out, err := e.collect(ctx, plan, q, id, cid)
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", class, id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("get %s %d: %w", class, id, ErrNotFound)
	}
	return out[0], nil
}

// Query returns the instances of class under mode, ordered by id.
// SelectOnlyParam runs the hierarchy-wide statement with the class id bound.
// An abstract class has no instances of its own.
func (e *Engine) Query(ctx context.Context, class string, mode sqlgen.SelectMode) ([]*materialize.Instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return nil, err
	}
	if mode != sqlgen.SelectPolymorphic && e.schema.Class(cid).Abstract {
		return nil, nil
	}
	q, err := sqlgen.BuildSelect(e.schema, plan, cid, mode, false)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class, err)
	}
	out, err := e.collect(ctx, plan, q, 0, cid)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class, err)
	}
	return out, nil
}

// QueryOnlyGeneric is Query with SelectOnlyParam: one statement text per
// hierarchy, reused from the statement cache for every class.
func (e *Engine) QueryOnlyGeneric(ctx context.Context, class string) ([]*materialize.Instance, error) {
	return e.Query(ctx, class, sqlgen.SelectOnlyParam)
}

func (e *Engine) collect(ctx context.Context, plan *layout.Plan, q *sqlgen.Select, id int64, class model.ClassID) ([]*materialize.Instance, error) {
	var out []*materialize.Instance
	err := e.inTx(ctx, func(tx *store.Tx) error {
		ps, err := e.prepare(ctx, tx, &q.Statement, id, class, nil)
		if err != nil {
			return err
		}
		for {
			res, err := ps.Step()
			if err != nil {
				return err
			}
			if res == store.Done {
				return nil
			}
			inst, err := materialize.Read(ps, q, plan)
			if err != nil {
				return err
			}
			out = append(out, inst)
		}
	})
	return out, err
}

// Projection is one row of a projection query.
type Projection struct {
	ID    int64
	Class model.ClassID
	// Values holds one value per projected component, in access order.
	Values []any
}

// Project evaluates access strings such as "Origin.X" over the instances
// of class in scope.
func (e *Engine) Project(ctx context.Context, class string, scope sqlgen.Scope, access []string) ([]Projection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return nil, err
	}
	q, err := sqlgen.BuildProjection(e.schema, plan, cid, scope, access, false)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", class, err)
	}
	var out []Projection
	err = e.inTx(ctx, func(tx *store.Tx) error {
		ps, err := e.prepare(ctx, tx, &q.Statement, 0, cid, nil)
		if err != nil {
			return err
		}
		for {
			res, err := ps.Step()
			if err != nil {
				return err
			}
			if res == store.Done {
				return nil
			}
			vals, err := materialize.ReadProjection(ps, q)
			if err != nil {
				return err
			}
			out = append(out, Projection{
				ID:     ps.ColumnInt64(0),
				Class:  model.ClassID(ps.ColumnInt64(1)),
				Values: vals,
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", class, err)
	}
	return out, nil
}

// ClassSQL is the statement text the engine runs for one class.
type ClassSQL struct {
	Insert      []string
	Update      []string
	Delete      []string
	Select      string
	SelectOnly  string
	SelectParam string
}

// Statements renders the statements of class without running them.
// Abstract classes have no insert, update or exact-class select statements.
func (e *Engine) Statements(class string) (*ClassSQL, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cid, plan, err := e.mapping(class)
	if err != nil {
		return nil, err
	}
	out := &ClassSQL{}
	if !e.schema.Class(cid).Abstract {
		ins, err := sqlgen.BuildInsert(e.schema, plan, cid)
		if err != nil {
			return nil, err
		}
		upd, err := sqlgen.BuildUpdate(e.schema, plan, cid, true)
		if err != nil {
			return nil, err
		}
		out.Insert, out.Update = texts(ins), texts(upd)
	}
	del, err := sqlgen.BuildDelete(e.schema, plan, cid, sqlgen.Polymorphic, true)
	if err != nil {
		return nil, err
	}
	out.Delete = texts(del)
	selects := map[sqlgen.SelectMode]*string{sqlgen.SelectPolymorphic: &out.Select}
	if !e.schema.Class(cid).Abstract {
		selects[sqlgen.SelectOnly] = &out.SelectOnly
		selects[sqlgen.SelectOnlyParam] = &out.SelectParam
	}
	for mode, dst := range selects {
		q, err := sqlgen.BuildSelect(e.schema, plan, cid, mode, false)
		if err != nil {
			return nil, err
		}
		*dst = q.SQL
	}
	return out, nil
}

func texts(stmts []sqlgen.Statement) []string {
	out := make([]string, len(stmts))
	for i, st := range stmts {
		out[i] = st.SQL
	}
	return out
}
