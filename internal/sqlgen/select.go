package sqlgen

import (
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

// SelectMode picks the rows and the class pinning of a select.
type SelectMode int

const (
	// SelectPolymorphic returns instances of the class and its subclasses.
	SelectPolymorphic SelectMode = iota
	// SelectOnly pins the class id as a literal: one statement per class.
	SelectOnly
	// SelectOnlyParam binds the class id as a parameter. The statement text
	// is the same for every class of the hierarchy.
	SelectOnlyParam
)

func (m SelectMode) String() string {
	switch m {
	case SelectPolymorphic:
		return "polymorphic"
	case SelectOnly:
		return "only"
	case SelectOnlyParam:
		return "only-param"
	}
	return fmt.Sprintf("SelectMode(%d)", int(m))
}

// OutputKind classifies select output columns.
type OutputKind int

const (
	OutIdentity OutputKind = iota
	OutClassID
	OutColumn
)

// OutputColumn describes one column of a select's result set.
type OutputColumn struct {
	Kind OutputKind
	// Table and Name locate the physical column. Table is empty for
	// TablePerClass unions, where each branch reads its own table.
	Table string
	Name  string

	// Projection outputs carry the binding they read and the access string
	// that requested them.
	Access    string
	Binding   layout.ColumnBinding
	Component int
}

// Select is a select statement with its result-set layout. The identity is
// always output column 0 and the class id column 1.
type Select struct {
	Statement
	Class   model.ClassID
	Mode    SelectMode
	Columns []OutputColumn

	perClass bool
	keys     map[string]int
}

// Position returns the output position holding component of binding b.
func (q *Select) Position(b layout.ColumnBinding, component int) (int, bool) {
	i, ok := q.keys[outputKey(q.perClass, b, component)]
	return i, ok
}

// outputKey identifies the physical source of a binding component. In a
// shared table two bindings may resolve to the same key; that is what makes
// a generic column shared.
func outputKey(perClass bool, b layout.ColumnBinding, component int) string {
	if b.Kind == layout.BindJSON {
		component = 0
	}
	if perClass {
		return fmt.Sprintf("%d/%s/%d", b.Declaring, b.Property, component)
	}
	return fmt.Sprintf("%d/%s", b.Table, b.Columns[component])
}

func scopeClasses(s *model.Schema, plan *layout.Plan, class model.ClassID, mode SelectMode) []model.ClassID {
	switch mode {
	case SelectOnly:
		return []model.ClassID{class}
	case SelectOnlyParam:
		return s.Hierarchy(plan.Root)
	}
	return s.Hierarchy(class)
}

// BuildSelect returns the select of class instances under mode. With
// byIdentity the identity is bound after any class-id parameter. Rows come
// ordered by identity.
func BuildSelect(s *model.Schema, plan *layout.Plan, class model.ClassID, mode SelectMode, byIdentity bool) (*Select, error) {
	c, _, err := mappedClass(s, plan, class)
	if err != nil {
		return nil, err
	}
	if !plan.UsesClassID() {
		return buildUnionSelect(s, plan, c, mode, byIdentity)
	}

	q := &Select{Class: class, Mode: mode, keys: make(map[string]int)}
	classes := scopeClasses(s, plan, class, mode)
	used := make(map[string]bool)
	tables := make(map[int]bool)
	for _, id := range classes {
		cm := plan.Classes[id]
		for _, ti := range cm.Tables {
			tables[ti] = true
		}
		for _, b := range cm.Bindings {
			for i := range b.Columns {
				used[outputKey(false, b, i)] = true
			}
		}
	}

	primary := plan.Tables[plan.Primary(plan.Root)].Name
	q.Columns = []OutputColumn{
		{Kind: OutIdentity, Table: primary, Name: layout.IDColumn},
		{Kind: OutClassID, Table: primary, Name: layout.ClassIDColumn},
	}
	var joins []string
	for ti := range plan.Tables {
		if !tables[ti] {
			continue
		}
		t := &plan.Tables[ti]
		if t.Name != primary {
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s ON %s = %s",
				layout.Quote(t.Name), qcol(t.Name, layout.IDColumn), qcol(primary, layout.IDColumn)))
		}
		for _, col := range t.Columns {
			key := fmt.Sprintf("%d/%s", ti, col.Name)
			if !used[key] {
				continue
			}
			q.keys[key] = len(q.Columns)
			q.Columns = append(q.Columns, OutputColumn{Kind: OutColumn, Table: t.Name, Name: col.Name})
		}
	}

	exprs := make([]string, len(q.Columns))
	for i, oc := range q.Columns {
		exprs[i] = qcol(oc.Table, oc.Name)
	}
	where, params := hierarchyWhere(s, primary, class, mode, byIdentity)
	q.Table = primary
	q.Params = params
	q.SQL = fmt.Sprintf("SELECT %s FROM %s%s WHERE %s ORDER BY %s",
		strings.Join(exprs, ", "), layout.Quote(primary), joinClause(joins),
		strings.Join(where, " AND "), qcol(primary, layout.IDColumn))
	return q, nil
}

// emptySelect makes q a statement with q's output columns that returns no
// rows, matching what the ClassId filter of the shared-table strategies
// yields for an empty scope.
func emptySelect(q *Select) *Select {
	exprs := make([]string, len(q.Columns))
	for i, oc := range q.Columns {
		exprs[i] = "NULL AS " + layout.Quote(oc.Name)
	}
	q.Params = nil
	q.SQL = fmt.Sprintf("SELECT %s WHERE 0", strings.Join(exprs, ", "))
	return q
}

func joinClause(joins []string) string {
	if len(joins) == 0 {
		return ""
	}
	return " " + strings.Join(joins, " ")
}

func hierarchyWhere(s *model.Schema, primary string, class model.ClassID, mode SelectMode, byIdentity bool) ([]string, []Param) {
	var where []string
	var params []Param
	cid := qcol(primary, layout.ClassIDColumn)
	switch mode {
	case SelectPolymorphic:
		where = append(where, classFilter(cid, concrete(s, class, Polymorphic)))
	case SelectOnly:
		where = append(where, classFilter(cid, concrete(s, class, Only)))
	case SelectOnlyParam:
		where = append(where, cid+" = ?")
		params = append(params, Param{Kind: ParamClassID})
	}
	if byIdentity {
		where = append(where, qcol(primary, layout.IDColumn)+" = ?")
		params = append(params, Param{Kind: ParamIdentity})
	}
	return where, params
}

// buildUnionSelect reads TablePerClass hierarchies: one branch per concrete
// table, combined with UNION ALL. The class id is a literal per branch.
func buildUnionSelect(s *model.Schema, plan *layout.Plan, c *model.ClassDef, mode SelectMode, byIdentity bool) (*Select, error) {
	var classes []model.ClassID
	switch mode {
	case SelectPolymorphic:
		classes = concrete(s, c.ID, Polymorphic)
	case SelectOnly:
		classes = concrete(s, c.ID, Only)
	case SelectOnlyParam:
		classes = concrete(s, plan.Root, Polymorphic)
	}

	q := &Select{Class: c.ID, Mode: mode, perClass: true, keys: make(map[string]int)}
	q.Columns = []OutputColumn{
		{Kind: OutIdentity, Name: layout.IDColumn},
		{Kind: OutClassID, Name: layout.ClassIDColumn},
	}
	if len(classes) == 0 {
		// An abstract class without concrete subclasses has no table to read.
		return emptySelect(q), nil
	}
	for _, id := range classes {
		for _, b := range plan.Classes[id].Bindings {
			for i, col := range b.Columns {
				key := outputKey(true, b, i)
				if _, ok := q.keys[key]; ok {
					continue
				}
				q.keys[key] = len(q.Columns)
				q.Columns = append(q.Columns, OutputColumn{Kind: OutColumn, Name: col})
			}
		}
	}

	branches := make([]string, 0, len(classes))
	for _, id := range classes {
		cm := plan.Classes[id]
		t := plan.Tables[plan.Primary(id)].Name
		exprs := make([]string, len(q.Columns))
		exprs[0] = layout.Quote(layout.IDColumn)
		exprs[1] = fmt.Sprintf("%d AS %s", id, layout.Quote(layout.ClassIDColumn))
		for i := 2; i < len(exprs); i++ {
			exprs[i] = "NULL"
		}
		for _, b := range cm.Bindings {
			for i, col := range b.Columns {
				exprs[q.keys[outputKey(true, b, i)]] = layout.Quote(col)
			}
		}
		var where []string
		if mode == SelectOnlyParam {
			where = append(where, fmt.Sprintf("? = %d", id))
			q.Params = append(q.Params, Param{Kind: ParamClassID})
		}
		if byIdentity {
			where = append(where, layout.Quote(layout.IDColumn)+" = ?")
			q.Params = append(q.Params, Param{Kind: ParamIdentity})
		}
		branch := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), layout.Quote(t))
		if len(where) > 0 {
			branch += " WHERE " + strings.Join(where, " AND ")
		}
		branches = append(branches, branch)
	}
	if len(classes) == 1 {
		q.Table = plan.Tables[plan.Primary(classes[0])].Name
	}
	q.SQL = strings.Join(branches, " UNION ALL ") + " ORDER BY 1"
	return q, nil
}
