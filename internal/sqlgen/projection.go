package sqlgen

import (
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

// Access is a parsed access string: a property name, optionally followed by
// a point component ("Origin.X").
type Access struct {
	Property  string
	Component string
}

// ParseAccess parses "Prop" or "Prop.x". Components are matched
// case-insensitively and normalized to upper case.
func ParseAccess(s string) (Access, error) {
	prop, comp, found := strings.Cut(s, ".")
	if prop == "" || (found && comp == "") {
		return Access{}, fmt.Errorf("invalid access string %q", s)
	}
	return Access{Property: prop, Component: strings.ToUpper(comp)}, nil
}

func (a Access) String() string {
	if a.Component == "" {
		return a.Property
	}
	return a.Property + "." + a.Component
}

// resolveAccess expands an access string into (binding, component) pairs:
// one per point component for whole points, a single pair otherwise.
func resolveAccess(s *model.Schema, c *model.ClassDef, cm *layout.ClassMap, acc Access) (layout.ColumnBinding, []int, error) {
	b, ok := cm.Binding(acc.Property)
	if !ok {
		if p, found := s.FindProperty(c.ID, acc.Property); found {
			return b, nil, &UnsupportedPropertyTypeError{Class: c.Name, Property: p.Name, Type: p.Type}
		}
		return b, nil, fmt.Errorf("class %q: %w: %s", c.Name, model.ErrPropertyNotFound, acc.Property)
	}
	comps := b.Type.Components()
	if acc.Component == "" {
		if comps == nil {
			return b, []int{0}, nil
		}
		out := make([]int, len(comps))
		for i := range comps {
			out[i] = i
		}
		return b, out, nil
	}
	for i, name := range comps {
		if name == acc.Component {
			return b, []int{i}, nil
		}
	}
	return b, nil, fmt.Errorf("class %q: property %s has no component %q", c.Name, acc.Property, acc.Component)
}

// jsonPath is the json_extract path of a binding component.
func jsonPath(b layout.ColumnBinding, component int) string {
	comps := b.Type.Components()
	if comps == nil {
		return "$." + b.Member()
	}
	return "$." + b.Member() + "." + comps[component]
}

func projectionExpr(table string, b layout.ColumnBinding, component int) string {
	if b.Kind == layout.BindJSON {
		return fmt.Sprintf("json_extract(%s, '%s')", qcol(table, layout.OverflowColumn), jsonPath(b, component))
	}
	return qcol(table, b.Columns[component])
}

// BuildProjection selects individual properties or point components of class
// instances, e.g. []string{"Code", "Origin.X"}. Output columns follow the
// access strings; a whole point expands into one column per component.
func BuildProjection(s *model.Schema, plan *layout.Plan, class model.ClassID, scope Scope, access []string, byIdentity bool) (*Select, error) {
	c, cm, err := mappedClass(s, plan, class)
	if err != nil {
		return nil, err
	}
	accs := make([]Access, len(access))
	for i, a := range access {
		if accs[i], err = ParseAccess(a); err != nil {
			return nil, err
		}
	}
	mode := SelectPolymorphic
	if scope == Only {
		mode = SelectOnly
	}
	q := &Select{Class: class, Mode: mode, keys: make(map[string]int)}
	q.Columns = []OutputColumn{
		{Kind: OutIdentity, Name: layout.IDColumn},
		{Kind: OutClassID, Name: layout.ClassIDColumn},
	}

	if !plan.UsesClassID() {
		return buildUnionProjection(s, plan, c, cm, scope, accs, byIdentity, q)
	}

	primary := plan.Tables[plan.Primary(plan.Root)].Name
	q.Columns[0].Table, q.Columns[1].Table = primary, primary
	exprs := []string{qcol(primary, layout.IDColumn), qcol(primary, layout.ClassIDColumn)}
	need := make(map[int]bool)
	for _, acc := range accs {
		b, comps, err := resolveAccess(s, c, cm, acc)
		if err != nil {
			return nil, err
		}
		t := plan.Tables[b.Table].Name
		need[b.Table] = true
		for _, i := range comps {
			q.Columns = append(q.Columns, OutputColumn{
				Kind: OutColumn, Table: t, Name: b.Columns[min(i, len(b.Columns)-1)],
				Access: accessName(acc, b, i), Binding: b, Component: i,
			})
			exprs = append(exprs, projectionExpr(t, b, i))
		}
	}
	var joins []string
	for ti := range plan.Tables {
		t := plan.Tables[ti].Name
		if need[ti] && t != primary {
			joins = append(joins, fmt.Sprintf("LEFT JOIN %s ON %s = %s",
				layout.Quote(t), qcol(t, layout.IDColumn), qcol(primary, layout.IDColumn)))
		}
	}
	where, params := hierarchyWhere(s, primary, class, mode, byIdentity)
	q.Table = primary
	q.Params = params
	q.SQL = fmt.Sprintf("SELECT %s FROM %s%s WHERE %s ORDER BY %s",
		strings.Join(exprs, ", "), layout.Quote(primary), joinClause(joins),
		strings.Join(where, " AND "), qcol(primary, layout.IDColumn))
	return q, nil
}

func accessName(acc Access, b layout.ColumnBinding, component int) string {
	if comps := b.Type.Components(); comps != nil {
		return acc.Property + "." + comps[component]
	}
	return acc.Property
}

func buildUnionProjection(s *model.Schema, plan *layout.Plan, c *model.ClassDef, cm *layout.ClassMap, scope Scope, accs []Access, byIdentity bool, q *Select) (*Select, error) {
	q.perClass = true
	classes := concrete(s, c.ID, scope)
	if len(classes) == 0 {
		for _, acc := range accs {
			b, comps, err := resolveAccess(s, c, cm, acc)
			if err != nil {
				return nil, err
			}
			for _, i := range comps {
				q.Columns = append(q.Columns, OutputColumn{
					Kind: OutColumn, Name: b.Columns[min(i, len(b.Columns)-1)],
					Access: accessName(acc, b, i), Binding: b, Component: i,
				})
			}
		}
		return emptySelect(q), nil
	}
	branches := make([]string, 0, len(classes))
	for n, id := range classes {
		cm := plan.Classes[id]
		t := plan.Tables[plan.Primary(id)].Name
		exprs := []string{layout.Quote(layout.IDColumn), fmt.Sprintf("%d AS %s", id, layout.Quote(layout.ClassIDColumn))}
		for _, acc := range accs {
			b, comps, err := resolveAccess(s, s.Class(id), cm, acc)
			if err != nil {
				return nil, err
			}
			for _, i := range comps {
				if n == 0 {
					q.Columns = append(q.Columns, OutputColumn{
						Kind: OutColumn, Name: b.Columns[i],
						Access: accessName(acc, b, i), Binding: b, Component: i,
					})
				}
				exprs = append(exprs, layout.Quote(b.Columns[i]))
			}
		}
		branch := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), layout.Quote(t))
		if byIdentity {
			branch += " WHERE " + layout.Quote(layout.IDColumn) + " = ?"
			q.Params = append(q.Params, Param{Kind: ParamIdentity})
		}
		branches = append(branches, branch)
	}
	q.SQL = strings.Join(branches, " UNION ALL ") + " ORDER BY 1"
	return q, nil
}
