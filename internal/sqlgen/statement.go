// Package sqlgen renders parameterized SQL for class-level reads and writes
// from a layout.Plan.
//
// Builders are pure: they read the schema and the plan and return statement
// text plus a description of every parameter and output column. The same
// inputs always yield the same text, so callers can cache prepared statements
// keyed by SQL.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

// ClassNotMappedError is returned when a statement is requested for a class
// that has no physical representation in the plan.
type ClassNotMappedError struct {
	Class  string
	Reason string
}

func (e *ClassNotMappedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("class %q is not mapped", e.Class)
	}
	return fmt.Sprintf("class %q is not mapped: %s", e.Class, e.Reason)
}

// UnsupportedPropertyTypeError is returned when a property has no storage
// under the hierarchy's mapping strategy.
type UnsupportedPropertyTypeError struct {
	Class    string
	Property string
	Type     model.PropertyType
}

func (e *UnsupportedPropertyTypeError) Error() string {
	return fmt.Sprintf("class %q: property %q of type %s has no storage under this mapping", e.Class, e.Property, e.Type)
}

// ParamKind says where the value of a statement parameter comes from.
type ParamKind int

const (
	// ParamIdentity is the instance id.
	ParamIdentity ParamKind = iota
	// ParamValue is one component of a property value.
	ParamValue
	// ParamDocument is the JSON overflow document built from Members.
	ParamDocument
	// ParamClassID is the class id of generic ONLY selects.
	ParamClassID
)

// Param describes one positional parameter.
type Param struct {
	Kind      ParamKind
	Binding   layout.ColumnBinding
	Component int
	Members   []layout.ColumnBinding
}

// Statement is SQL text with its parameters in positional order.
type Statement struct {
	SQL    string
	Table  string
	Params []Param
}

// Scope selects the rows of a class-level delete or select.
type Scope int

const (
	// Polymorphic covers the class and all of its subclasses.
	Polymorphic Scope = iota
	// Only covers instances of exactly the class.
	Only
)

func (s Scope) String() string {
	if s == Only {
		return "only"
	}
	return "polymorphic"
}

func mappedClass(s *model.Schema, plan *layout.Plan, id model.ClassID) (*model.ClassDef, *layout.ClassMap, error) {
	c := s.Class(id)
	if c == nil {
		return nil, nil, &ClassNotMappedError{Class: fmt.Sprintf("#%d", id), Reason: "unknown class"}
	}
	cm, ok := plan.Class(id)
	if !ok {
		return nil, nil, &ClassNotMappedError{Class: c.Name, Reason: "not part of this hierarchy"}
	}
	return c, cm, nil
}

// concrete returns the non-abstract classes of scope rooted at id, ascending.
func concrete(s *model.Schema, id model.ClassID, scope Scope) []model.ClassID {
	if scope == Only {
		if s.Class(id).Abstract {
			return nil
		}
		return []model.ClassID{id}
	}
	var out []model.ClassID
	for _, v := range s.ConcreteSubtree(id).ToArray() {
		out = append(out, model.ClassID(v))
	}
	return out
}

// classFilter renders a ClassId predicate with literal ids.
func classFilter(col string, ids []model.ClassID) string {
	switch len(ids) {
	case 0:
		return col + " IS NULL"
	case 1:
		return fmt.Sprintf("%s = %d", col, ids[0])
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(parts, ", "))
}

func qcol(table, col string) string {
	return layout.Quote(table) + "." + layout.Quote(col)
}

// tableValues lists the value columns a class writes into table ti, with
// their parameters. JSON bindings collapse into the overflow column.
func tableValues(cm *layout.ClassMap, ti int) ([]string, []Param) {
	var cols []string
	var params []Param
	var members []layout.ColumnBinding
	for _, b := range cm.Bindings {
		if b.Table != ti {
			continue
		}
		if b.Kind == layout.BindJSON {
			members = append(members, b)
			continue
		}
		for i, c := range b.Columns {
			cols = append(cols, c)
			params = append(params, Param{Kind: ParamValue, Binding: b, Component: i})
		}
	}
	if len(members) > 0 {
		cols = append(cols, layout.OverflowColumn)
		params = append(params, Param{Kind: ParamDocument, Members: members})
	}
	return cols, params
}
