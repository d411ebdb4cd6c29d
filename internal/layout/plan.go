// Package layout turns a class hierarchy into a physical table layout.
//
// Resolve computes a Plan for one hierarchy root: which tables back which
// classes and, for every property, the ColumnBinding that says where its
// value lives. A Plan is immutable once returned; schema upgrades resolve a
// new Plan seeded with the previous one, keeping every existing binding.
package layout

import (
	"fmt"
	"sort"

	"github.com/agentic-research/classmap/internal/model"
)

// Well-known column names.
const (
	IDColumn       = "Id"
	ClassIDColumn  = "ClassId"
	OverflowColumn = "overflow"
)

// TableKind classifies physical tables.
type TableKind int

const (
	TablePrimary TableKind = iota
	TableDomain
	TableOverflow
)

func (k TableKind) String() string {
	switch k {
	case TablePrimary:
		return "primary"
	case TableDomain:
		return "domain"
	case TableOverflow:
		return "overflow"
	}
	return fmt.Sprintf("TableKind(%d)", int(k))
}

// ColumnKind classifies physical columns.
type ColumnKind int

const (
	ColumnID ColumnKind = iota
	ColumnClassID
	ColumnData
	ColumnShared
	ColumnOverflowDoc
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnID:
		return "id"
	case ColumnClassID:
		return "classid"
	case ColumnData:
		return "data"
	case ColumnShared:
		return "shared"
	case ColumnOverflowDoc:
		return "overflow"
	}
	return fmt.Sprintf("ColumnKind(%d)", int(k))
}

// BindingKind says how a property value is addressed.
type BindingKind int

const (
	// BindDirect: a column owned by exactly one property.
	BindDirect BindingKind = iota
	// BindShared: a generic ps<N> column whose meaning depends on ClassId.
	BindShared
	// BindJSON: a member of the table's overflow JSON document.
	BindJSON
)

func (k BindingKind) String() string {
	switch k {
	case BindDirect:
		return "direct"
	case BindShared:
		return "shared-generic"
	case BindJSON:
		return "json-overflow"
	}
	return fmt.Sprintf("BindingKind(%d)", int(k))
}

// Column is one physical column.
type Column struct {
	Name string
	// Type is the declared SQL type; empty for generic columns, which take
	// whatever storage class is bound.
	Type string
	Kind ColumnKind
}

// Table is one physical table.
type Table struct {
	Name string
	Kind TableKind
	// Tier is 0 for primary and domain tables, 1 and 2 for overflow tiers.
	Tier int
	// Parent is the index of the table whose Id this table's Id references,
	// or -1 for primary tables.
	Parent int
	// Owner is the class the table is named after.
	Owner      model.ClassID
	HasClassID bool
	Columns    []Column
}

// HasColumn reports whether the table declares name.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ColumnBinding places one property.
type ColumnBinding struct {
	Property  string
	Type      model.PropertyType
	Elem      model.PropertyType
	Declaring model.ClassID
	Kind      BindingKind
	// Table indexes Plan.Tables. For JSON bindings it is the table holding
	// the overflow column.
	Table int
	// Columns holds one column per component (X, Y, Z for points); JSON
	// bindings name the overflow column.
	Columns []string
	// Slot is the first generic slot of a shared binding, 1-based across
	// all tiers of its pool. Zero for other kinds.
	Slot int
}

// Member is the JSON member name of a JSON binding.
func (b ColumnBinding) Member() string {
	return b.Property
}

// ClassMap is the per-class view of a plan.
type ClassMap struct {
	Class model.ClassID
	// Tables holds the indexes of every table a row of this class spans,
	// ascending, which is parent-before-child order.
	Tables []int
	// Bindings follow model.Schema.GetProperties(class, true) order.
	Bindings []ColumnBinding
	// Unsupported lists properties without a physical representation.
	Unsupported []string
}

// Binding returns the binding of a property by name.
func (m *ClassMap) Binding(prop string) (ColumnBinding, bool) {
	for _, b := range m.Bindings {
		if b.Property == prop {
			return b, true
		}
	}
	return ColumnBinding{}, false
}

// Plan is the table layout of one class hierarchy.
type Plan struct {
	Root       model.ClassID
	Annotation model.MappingAnnotation
	Tables     []Table
	Classes    map[model.ClassID]*ClassMap
}

// Strategy is shorthand for p.Annotation.Strategy.
func (p *Plan) Strategy() model.Strategy {
	return p.Annotation.Strategy
}

// Class returns the class map of id.
func (p *Plan) Class(id model.ClassID) (*ClassMap, bool) {
	m, ok := p.Classes[id]
	return m, ok
}

// TableIndex returns the index of the named table, or -1.
func (p *Plan) TableIndex(name string) int {
	for i := range p.Tables {
		if p.Tables[i].Name == name {
			return i
		}
	}
	return -1
}

// Primary returns the index of the table holding the identity row of id.
func (p *Plan) Primary(id model.ClassID) int {
	m, ok := p.Classes[id]
	if !ok || len(m.Tables) == 0 {
		return -1
	}
	return m.Tables[0]
}

// UsesClassID reports whether rows are routed by a ClassId column.
func (p *Plan) UsesClassID() bool {
	return p.Annotation.Strategy != model.TablePerClass
}

// ClassIDs returns the mapped class IDs in ascending order.
func (p *Plan) ClassIDs() []model.ClassID {
	ids := make([]model.ClassID, 0, len(p.Classes))
	for id := range p.Classes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// clone deep-copies p so a merge never mutates a published plan.
func (p *Plan) clone() *Plan {
	c := &Plan{
		Root:       p.Root,
		Annotation: p.Annotation,
		Tables:     make([]Table, len(p.Tables)),
		Classes:    make(map[model.ClassID]*ClassMap, len(p.Classes)),
	}
	for i, t := range p.Tables {
		t.Columns = append([]Column(nil), t.Columns...)
		c.Tables[i] = t
	}
	for id, m := range p.Classes {
		cm := &ClassMap{
			Class:       m.Class,
			Tables:      append([]int(nil), m.Tables...),
			Bindings:    make([]ColumnBinding, len(m.Bindings)),
			Unsupported: append([]string(nil), m.Unsupported...),
		}
		for i, b := range m.Bindings {
			b.Columns = append([]string(nil), b.Columns...)
			cm.Bindings[i] = b
		}
		c.Classes[id] = cm
	}
	return c
}
