package layout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agentic-research/classmap/internal/model"
)

// TableName returns the physical table name of a class: <alias>_<Class>.
func TableName(s *model.Schema, id model.ClassID) string {
	return s.Alias + "_" + s.Class(id).Name
}

// Resolve computes the table layout of the hierarchy rooted at root.
//
// With a nil prev the plan is built from scratch. Otherwise prev must be the
// plan of the same root under the same annotation; every binding and table
// of prev is kept as is and only properties and classes unknown to prev are
// placed. Resolving an unchanged schema against its own plan returns an
// equal plan.
func Resolve(s *model.Schema, root model.ClassID, prev *Plan) (*Plan, error) {
	rc := s.Class(root)
	if rc == nil {
		return nil, fmt.Errorf("resolve: %w: id %d", model.ErrClassNotFound, root)
	}
	if rc.Base != 0 {
		return nil, fmt.Errorf("resolve: class %q is not a hierarchy root", rc.Name)
	}
	ann := s.Annotation(root)

	var plan *Plan
	if prev != nil {
		if prev.Root != root || prev.Annotation != ann {
			return nil, &model.IncompatibleUpgradeError{Class: rc.Name, Reason: "mapping of an existing hierarchy cannot change"}
		}
		plan = prev.clone()
	} else {
		plan = &Plan{Root: root, Annotation: ann, Classes: make(map[model.ClassID]*ClassMap)}
	}

	a := newAllocator(s, plan)
	var err error
	switch ann.Strategy {
	case model.TablePerClass:
		err = resolvePerClass(a, s, root)
	case model.TablePerHierarchy, model.ShareColumns:
		err = resolveHierarchy(a, s, root)
	default:
		err = fmt.Errorf("resolve: unknown strategy %v", ann.Strategy)
	}
	if err != nil {
		return nil, err
	}
	for _, id := range s.Hierarchy(root) {
		plan.Classes[id].Tables = spannedTables(plan, s, id)
	}
	return plan, nil
}

// Assemble rebuilds the plan of root from persisted tables and class maps.
// Classes of the hierarchy missing from classes get an empty map; the tables
// each class spans are derived again.
func Assemble(s *model.Schema, root model.ClassID, tables []Table, classes map[model.ClassID]*ClassMap) *Plan {
	p := &Plan{Root: root, Annotation: s.Annotation(root), Tables: tables, Classes: classes}
	for _, id := range s.Hierarchy(root) {
		classMap(p, id).Tables = spannedTables(p, s, id)
	}
	return p
}

func classMap(plan *Plan, id model.ClassID) *ClassMap {
	cm, ok := plan.Classes[id]
	if !ok {
		cm = &ClassMap{Class: id}
		plan.Classes[id] = cm
	}
	return cm
}

// resolvePerClass gives every concrete class a table holding all of its
// properties, inherited ones included. Abstract classes get no table.
func resolvePerClass(a *Allocator, s *model.Schema, root model.ClassID) error {
	for _, id := range s.Hierarchy(root) {
		cm := classMap(a.plan, id)
		c := s.Class(id)
		if c.Abstract {
			continue
		}
		name := TableName(s, id)
		ti := a.plan.TableIndex(name)
		if ti < 0 {
			a.plan.Tables = append(a.plan.Tables, Table{
				Name:    name,
				Kind:    TablePrimary,
				Parent:  -1,
				Owner:   id,
				Columns: []Column{{Name: IDColumn, Type: "INTEGER", Kind: ColumnID}},
			})
			ti = len(a.plan.Tables) - 1
		}

		var bindings []ColumnBinding
		var unsupported []string
		for _, p := range s.GetProperties(id, true) {
			if b, ok := cm.Binding(p.Name); ok {
				bindings = append(bindings, b)
				continue
			}
			b, err := a.AllocateColumn(ti, id, p)
			if errors.Is(err, errUnsupported) {
				unsupported = append(unsupported, p.Name)
				continue
			}
			if err != nil {
				return err
			}
			bindings = append(bindings, b)
		}
		cm.Bindings = bindings
		cm.Unsupported = unsupported
	}
	return nil
}

type declKey struct {
	class model.ClassID
	prop  string
}

// resolveHierarchy maps the hierarchy into one primary table plus, with
// DomainTables, one joined table per direct subclass of the root. A property
// is placed once, by its declaring class; every class then sees the bindings
// of its whole chain.
func resolveHierarchy(a *Allocator, s *model.Schema, root model.ClassID) error {
	name := TableName(s, root)
	primary := a.plan.TableIndex(name)
	if primary < 0 {
		a.plan.Tables = append(a.plan.Tables, Table{
			Name:       name,
			Kind:       TablePrimary,
			Parent:     -1,
			Owner:      root,
			HasClassID: true,
			Columns: []Column{
				{Name: IDColumn, Type: "INTEGER", Kind: ColumnID},
				{Name: ClassIDColumn, Type: "INTEGER", Kind: ColumnClassID},
			},
		})
		primary = len(a.plan.Tables) - 1
	}

	placed := make(map[declKey]ColumnBinding)
	for _, id := range a.plan.ClassIDs() {
		for _, b := range a.plan.Classes[id].Bindings {
			placed[declKey{b.Declaring, b.Property}] = b
		}
	}
	unsupported := make(map[declKey]bool)

	hierarchy := s.Hierarchy(root)
	for _, id := range hierarchy {
		for _, p := range s.Class(id).Properties {
			key := declKey{id, p.Name}
			if _, ok := placed[key]; ok {
				continue
			}
			owner := ownerTable(a, s, root, primary, id)
			b, err := a.AllocateColumn(owner, id, p)
			if errors.Is(err, errUnsupported) {
				unsupported[key] = true
				continue
			}
			if err != nil {
				return err
			}
			placed[key] = b
		}
	}

	for _, id := range hierarchy {
		cm := classMap(a.plan, id)
		cm.Bindings = nil
		cm.Unsupported = nil
		for _, p := range s.GetProperties(id, true) {
			key := declKey{p.Declaring, p.Name}
			if b, ok := placed[key]; ok {
				cm.Bindings = append(cm.Bindings, b)
			} else if unsupported[key] {
				cm.Unsupported = append(cm.Unsupported, p.Name)
			}
		}
	}
	return nil
}

// ownerTable returns the table whose columns (or generic pool) receive the
// own properties of class id.
func ownerTable(a *Allocator, s *model.Schema, root model.ClassID, primary int, id model.ClassID) int {
	if id == root || !a.plan.Annotation.DomainTables {
		return primary
	}
	joined := s.Ancestors(id)[1]
	name := TableName(s, joined)
	if ti := a.plan.TableIndex(name); ti >= 0 {
		return ti
	}
	a.plan.Tables = append(a.plan.Tables, Table{
		Name:    name,
		Kind:    TableDomain,
		Parent:  primary,
		Owner:   joined,
		Columns: []Column{{Name: IDColumn, Type: "INTEGER", Kind: ColumnID}},
	})
	return len(a.plan.Tables) - 1
}

// spannedTables lists the tables a row of id occupies: its identity table,
// every table one of its bindings lives in, and their parents.
func spannedTables(plan *Plan, s *model.Schema, id model.ClassID) []int {
	cm := plan.Classes[id]
	set := make(map[int]bool)
	add := func(ti int) {
		for ; ti >= 0 && !set[ti]; ti = plan.Tables[ti].Parent {
			set[ti] = true
		}
	}
	switch plan.Strategy() {
	case model.TablePerClass:
		if s.Class(id).Abstract {
			return nil
		}
		add(plan.TableIndex(TableName(s, id)))
	default:
		add(plan.TableIndex(TableName(s, plan.Root)))
		for _, b := range cm.Bindings {
			add(b.Table)
		}
		if plan.Annotation.DomainTables && id != plan.Root {
			// A subclass always has a row in its domain table, even before
			// any property lands there.
			if ti := plan.TableIndex(TableName(s, s.Ancestors(id)[1])); ti >= 0 {
				add(ti)
			}
		}
	}
	out := make([]int, 0, len(set))
	for ti := range set {
		out = append(out, ti)
	}
	sort.Ints(out)
	return out
}
