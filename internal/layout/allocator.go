package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/internal/model"
)

// errUnsupported marks a property with no physical representation under
// the active strategy. The resolver records it on the class map; statement
// building turns it into an UnsupportedPropertyTypeError.
var errUnsupported = errors.New("unsupported property type")

// ColumnAllocationExhaustedError is returned when the final overflow tier
// has a configured ceiling and no run of free slots fits below it.
type ColumnAllocationExhaustedError struct {
	Table    string
	Property string
	Limit    int
}

func (e *ColumnAllocationExhaustedError) Error() string {
	return fmt.Sprintf("no generic column left in %s for property %q (limit %d)", e.Table, e.Property, e.Limit)
}

const jsonTier = -1

// pool is the generic-column pool rooted at one primary or domain table.
type pool struct {
	owner int
	// tiers[t] is the table index of tier t, or -1 while the tier does not exist.
	tiers [3]int
	// slots maps a slot number to the classes declaring a property in it.
	slots map[int][]model.ClassID
}

// Allocator assigns physical columns to properties. It owns the pool state
// of the plan under construction; nothing is shared between plans.
type Allocator struct {
	schema *model.Schema
	plan   *Plan
	pools  map[int]*pool
}

func newAllocator(s *model.Schema, plan *Plan) *Allocator {
	a := &Allocator{schema: s, plan: plan, pools: make(map[int]*pool)}
	// Rebuild pool occupancy from bindings carried over from a previous plan.
	seen := make(map[string]bool)
	for _, id := range plan.ClassIDs() {
		for _, b := range plan.Classes[id].Bindings {
			if b.Kind != BindShared {
				continue
			}
			key := fmt.Sprintf("%d/%s", b.Declaring, b.Property)
			if seen[key] {
				continue
			}
			seen[key] = true
			t := &plan.Tables[b.Table]
			owner := b.Table
			if t.Kind == TableOverflow {
				owner = t.Parent
			}
			p := a.pool(owner)
			p.tiers[t.Tier] = b.Table
			for i := 0; i < b.Type.Width(); i++ {
				p.slots[b.Slot+i] = append(p.slots[b.Slot+i], b.Declaring)
			}
		}
	}
	for i := range plan.Tables {
		t := &plan.Tables[i]
		if t.Kind == TableOverflow {
			a.pool(t.Parent).tiers[t.Tier] = i
		}
	}
	return a
}

func (a *Allocator) pool(owner int) *pool {
	p, ok := a.pools[owner]
	if !ok {
		p = &pool{owner: owner, tiers: [3]int{owner, -1, -1}, slots: make(map[int][]model.ClassID)}
		a.pools[owner] = p
	}
	return p
}

// AllocateColumn places a property declared by class into table (a primary
// or domain table) and returns its binding. Allocation is deterministic:
// the same properties offered in the same order yield the same columns.
func (a *Allocator) AllocateColumn(table int, class model.ClassID, prop model.PropertyDef) (ColumnBinding, error) {
	ann := a.plan.Annotation
	shared := ann.Sharing() && a.plan.Strategy() != model.TablePerClass && class != a.plan.Root
	jsonOK := ann.Sharing() && ann.Overflow == model.OverflowJSON

	switch {
	case !prop.Type.IsPrimitive() && jsonOK:
		return a.allocateJSON(table, class, prop), nil
	case !prop.Type.IsPrimitive():
		return ColumnBinding{}, errUnsupported
	case shared:
		return a.allocateShared(table, class, prop)
	default:
		return a.allocateDirect(table, class, prop), nil
	}
}

func (a *Allocator) allocateDirect(table int, class model.ClassID, prop model.PropertyDef) ColumnBinding {
	t := &a.plan.Tables[table]
	base := prop.Name
	if a.prefixed(t, class) {
		base = a.schema.Class(class).Name + "_" + prop.Name
	}
	comps := prop.Type.Components()
	names := func(stem string) []string {
		if comps == nil {
			return []string{stem}
		}
		out := make([]string, len(comps))
		for i, c := range comps {
			out[i] = stem + "_" + c
		}
		return out
	}
	cols := names(base)
	for n := 2; anyTaken(t, cols); n++ {
		cols = names(fmt.Sprintf("%s_%d", base, n))
	}
	for _, c := range cols {
		t.Columns = append(t.Columns, Column{Name: c, Type: prop.Type.SQLType(), Kind: ColumnData})
	}
	return ColumnBinding{
		Property:  prop.Name,
		Type:      prop.Type,
		Elem:      prop.Elem,
		Declaring: class,
		Kind:      BindDirect,
		Table:     table,
		Columns:   cols,
	}
}

// prefixed reports whether direct columns of class need a class-name prefix
// in t: always in a shared master table, except for the owner's own
// properties.
func (a *Allocator) prefixed(t *Table, class model.ClassID) bool {
	if a.plan.Strategy() == model.TablePerClass {
		return false
	}
	return class != t.Owner
}

func anyTaken(t *Table, cols []string) bool {
	for _, c := range cols {
		for _, have := range t.Columns {
			if strings.EqualFold(have.Name, c) {
				return true
			}
		}
	}
	return false
}

// tierOf maps a slot to its tier, or jsonTier once the primary pool is
// exhausted in JSON overflow mode.
func (a *Allocator) tierOf(slot int) int {
	limit := a.plan.Annotation.MaxSharedColumns
	switch {
	case slot <= limit:
		return 0
	case a.plan.Annotation.Overflow == model.OverflowJSON:
		return jsonTier
	case slot <= 2*limit:
		return 1
	default:
		return 2
	}
}

func (a *Allocator) allocateShared(table int, class model.ClassID, prop model.PropertyDef) (ColumnBinding, error) {
	ann := a.plan.Annotation
	p := a.pool(table)
	width := prop.Type.Width()
	limit := ann.MaxSharedColumns

	for k := 1; ; k++ {
		tier := a.tierOf(k)
		if tier == jsonTier {
			return a.allocateJSON(table, class, prop), nil
		}
		end := k + width - 1
		if a.tierOf(end) != tier {
			continue
		}
		if tier == 2 && ann.MaxOverflowColumns > 0 && end-2*limit > ann.MaxOverflowColumns {
			return ColumnBinding{}, &ColumnAllocationExhaustedError{
				Table:    a.plan.Tables[table].Name + overflowSuffix(2),
				Property: prop.Name,
				Limit:    ann.MaxOverflowColumns,
			}
		}
		if !a.free(p, k, width, class) {
			continue
		}

		ti := a.tierTable(p, tier)
		t := &a.plan.Tables[ti]
		cols := make([]string, width)
		for i := 0; i < width; i++ {
			cols[i] = fmt.Sprintf("ps%d", k+i-tier*limit)
			if !t.HasColumn(cols[i]) {
				t.Columns = append(t.Columns, Column{Name: cols[i], Kind: ColumnShared})
			}
			p.slots[k+i] = append(p.slots[k+i], class)
		}
		return ColumnBinding{
			Property:  prop.Name,
			Type:      prop.Type,
			Elem:      prop.Elem,
			Declaring: class,
			Kind:      BindShared,
			Table:     ti,
			Columns:   cols,
			Slot:      k,
		}, nil
	}
}

// free reports whether slots k..k+width-1 can take a property of class.
// Under PoolReuse a slot is blocked only by classes on the same inheritance
// chain, since rows of unrelated classes never coexist (ClassId tells them
// apart). Under PoolSequential any prior use blocks it.
func (a *Allocator) free(p *pool, k, width int, class model.ClassID) bool {
	for i := k; i < k+width; i++ {
		for _, other := range p.slots[i] {
			if a.plan.Annotation.Pooling == model.PoolSequential {
				return false
			}
			if a.schema.IsA(class, other) || a.schema.IsA(other, class) {
				return false
			}
		}
	}
	return true
}

func overflowSuffix(tier int) string {
	if tier == 1 {
		return "_Overflow"
	}
	return fmt.Sprintf("_Overflow%d", tier)
}

// tierTable returns the table of the given tier, declaring it on first use.
func (a *Allocator) tierTable(p *pool, tier int) int {
	if p.tiers[tier] >= 0 {
		return p.tiers[tier]
	}
	owner := a.plan.Tables[p.owner]
	a.plan.Tables = append(a.plan.Tables, Table{
		Name:       owner.Name + overflowSuffix(tier),
		Kind:       TableOverflow,
		Tier:       tier,
		Parent:     p.owner,
		Owner:      owner.Owner,
		HasClassID: true,
		Columns: []Column{
			{Name: IDColumn, Type: "INTEGER", Kind: ColumnID},
			{Name: ClassIDColumn, Type: "INTEGER", Kind: ColumnClassID},
		},
	})
	p.tiers[tier] = len(a.plan.Tables) - 1
	return p.tiers[tier]
}

func (a *Allocator) allocateJSON(table int, class model.ClassID, prop model.PropertyDef) ColumnBinding {
	t := &a.plan.Tables[table]
	if !t.HasColumn(OverflowColumn) {
		t.Columns = append(t.Columns, Column{Name: OverflowColumn, Type: "TEXT", Kind: ColumnOverflowDoc})
	}
	return ColumnBinding{
		Property:  prop.Name,
		Type:      prop.Type,
		Elem:      prop.Elem,
		Declaring: class,
		Kind:      BindJSON,
		Table:     table,
		Columns:   []string{OverflowColumn},
	}
}
