package model

import (
	"fmt"
	"strings"
)

// Strategy is the mapping strategy of a class hierarchy. The set is closed;
// consumers switch over it exhaustively.
type Strategy int

const (
	// TablePerClass gives every concrete class its own table.
	TablePerClass Strategy = iota
	// TablePerHierarchy maps the hierarchy into one master table.
	TablePerHierarchy
	// ShareColumns maps subclass properties onto generic ps<N> columns.
	ShareColumns
)

func (s Strategy) String() string {
	switch s {
	case TablePerClass:
		return "TablePerClass"
	case TablePerHierarchy:
		return "TablePerHierarchy"
	case ShareColumns:
		return "ShareColumns"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// OverflowMode selects where shared properties go once the primary pool is full.
type OverflowMode int

const (
	// OverflowTables spills into <table>_Overflow, then <table>_Overflow2.
	OverflowTables OverflowMode = iota
	// OverflowJSON serializes spilled properties into one JSON column.
	OverflowJSON
)

func (m OverflowMode) String() string {
	if m == OverflowJSON {
		return "json"
	}
	return "tables"
}

// Pooling selects how generic column slots are handed out across classes.
type Pooling int

const (
	// PoolReuse lets mutually exclusive sibling classes reuse the same slots.
	PoolReuse Pooling = iota
	// PoolSequential hands every class fresh slots across the whole hierarchy.
	PoolSequential
)

func (p Pooling) String() string {
	if p == PoolSequential {
		return "sequential"
	}
	return "reuse"
}

// MappingAnnotation is attached to a hierarchy root.
type MappingAnnotation struct {
	Strategy Strategy
	// DomainTables puts each direct subclass's properties in a joined
	// domain table (TablePerHierarchy and ShareColumns only).
	DomainTables bool
	// MaxSharedColumns caps the generic pool of each primary/domain table
	// and of its first overflow tier. Zero disables sharing.
	MaxSharedColumns int
	Overflow         OverflowMode
	Pooling          Pooling
	// MaxOverflowColumns caps the final overflow tier. Zero means unbounded.
	MaxOverflowColumns int
}

// Validate checks option combinations.
func (a MappingAnnotation) Validate() error {
	switch a.Strategy {
	case TablePerClass:
		if a.DomainTables {
			return fmt.Errorf("domain tables require TablePerHierarchy or ShareColumns")
		}
		if a.MaxSharedColumns != 0 {
			return fmt.Errorf("max shared columns requires ShareColumns")
		}
	case TablePerHierarchy:
		if a.MaxSharedColumns != 0 {
			return fmt.Errorf("max shared columns requires ShareColumns")
		}
	case ShareColumns:
		if a.MaxSharedColumns < 0 {
			return fmt.Errorf("max shared columns must not be negative")
		}
	default:
		return fmt.Errorf("unknown strategy %v", a.Strategy)
	}
	if a.MaxOverflowColumns < 0 {
		return fmt.Errorf("max overflow columns must not be negative")
	}
	return nil
}

// Sharing reports whether generic columns are in use.
func (a MappingAnnotation) Sharing() bool {
	return a.Strategy == ShareColumns && a.MaxSharedColumns > 0
}

// ParseStrategy maps a schema strategy name onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tableperclass", "table-per-class":
		return TablePerClass, nil
	case "tableperhierarchy", "table-per-hierarchy":
		return TablePerHierarchy, nil
	case "sharecolumns", "share-columns":
		return ShareColumns, nil
	}
	return 0, fmt.Errorf("unknown mapping strategy %q", s)
}

// ParseOverflowMode maps a schema overflow name onto an OverflowMode.
func ParseOverflowMode(s string) (OverflowMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tables", "table":
		return OverflowTables, nil
	case "json":
		return OverflowJSON, nil
	}
	return 0, fmt.Errorf("unknown overflow mode %q", s)
}

// ParsePooling maps a schema pooling name onto a Pooling.
func ParsePooling(s string) (Pooling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reuse":
		return PoolReuse, nil
	case "sequential":
		return PoolSequential, nil
	}
	return 0, fmt.Errorf("unknown pooling policy %q", s)
}
