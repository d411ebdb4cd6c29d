package layout

import (
	"fmt"
	"strings"
)

// Quote renders an SQL identifier.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// IndexName is the name of the ClassId index of a table.
func IndexName(table string) string {
	return "ix_" + table + "_classid"
}

// DDL returns the statements that take the store from prev to plan. With a
// nil prev every table is created. Tables are emitted in plan order, so a
// referenced table always exists before the table referencing it.
func DDL(plan, prev *Plan) []string {
	var stmts []string
	for i := range plan.Tables {
		t := &plan.Tables[i]
		if prev == nil || i >= len(prev.Tables) {
			stmts = append(stmts, CreateTable(plan, i))
			if t.HasClassID {
				stmts = append(stmts, CreateIndex(t))
			}
			continue
		}
		// Tables are append-only, and so are their columns.
		for _, c := range t.Columns[len(prev.Tables[i].Columns):] {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", Quote(t.Name), columnDef(c)))
		}
	}
	return stmts
}

// CreateTable renders the CREATE TABLE statement of plan.Tables[i].
func CreateTable(plan *Plan, i int) string {
	t := &plan.Tables[i]
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(c))
	}
	if t.Parent >= 0 {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE CASCADE",
			Quote(IDColumn), Quote(plan.Tables[t.Parent].Name), Quote(IDColumn)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", Quote(t.Name), strings.Join(defs, ", "))
}

// CreateIndex renders the ClassId index of t.
func CreateIndex(t *Table) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
		Quote(IndexName(t.Name)), Quote(t.Name), Quote(ClassIDColumn))
}

func columnDef(c Column) string {
	switch c.Kind {
	case ColumnID:
		return Quote(c.Name) + " INTEGER PRIMARY KEY"
	case ColumnClassID:
		return Quote(c.Name) + " INTEGER NOT NULL"
	}
	if c.Type == "" {
		return Quote(c.Name)
	}
	return Quote(c.Name) + " " + c.Type
}
