package sqlgen

import (
	"fmt"
	"strings"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

// BuildInsert returns one INSERT per table a row of class spans, parent
// tables first, so foreign keys hold after every statement.
func BuildInsert(s *model.Schema, plan *layout.Plan, class model.ClassID) ([]Statement, error) {
	c, cm, err := mappedClass(s, plan, class)
	if err != nil {
		return nil, err
	}
	if c.Abstract {
		return nil, &ClassNotMappedError{Class: c.Name, Reason: "abstract classes have no instances"}
	}

	stmts := make([]Statement, 0, len(cm.Tables))
	for _, ti := range cm.Tables {
		t := &plan.Tables[ti]
		cols := []string{layout.Quote(layout.IDColumn)}
		vals := []string{"?"}
		params := []Param{{Kind: ParamIdentity}}
		if t.HasClassID {
			cols = append(cols, layout.Quote(layout.ClassIDColumn))
			vals = append(vals, fmt.Sprint(class))
		}
		vcols, vparams := tableValues(cm, ti)
		for _, vc := range vcols {
			cols = append(cols, layout.Quote(vc))
			vals = append(vals, "?")
		}
		params = append(params, vparams...)
		stmts = append(stmts, Statement{
			SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				layout.Quote(t.Name), strings.Join(cols, ", "), strings.Join(vals, ", ")),
			Table:  t.Name,
			Params: params,
		})
	}
	return stmts, nil
}

// BuildUpdate returns one UPDATE per table holding values of class. With
// byIdentity the identity is the last parameter of every statement;
// otherwise each statement updates all instances of exactly class.
func BuildUpdate(s *model.Schema, plan *layout.Plan, class model.ClassID, byIdentity bool) ([]Statement, error) {
	c, cm, err := mappedClass(s, plan, class)
	if err != nil {
		return nil, err
	}
	if c.Abstract {
		return nil, &ClassNotMappedError{Class: c.Name, Reason: "abstract classes have no instances"}
	}

	var stmts []Statement
	primary := plan.Primary(class)
	for _, ti := range cm.Tables {
		t := &plan.Tables[ti]
		vcols, params := tableValues(cm, ti)
		if len(vcols) == 0 {
			continue
		}
		sets := make([]string, len(vcols))
		for i, vc := range vcols {
			sets[i] = layout.Quote(vc) + " = ?"
		}
		sql := fmt.Sprintf("UPDATE %s SET %s", layout.Quote(t.Name), strings.Join(sets, ", "))
		switch {
		case byIdentity:
			sql += " WHERE " + layout.Quote(layout.IDColumn) + " = ?"
			params = append(params, Param{Kind: ParamIdentity})
		case !plan.UsesClassID():
			// The table holds exactly this class.
		case t.HasClassID:
			sql += " WHERE " + classFilter(layout.Quote(layout.ClassIDColumn), []model.ClassID{class})
		default:
			p := plan.Tables[primary].Name
			sql += fmt.Sprintf(" WHERE %s IN (SELECT %s FROM %s WHERE %s)",
				layout.Quote(layout.IDColumn), layout.Quote(layout.IDColumn), layout.Quote(p),
				classFilter(layout.Quote(layout.ClassIDColumn), []model.ClassID{class}))
		}
		stmts = append(stmts, Statement{SQL: sql, Table: t.Name, Params: params})
	}
	return stmts, nil
}

// BuildDelete returns the DELETE statements for scope. Rows are only ever
// deleted from identity tables; dependent domain and overflow rows go with
// them through ON DELETE CASCADE. Hierarchies sharing a primary table need a
// single statement; TablePerClass needs one per concrete table in scope.
func BuildDelete(s *model.Schema, plan *layout.Plan, class model.ClassID, scope Scope, byIdentity bool) ([]Statement, error) {
	c, _, err := mappedClass(s, plan, class)
	if err != nil {
		return nil, err
	}
	classes := concrete(s, class, scope)
	if scope == Only && len(classes) == 0 {
		return nil, &ClassNotMappedError{Class: c.Name, Reason: "abstract classes have no instances"}
	}

	var where []string
	var params []Param
	if byIdentity {
		where = append(where, layout.Quote(layout.IDColumn)+" = ?")
		params = append(params, Param{Kind: ParamIdentity})
	}

	if plan.UsesClassID() {
		primary := plan.Tables[plan.Primary(plan.Root)].Name
		where = append(where, classFilter(layout.Quote(layout.ClassIDColumn), classes))
		return []Statement{{
			SQL:    fmt.Sprintf("DELETE FROM %s WHERE %s", layout.Quote(primary), strings.Join(where, " AND ")),
			Table:  primary,
			Params: params,
		}}, nil
	}

	stmts := make([]Statement, 0, len(classes))
	for _, id := range classes {
		t := plan.Tables[plan.Primary(id)].Name
		sql := "DELETE FROM " + layout.Quote(t)
		if len(where) > 0 {
			sql += " WHERE " + strings.Join(where, " AND ")
		}
		stmts = append(stmts, Statement{SQL: sql, Table: t, Params: append([]Param(nil), params...)})
	}
	return stmts, nil
}
