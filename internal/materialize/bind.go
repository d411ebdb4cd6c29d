package materialize

import (
	"fmt"
	"time"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
)

// Binder is the parameter side of a prepared statement. Indexes are 1-based.
type Binder interface {
	BindInt(i int, v int32) error
	BindInt64(i int, v int64) error
	BindDouble(i int, v float64) error
	BindText(i int, v string) error
	BindBlob(i int, v []byte) error
	BindNull(i int) error
}

// Check validates values against class before any statement runs: every
// name must be a property of the class, every value must fit its type, and
// properties without storage may only be nil.
func Check(s *model.Schema, cm *layout.ClassMap, values Values) error {
	c := s.Class(cm.Class)
	for name, v := range values {
		p, ok := s.FindProperty(cm.Class, name)
		if !ok {
			return fmt.Errorf("class %q: %w: %s", c.Name, model.ErrPropertyNotFound, name)
		}
		if v == nil {
			continue
		}
		if _, bound := cm.Binding(name); !bound {
			return &sqlgen.UnsupportedPropertyTypeError{Class: c.Name, Property: name, Type: p.Type}
		}
		if _, err := normalize(name, p.Type, p.Elem, v); err != nil {
			return err
		}
	}
	return nil
}

// Bind writes the parameters of st. id and class fill identity and class-id
// parameters; property parameters come from values, NULL when absent.
func Bind(b Binder, st *sqlgen.Statement, id int64, class model.ClassID, values Values) error {
	for i, p := range st.Params {
		pos := i + 1
		var err error
		switch p.Kind {
		case sqlgen.ParamIdentity:
			err = b.BindInt64(pos, id)
		case sqlgen.ParamClassID:
			err = b.BindInt64(pos, int64(class))
		case sqlgen.ParamValue:
			err = bindValue(b, pos, p.Binding, p.Component, values[p.Binding.Property])
		case sqlgen.ParamDocument:
			var doc []byte
			if doc, err = encodeDocument(p.Members, values); err == nil {
				if doc == nil {
					err = b.BindNull(pos)
				} else {
					err = b.BindText(pos, string(doc))
				}
			}
		default:
			err = fmt.Errorf("unknown parameter kind %d", p.Kind)
		}
		if err != nil {
			return fmt.Errorf("bind parameter %d of %s: %w", pos, st.Table, err)
		}
	}
	return nil
}

func bindValue(b Binder, pos int, cb layout.ColumnBinding, component int, v any) error {
	if v == nil {
		return b.BindNull(pos)
	}
	n, err := normalize(cb.Property, cb.Type, cb.Elem, v)
	if err != nil {
		return err
	}
	switch x := n.(type) {
	case int32:
		return b.BindInt(pos, x)
	case int64:
		return b.BindInt64(pos, x)
	case float64:
		return b.BindDouble(pos, x)
	case bool:
		if x {
			return b.BindInt64(pos, 1)
		}
		return b.BindInt64(pos, 0)
	case string:
		return b.BindText(pos, x)
	case []byte:
		return b.BindBlob(pos, x)
	case time.Time:
		return b.BindText(pos, x.UTC().Format(timeLayout))
	case Point2d:
		return b.BindDouble(pos, [2]float64{x.X, x.Y}[component])
	case Point3d:
		return b.BindDouble(pos, [3]float64{x.X, x.Y, x.Z}[component])
	}
	return &ValueTypeError{Property: cb.Property, Type: cb.Type, Value: v, Reason: "needs an overflow document"}
}
