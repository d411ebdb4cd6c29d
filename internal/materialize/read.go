package materialize

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
)

// Row is the column side of a stepped statement. Indexes are 0-based.
type Row interface {
	ColumnIsNull(i int) bool
	ColumnInt64(i int) int64
	ColumnDouble(i int) float64
	ColumnText(i int) string
	ColumnBlob(i int) []byte
}

// Read rebuilds the instance in the current row of q. The ClassId output
// column picks the class map, so one polymorphic result set yields
// instances of different classes, each carrying only its own properties.
// NULL values are left out of Values.
func Read(row Row, q *sqlgen.Select, plan *layout.Plan) (*Instance, error) {
	inst := &Instance{
		ID:     row.ColumnInt64(0),
		Class:  model.ClassID(row.ColumnInt64(1)),
		Values: make(Values),
	}
	cm, ok := plan.Class(inst.Class)
	if !ok {
		return nil, fmt.Errorf("row %d: class id %d is not part of the hierarchy", inst.ID, inst.Class)
	}

	docs := make(map[int]any)
	for _, b := range cm.Bindings {
		if b.Kind == layout.BindJSON {
			pos, ok := q.Position(b, 0)
			if !ok || row.ColumnIsNull(pos) {
				continue
			}
			doc, seen := docs[pos]
			if !seen {
				var err error
				if doc, err = parseDocument(row.ColumnText(pos)); err != nil {
					return nil, fmt.Errorf("row %d: %w", inst.ID, err)
				}
				docs[pos] = doc
			}
			raw, ok := member(doc, b)
			if !ok {
				continue
			}
			v, err := fromJSON(b.Property, b.Type, b.Elem, raw)
			if err != nil {
				return nil, err
			}
			inst.Values[b.Property] = v
			continue
		}

		positions := make([]int, len(b.Columns))
		present := false
		for i := range b.Columns {
			pos, ok := q.Position(b, i)
			if !ok {
				positions[i] = -1
				continue
			}
			positions[i] = pos
			present = present || !row.ColumnIsNull(pos)
		}
		if !present {
			continue
		}
		v, err := readColumns(row, b, positions)
		if err != nil {
			return nil, err
		}
		inst.Values[b.Property] = v
	}
	return inst, nil
}

func readColumns(row Row, b layout.ColumnBinding, positions []int) (any, error) {
	comp := func(i int) float64 {
		if positions[i] < 0 {
			return 0
		}
		return row.ColumnDouble(positions[i])
	}
	switch b.Type {
	case model.TypePoint2d:
		return Point2d{X: comp(0), Y: comp(1)}, nil
	case model.TypePoint3d:
		return Point3d{X: comp(0), Y: comp(1), Z: comp(2)}, nil
	}
	return readScalar(row, positions[0], b.Property, b.Type)
}

func readScalar(row Row, pos int, prop string, t model.PropertyType) (any, error) {
	switch t {
	case model.TypeInteger:
		return int32(row.ColumnInt64(pos)), nil
	case model.TypeLong:
		return row.ColumnInt64(pos), nil
	case model.TypeDouble:
		return row.ColumnDouble(pos), nil
	case model.TypeBoolean:
		return row.ColumnInt64(pos) != 0, nil
	case model.TypeString:
		return row.ColumnText(pos), nil
	case model.TypeBinary:
		src := row.ColumnBlob(pos)
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	case model.TypeDateTime:
		text := row.ColumnText(pos)
		tm, err := time.Parse(timeLayout, text)
		if err != nil {
			return nil, &ValueTypeError{Property: prop, Type: t, Value: text, Reason: err.Error()}
		}
		return tm, nil
	}
	return nil, &ValueTypeError{Property: prop, Type: t, Reason: "not stored in a column"}
}

// ReadProjection returns the projected values of the current row, one per
// output column after identity and class id. NULL reads as nil. Point
// components read as float64.
func ReadProjection(row Row, q *sqlgen.Select) ([]any, error) {
	out := make([]any, 0, len(q.Columns)-2)
	for pos, oc := range q.Columns {
		if oc.Kind != sqlgen.OutColumn {
			continue
		}
		if row.ColumnIsNull(pos) {
			out = append(out, nil)
			continue
		}
		b := oc.Binding
		if b.Type.Components() != nil {
			out = append(out, row.ColumnDouble(pos))
			continue
		}
		if b.Kind != layout.BindJSON {
			v, err := readScalar(row, pos, b.Property, b.Type)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
			continue
		}
		v, err := readExtracted(row, pos, b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// readExtracted decodes a json_extract result: scalars come back as SQL
// values, objects and arrays as JSON text.
func readExtracted(row Row, pos int, b layout.ColumnBinding) (any, error) {
	switch b.Type {
	case model.TypeBinary:
		raw, err := base64.StdEncoding.DecodeString(row.ColumnText(pos))
		if err != nil {
			return nil, &ValueTypeError{Property: b.Property, Type: b.Type, Reason: err.Error()}
		}
		return raw, nil
	case model.TypeStruct, model.TypePrimitiveArray, model.TypeStructArray:
		doc, err := parseDocument(row.ColumnText(pos))
		if err != nil {
			return nil, err
		}
		return fromJSON(b.Property, b.Type, b.Elem, doc)
	}
	return readScalar(row, pos, b.Property, b.Type)
}
