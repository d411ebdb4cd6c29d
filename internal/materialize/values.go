// Package materialize moves typed property values between Go and the
// physical columns of a layout.Plan: Bind writes an instance into the
// parameters of a sqlgen statement, Read rebuilds an instance from a result
// row.
//
// Go representations per property type:
//
//	integer          int32
//	long             int64
//	double           float64
//	boolean          bool
//	string           string
//	binary           []byte
//	point2d/point3d  Point2d / Point3d
//	datetime         time.Time (stored as RFC 3339 text, UTC)
//	struct           map[string]any
//	primitive-array  []any of the element type
//	struct-array     []any of map[string]any
//
// Writers may pass any Go integer or float type that converts without loss;
// readers always get the types above.
package materialize

import (
	"fmt"
	"math"
	"time"

	"github.com/agentic-research/classmap/api"
	"github.com/agentic-research/classmap/internal/model"
)

// The value types live in api so generated code outside this module can
// name them.
type (
	Point2d = api.Point2d
	Point3d = api.Point3d
	Values  = api.Values
)

// Instance is one materialized row.
type Instance struct {
	ID     int64
	Class  model.ClassID
	Values Values
}

// ValueTypeError is returned when a value does not fit its property type.
type ValueTypeError struct {
	Property string
	Type     model.PropertyType
	Value    any
	Reason   string
}

func (e *ValueTypeError) Error() string {
	msg := fmt.Sprintf("property %q: %T value does not fit type %s", e.Property, e.Value, e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// timeLayout keeps nanoseconds and always renders UTC, so stored text sorts
// chronologically.
const timeLayout = time.RFC3339Nano

// normalize converts v into the canonical Go type of t.
func normalize(prop string, t, elem model.PropertyType, v any) (any, error) {
	bad := func(reason string) error {
		return &ValueTypeError{Property: prop, Type: t, Value: v, Reason: reason}
	}
	switch t {
	case model.TypeInteger:
		n, ok := asInt64(v)
		if !ok {
			return nil, bad("")
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, bad("out of 32-bit range")
		}
		return int32(n), nil
	case model.TypeLong:
		n, ok := asInt64(v)
		if !ok {
			return nil, bad("")
		}
		return n, nil
	case model.TypeDouble:
		switch x := v.(type) {
		case float64:
			if math.IsNaN(x) {
				return nil, bad("NaN cannot be stored")
			}
			return x, nil
		case float32:
			if math.IsNaN(float64(x)) {
				return nil, bad("NaN cannot be stored")
			}
			return float64(x), nil
		}
		if n, ok := asInt64(v); ok && n >= -1<<53 && n <= 1<<53 {
			return float64(n), nil
		}
		return nil, bad("")
	case model.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, bad("")
	case model.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, bad("")
	case model.TypeBinary:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		return nil, bad("")
	case model.TypeDateTime:
		if tm, ok := v.(time.Time); ok {
			return tm, nil
		}
		return nil, bad("")
	case model.TypePoint2d:
		var p Point2d
		switch x := v.(type) {
		case Point2d:
			p = x
		case *Point2d:
			if x == nil {
				return nil, bad("")
			}
			p = *x
		default:
			return nil, bad("")
		}
		if hasNaN(p.X, p.Y) {
			return nil, bad("NaN component cannot be stored")
		}
		return p, nil
	case model.TypePoint3d:
		var p Point3d
		switch x := v.(type) {
		case Point3d:
			p = x
		case *Point3d:
			if x == nil {
				return nil, bad("")
			}
			p = *x
		default:
			return nil, bad("")
		}
		if hasNaN(p.X, p.Y, p.Z) {
			return nil, bad("NaN component cannot be stored")
		}
		return p, nil
	case model.TypeStruct:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
		return nil, bad("")
	case model.TypePrimitiveArray:
		items, ok := asSlice(v)
		if !ok {
			return nil, bad("")
		}
		out := make([]any, len(items))
		for i, it := range items {
			if it == nil {
				continue
			}
			n, err := normalize(fmt.Sprintf("%s[%d]", prop, i), elem, model.TypeInvalid, it)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case model.TypeStructArray:
		items, ok := asSlice(v)
		if !ok {
			return nil, bad("")
		}
		out := make([]any, len(items))
		for i, it := range items {
			if it == nil {
				continue
			}
			m, ok := it.(map[string]any)
			if !ok {
				return nil, &ValueTypeError{Property: fmt.Sprintf("%s[%d]", prop, i), Type: model.TypeStruct, Value: it}
			}
			out[i] = m
		}
		return out, nil
	}
	return nil, bad("unknown type")
}

// hasNaN reports whether any component is NaN. SQLite reads a stored NaN
// back as NULL.
func hasNaN(c ...float64) bool {
	for _, x := range c {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		return toAny(s), true
	case []int32:
		return toAny(s), true
	case []int64:
		return toAny(s), true
	case []int:
		return toAny(s), true
	case []float64:
		return toAny(s), true
	case []bool:
		return toAny(s), true
	case []map[string]any:
		return toAny(s), true
	}
	return nil, false
}

func toAny[T any](s []T) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
