package materialize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

// toJSON renders a normalized value as a JSON-encodable value. Points become
// objects with X/Y(/Z) members so json_extract can address components.
// Infinities, which JSON numbers cannot carry, become "+Inf" and "-Inf".
func toJSON(v any) any {
	switch x := v.(type) {
	case float64:
		return jsonNumber(x)
	case Point2d:
		return map[string]any{"X": jsonNumber(x.X), "Y": jsonNumber(x.Y)}
	case Point3d:
		return map[string]any{"X": jsonNumber(x.X), "Y": jsonNumber(x.Y), "Z": jsonNumber(x.Z)}
	case time.Time:
		return x.UTC().Format(timeLayout)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = toJSON(it)
		}
		return out
	}
	return v
}

// encodeDocument builds the overflow document of the given members.
// It returns nil when no member has a value, so the column stays NULL.
func encodeDocument(members []layout.ColumnBinding, values Values) ([]byte, error) {
	doc := make(map[string]any)
	for _, m := range members {
		v, ok := values[m.Property]
		if !ok || v == nil {
			continue
		}
		n, err := normalize(m.Property, m.Type, m.Elem, v)
		if err != nil {
			return nil, err
		}
		doc[m.Member()] = toJSON(n)
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return json.Marshal(doc)
}

// parseDocument decodes an overflow document. Numbers stay json.Number so
// doubles and 64-bit integers convert without loss.
func parseDocument(text string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode overflow document: %w", err)
	}
	return doc, nil
}

// member extracts the member of a JSON binding from a parsed document.
func member(doc any, b layout.ColumnBinding) (any, bool) {
	x, err := jp.ParseString("$." + b.Member())
	if err != nil {
		return nil, false
	}
	got := x.Get(doc)
	if len(got) == 0 || got[0] == nil {
		return nil, false
	}
	return got[0], true
}

// fromJSON converts a decoded JSON value back into the Go type of t.
func fromJSON(prop string, t, elem model.PropertyType, v any) (any, error) {
	bad := func() error { return &ValueTypeError{Property: prop, Type: t, Value: v, Reason: "in overflow document"} }
	switch t {
	case model.TypeInteger, model.TypeLong:
		n, err := jsonInt(v)
		if err != nil {
			return nil, bad()
		}
		if t == model.TypeInteger {
			return int32(n), nil
		}
		return n, nil
	case model.TypeDouble:
		f, err := jsonFloat(v)
		if err != nil {
			return nil, bad()
		}
		return f, nil
	case model.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, bad()
		}
		return b, nil
	case model.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		return s, nil
	case model.TypeBinary:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, bad()
		}
		return b, nil
	case model.TypeDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		tm, err := time.Parse(timeLayout, s)
		if err != nil {
			return nil, bad()
		}
		return tm, nil
	case model.TypePoint2d, model.TypePoint3d:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, bad()
		}
		var c [3]float64
		for i, name := range t.Components() {
			f, err := jsonFloat(m[name])
			if err != nil {
				return nil, bad()
			}
			c[i] = f
		}
		if t == model.TypePoint2d {
			return Point2d{X: c[0], Y: c[1]}, nil
		}
		return Point3d{X: c[0], Y: c[1], Z: c[2]}, nil
	case model.TypeStruct:
		m, ok := plain(v).(map[string]any)
		if !ok {
			return nil, bad()
		}
		return m, nil
	case model.TypePrimitiveArray:
		items, ok := v.([]any)
		if !ok {
			return nil, bad()
		}
		out := make([]any, len(items))
		for i, it := range items {
			if it == nil {
				continue
			}
			e, err := fromJSON(fmt.Sprintf("%s[%d]", prop, i), elem, model.TypeInvalid, it)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case model.TypeStructArray:
		items, ok := plain(v).([]any)
		if !ok {
			return nil, bad()
		}
		return items, nil
	}
	return nil, bad()
}

func jsonInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func jsonNumber(f float64) any {
	if math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func jsonFloat(v any) (float64, error) {
	switch n := v.(type) {
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil && math.IsInf(f, 0) {
			return f, nil
		}
	case json.Number:
		return strconv.ParseFloat(string(n), 64)
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

// plain replaces json.Number inside free-form struct values with int64 when
// integral and float64 otherwise.
func plain(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(string(x), 64)
		return f
	case map[string]any:
		for k, it := range x {
			x[k] = plain(it)
		}
		return x
	case []any:
		for i, it := range x {
			x[i] = plain(it)
		}
		return x
	}
	return v
}
