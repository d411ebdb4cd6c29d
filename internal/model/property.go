package model

import (
	"fmt"
	"strings"
)

// PropertyType is the semantic type of a property.
type PropertyType int

const (
	TypeInvalid PropertyType = iota
	TypeInteger
	TypeLong
	TypeDouble
	TypeBoolean
	TypeString
	TypeBinary
	TypePoint2d
	TypePoint3d
	TypeDateTime
	TypeStruct
	TypePrimitiveArray
	TypeStructArray
)

var typeNames = map[PropertyType]string{
	TypeInteger:        "integer",
	TypeLong:           "long",
	TypeDouble:         "double",
	TypeBoolean:        "boolean",
	TypeString:         "string",
	TypeBinary:         "binary",
	TypePoint2d:        "point2d",
	TypePoint3d:        "point3d",
	TypeDateTime:       "datetime",
	TypeStruct:         "struct",
	TypePrimitiveArray: "primitive-array",
	TypeStructArray:    "struct-array",
}

// aliases accepted by ParsePropertyType in addition to the canonical names.
var typeAliases = map[string]PropertyType{
	"int":   TypeInteger,
	"int64": TypeLong,
	"bool":  TypeBoolean,
	"blob":  TypeBinary,
	"array": TypePrimitiveArray,
}

func (t PropertyType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

// ParsePropertyType maps a schema type name onto a PropertyType.
func ParsePropertyType(s string) (PropertyType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	return TypeInvalid, fmt.Errorf("unknown property type %q", s)
}

// IsPrimitive reports whether values of t fit physical columns
// (everything except struct and array types).
func (t PropertyType) IsPrimitive() bool {
	switch t {
	case TypeStruct, TypePrimitiveArray, TypeStructArray, TypeInvalid:
		return false
	}
	return true
}

// Components returns the member names of a point type, or nil for
// single-valued types.
func (t PropertyType) Components() []string {
	switch t {
	case TypePoint2d:
		return []string{"X", "Y"}
	case TypePoint3d:
		return []string{"X", "Y", "Z"}
	}
	return nil
}

// Width is the number of physical columns a value of t occupies.
func (t PropertyType) Width() int {
	if c := t.Components(); c != nil {
		return len(c)
	}
	return 1
}

// SQLType is the declared column type used for direct columns.
func (t PropertyType) SQLType() string {
	switch t {
	case TypeInteger, TypeLong, TypeBoolean:
		return "INTEGER"
	case TypeDouble, TypePoint2d, TypePoint3d:
		return "REAL"
	case TypeBinary:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// PropertyDef is one property declared by a class.
type PropertyDef struct {
	Name string
	Type PropertyType
	// Elem is the element type of a primitive array.
	Elem PropertyType
	// Struct names the struct class of struct and struct-array properties.
	Struct    string
	Declaring ClassID
}
