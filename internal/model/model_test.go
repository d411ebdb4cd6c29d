package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/classmap/api"
)

func prop(name string, t PropertyType) PropertyDef {
	return PropertyDef{Name: name, Type: t}
}

func sampleSchema(t *testing.T) *Schema {
	t.Helper()
	s := NewSchema("TestSchema", "ts")
	_, err := s.DefineClass("Element", "", []PropertyDef{prop("Code", TypeString)},
		&MappingAnnotation{Strategy: TablePerHierarchy}, true)
	require.NoError(t, err)
	_, err = s.DefineClass("A", "Element", []PropertyDef{prop("Weight", TypeDouble)}, nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("B", "Element", []PropertyDef{prop("Count", TypeInteger)}, nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("B1", "B", []PropertyDef{prop("Blob", TypeBinary)}, nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("Other", "", nil, nil, false)
	require.NoError(t, err)
	return s
}

func TestDefineClass_Hierarchy(t *testing.T) {
	s := sampleSchema(t)
	el, _ := s.Lookup("Element")
	b, _ := s.Lookup("B")
	b1, _ := s.Lookup("B1")

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, []ClassID{el, 2, b, b1}, s.Hierarchy(el))
	assert.Equal(t, []ClassID{el, b, b1}, s.Ancestors(b1))
	assert.Equal(t, el, s.Root(b1))
	assert.Equal(t, []ClassID{el, 5}, s.Roots())
	assert.True(t, s.IsA(b1, el))
	assert.False(t, s.IsA(el, b1))
	assert.Equal(t, []uint32{2, 3, 4}, s.ConcreteSubtree(el).ToArray())
	assert.Equal(t, TablePerHierarchy, s.Annotation(b1).Strategy)
	assert.Equal(t, TablePerClass, s.Annotation(5).Strategy)
	assert.Equal(t, "TestSchema.B1", s.QualifiedName(b1))
}

func TestGetProperties_InheritedFirst(t *testing.T) {
	s := sampleSchema(t)
	b1, _ := s.Lookup("B1")
	var names []string
	for _, p := range s.GetProperties(b1, true) {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Code", "Count", "Blob"}, names)
	assert.Len(t, s.GetProperties(b1, false), 1)

	p, ok := s.FindProperty(b1, "Code")
	require.True(t, ok)
	assert.Equal(t, ClassID(1), p.Declaring)
}

func TestDefineClass_Errors(t *testing.T) {
	s := sampleSchema(t)

	_, err := s.DefineClass("A", "", nil, nil, false)
	var dup *DuplicateClassError
	assert.ErrorAs(t, err, &dup)

	_, err = s.DefineClass("C", "Missing", nil, nil, false)
	var unknown *UnknownBaseClassError
	assert.ErrorAs(t, err, &unknown)

	_, err = s.DefineClass("C", "B", []PropertyDef{prop("code", TypeLong)}, nil, false)
	var dupProp *DuplicatePropertyError
	assert.ErrorAs(t, err, &dupProp, "names compare case-insensitively along the chain")

	_, err = s.DefineClass("C", "A", nil, &MappingAnnotation{Strategy: ShareColumns}, false)
	assert.ErrorContains(t, err, "only allowed on hierarchy roots")

	_, err = s.DefineClass("1C", "", nil, nil, false)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.DefineClass("C", "", []PropertyDef{prop("ClassId", TypeLong)}, nil, false)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = s.DefineClass("C", "", []PropertyDef{{Name: "Tags", Type: TypePrimitiveArray, Elem: TypeStruct}}, nil, false)
	assert.ErrorContains(t, err, "primitive element type")

	_, err = s.DefineClass("C", "", nil, &MappingAnnotation{Strategy: TablePerClass, DomainTables: true}, false)
	assert.ErrorContains(t, err, "domain tables")

	assert.Equal(t, 5, s.Len(), "failed definitions leave the schema unchanged")
}

func TestAppendProperties(t *testing.T) {
	s := sampleSchema(t)
	b, _ := s.Lookup("B")

	require.NoError(t, s.AppendProperties(b, prop("Extra", TypeLong)))
	assert.Equal(t, "Extra", s.GetProperties(b, false)[1].Name)

	var dup *DuplicatePropertyError
	assert.ErrorAs(t, s.AppendProperties(b, prop("Blob", TypeBinary)), &dup, "subclass names are taken too")
	assert.ErrorIs(t, s.AppendProperties(99, prop("X", TypeLong)), ErrClassNotFound)
}

func TestClone_IsIndependent(t *testing.T) {
	s := sampleSchema(t)
	c := s.Clone()
	b, _ := c.Lookup("B")
	require.NoError(t, c.AppendProperties(b, prop("Extra", TypeLong)))
	_, err := c.DefineClass("B2", "B", nil, nil, false)
	require.NoError(t, err)

	assert.Len(t, s.GetProperties(b, false), 1)
	assert.Len(t, s.Class(b).Children(), 1)
	_, ok := s.Lookup("B2")
	assert.False(t, ok)
}

func TestParseNames(t *testing.T) {
	for in, want := range map[string]PropertyType{
		"integer": TypeInteger, "Int": TypeInteger, "point3d": TypePoint3d,
		"blob": TypeBinary, "struct-array": TypeStructArray,
	} {
		got, err := ParsePropertyType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePropertyType("decimal")
	assert.Error(t, err)

	st, err := ParseStrategy("share-columns")
	require.NoError(t, err)
	assert.Equal(t, ShareColumns, st)
	_, err = ParseOverflowMode("disk")
	assert.Error(t, err)
	p, err := ParsePooling("")
	require.NoError(t, err)
	assert.Equal(t, PoolReuse, p)
}

func TestPropertyType_Columns(t *testing.T) {
	assert.Equal(t, []string{"X", "Y", "Z"}, TypePoint3d.Components())
	assert.Equal(t, 2, TypePoint2d.Width())
	assert.Equal(t, 1, TypeDateTime.Width())
	assert.Equal(t, "REAL", TypePoint2d.SQLType())
	assert.Equal(t, "TEXT", TypeDateTime.SQLType())
	assert.False(t, TypeStructArray.IsPrimitive())
	assert.True(t, TypeBinary.IsPrimitive())
}

func elementDoc() *api.Schema {
	return &api.Schema{
		Name:  "TestSchema",
		Alias: "ts",
		Classes: []api.Class{
			{Name: "Element", Abstract: true, Map: &api.Mapping{Strategy: "ShareColumns", MaxSharedColumns: 4},
				Props: []api.Property{{Name: "Code", Type: "string"}}},
			{Name: "A", Base: "Element", Props: []api.Property{
				{Name: "Tags", Type: "primitive-array"},
				{Name: "P", Type: "point2d"},
			}},
		},
	}
}

func TestApply_NewSchema(t *testing.T) {
	s, err := Apply(nil, elementDoc())
	require.NoError(t, err)
	a, ok := s.Lookup("A")
	require.True(t, ok)
	props := s.GetProperties(a, false)
	assert.Equal(t, TypeString, props[0].Elem, "array element type defaults to string")
	assert.Equal(t, ShareColumns, s.Annotation(a).Strategy)
	assert.Equal(t, elementDoc(), withDefaults(ToDocument(s)))
}

// withDefaults strips the values ToDocument spells out but elementDoc leaves
// implicit.
func withDefaults(doc *api.Schema) *api.Schema {
	for i := range doc.Classes {
		if m := doc.Classes[i].Map; m != nil {
			m.Overflow, m.Pooling = "", ""
		}
		for j := range doc.Classes[i].Props {
			if doc.Classes[i].Props[j].Elem == "string" {
				doc.Classes[i].Props[j].Elem = ""
			}
		}
	}
	return doc
}

func TestApply_Upgrade(t *testing.T) {
	s, err := Apply(nil, elementDoc())
	require.NoError(t, err)

	doc := elementDoc()
	doc.Classes[1].Props = append(doc.Classes[1].Props, api.Property{Name: "Extra", Type: "long"})
	doc.Classes = append(doc.Classes, api.Class{Name: "B", Base: "Element"})
	next, err := Apply(s, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, next.Len())
	a, _ := next.Lookup("A")
	assert.Len(t, next.GetProperties(a, false), 3)
	assert.Len(t, s.GetProperties(a, false), 2, "the source schema is untouched")
	assert.Equal(t, 2, s.Len())
}

func TestApply_IncompatibleUpgrade(t *testing.T) {
	s, err := Apply(nil, elementDoc())
	require.NoError(t, err)

	cases := map[string]func(doc *api.Schema){
		"renamed schema":    func(doc *api.Schema) { doc.Name = "Other" },
		"changed alias":     func(doc *api.Schema) { doc.Alias = "zz" },
		"changed base":      func(doc *api.Schema) { doc.Classes[1].Base = "" },
		"changed abstract":  func(doc *api.Schema) { doc.Classes[0].Abstract = false },
		"changed mapping":   func(doc *api.Schema) { doc.Classes[0].Map.MaxSharedColumns = 8 },
		"removed property":  func(doc *api.Schema) { doc.Classes[1].Props = doc.Classes[1].Props[:1] },
		"retyped property":  func(doc *api.Schema) { doc.Classes[1].Props[1].Type = "point3d" },
		"renamed property":  func(doc *api.Schema) { doc.Classes[0].Props[0].Name = "Label" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			doc := elementDoc()
			mutate(doc)
			_, err := Apply(s, doc)
			var inc *IncompatibleUpgradeError
			assert.ErrorAs(t, err, &inc)
		})
	}
}

func TestApply_DuplicateInDocument(t *testing.T) {
	doc := elementDoc()
	doc.Classes = append(doc.Classes, doc.Classes[1])
	_, err := Apply(nil, doc)
	var dup *DuplicateClassError
	assert.ErrorAs(t, err, &dup)
}
