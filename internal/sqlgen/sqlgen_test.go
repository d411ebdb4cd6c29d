package sqlgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
)

func strProps(names ...string) []model.PropertyDef {
	out := make([]model.PropertyDef, len(names))
	for i, n := range names {
		out[i] = model.PropertyDef{Name: n, Type: model.TypeString}
	}
	return out
}

// fixture: Element(1) <- A(2), B(3) <- B1(4).
func fixture(t *testing.T, ann *model.MappingAnnotation) (*model.Schema, *layout.Plan) {
	t.Helper()
	s := model.NewSchema("TestSchema", "ts")
	_, err := s.DefineClass("Element", "", strProps("Code"), ann, false)
	require.NoError(t, err)
	_, err = s.DefineClass("A", "Element", strProps("Name", "Label"), nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("B", "Element", strProps("Name2"), nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("B1", "B", strProps("Extra"), nil, false)
	require.NoError(t, err)
	p, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)
	return s, p
}

func sqlOf(stmts []Statement) []string {
	out := make([]string, len(stmts))
	for i, st := range stmts {
		out[i] = st.SQL
	}
	return out
}

func TestBuildInsert_TablePerHierarchy(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.TablePerHierarchy})
	stmts, err := BuildInsert(s, p, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`INSERT INTO "ts_Element" ("Id", "ClassId", "Code", "A_Name", "A_Label") VALUES (?, 2, ?, ?, ?)`,
	}, sqlOf(stmts))

	params := stmts[0].Params
	require.Len(t, params, 4)
	assert.Equal(t, ParamIdentity, params[0].Kind)
	assert.Equal(t, "Code", params[1].Binding.Property)
	assert.Equal(t, "Label", params[3].Binding.Property)
}

func TestBuildInsert_DomainTablesPrimaryFirst(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.TablePerHierarchy, DomainTables: true})
	stmts, err := BuildInsert(s, p, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`INSERT INTO "ts_Element" ("Id", "ClassId", "Code") VALUES (?, 4, ?)`,
		`INSERT INTO "ts_B" ("Id", "Name2", "B1_Extra") VALUES (?, ?, ?)`,
	}, sqlOf(stmts))
}

func TestBuildInsert_TablePerClass(t *testing.T) {
	s, p := fixture(t, nil)
	stmts, err := BuildInsert(s, p, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`INSERT INTO "ts_B1" ("Id", "Code", "Name2", "Extra") VALUES (?, ?, ?, ?)`,
	}, sqlOf(stmts))
}

func TestBuildInsert_ClassNotMapped(t *testing.T) {
	s, p := fixture(t, nil)
	_, err := BuildInsert(s, p, 99)
	var nm *ClassNotMappedError
	require.ErrorAs(t, err, &nm)

	abs := model.NewSchema("S", "")
	_, err = abs.DefineClass("Base", "", strProps("X"), &model.MappingAnnotation{Strategy: model.TablePerHierarchy}, true)
	require.NoError(t, err)
	ap, err := layout.Resolve(abs, 1, nil)
	require.NoError(t, err)
	_, err = BuildInsert(abs, ap, 1)
	require.ErrorAs(t, err, &nm)
	assert.Contains(t, nm.Error(), "abstract")
}

func TestBuildUpdate(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.TablePerHierarchy, DomainTables: true})

	stmts, err := BuildUpdate(s, p, 2, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`UPDATE "ts_Element" SET "Code" = ? WHERE "Id" = ?`,
		`UPDATE "ts_A" SET "Name" = ?, "Label" = ? WHERE "Id" = ?`,
	}, sqlOf(stmts))
	last := stmts[1].Params[len(stmts[1].Params)-1]
	assert.Equal(t, ParamIdentity, last.Kind)

	stmts, err = BuildUpdate(s, p, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`UPDATE "ts_Element" SET "Code" = ? WHERE "ClassId" = 2`,
		`UPDATE "ts_A" SET "Name" = ?, "Label" = ? WHERE "Id" IN (SELECT "Id" FROM "ts_Element" WHERE "ClassId" = 2)`,
	}, sqlOf(stmts))
}

func TestBuildDelete(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 1})

	stmts, err := BuildDelete(s, p, 2, Only, false)
	require.NoError(t, err)
	assert.Equal(t, []string{`DELETE FROM "ts_Element" WHERE "ClassId" = 2`}, sqlOf(stmts))

	stmts, err = BuildDelete(s, p, 3, Polymorphic, true)
	require.NoError(t, err)
	assert.Equal(t, []string{`DELETE FROM "ts_Element" WHERE "Id" = ? AND "ClassId" IN (3, 4)`}, sqlOf(stmts))

	// Overflow rows exist, yet only the identity table is named.
	require.Greater(t, len(p.Tables), 1)
}

func TestBuildDelete_TablePerClassPolymorphic(t *testing.T) {
	s, p := fixture(t, nil)
	stmts, err := BuildDelete(s, p, 3, Polymorphic, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`DELETE FROM "ts_B" WHERE "Id" = ?`,
		`DELETE FROM "ts_B1" WHERE "Id" = ?`,
	}, sqlOf(stmts))
}

func TestBuildSelect_Polymorphic(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.TablePerHierarchy})
	q, err := BuildSelect(s, p, 3, SelectPolymorphic, false)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "ts_Element"."Id", "ts_Element"."ClassId", "ts_Element"."Code", "ts_Element"."B_Name2", "ts_Element"."B1_Extra" FROM "ts_Element" WHERE "ts_Element"."ClassId" IN (3, 4) ORDER BY "ts_Element"."Id"`, q.SQL)

	cm, _ := p.Class(4)
	b, _ := cm.Binding("Extra")
	pos, ok := q.Position(b, 0)
	require.True(t, ok)
	assert.Equal(t, 4, pos)
}

func TestBuildSelect_OnlyAndOnlyParam(t *testing.T) {
	s, p := fixture(t, &model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 4, DomainTables: true})

	only, err := BuildSelect(s, p, 2, SelectOnly, false)
	require.NoError(t, err)
	assert.Contains(t, only.SQL, `WHERE "ts_Element"."ClassId" = 2 ORDER BY`)
	assert.Empty(t, only.Params)

	g2, err := BuildSelect(s, p, 2, SelectOnlyParam, true)
	require.NoError(t, err)
	g3, err := BuildSelect(s, p, 3, SelectOnlyParam, true)
	require.NoError(t, err)
	assert.Equal(t, g2.SQL, g3.SQL)
	assert.Contains(t, g2.SQL, `LEFT JOIN "ts_A" ON "ts_A"."Id" = "ts_Element"."Id"`)
	assert.Contains(t, g2.SQL, `WHERE "ts_Element"."ClassId" = ? AND "ts_Element"."Id" = ?`)
	require.Len(t, g2.Params, 2)
	assert.Equal(t, ParamClassID, g2.Params[0].Kind)
	assert.Equal(t, ParamIdentity, g2.Params[1].Kind)
}

func TestBuildSelect_TablePerClassUnion(t *testing.T) {
	s, p := fixture(t, nil)
	q, err := BuildSelect(s, p, 3, SelectPolymorphic, false)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "Id", 3 AS "ClassId", "Code", "Name2", NULL FROM "ts_B"`+
			` UNION ALL SELECT "Id", 4 AS "ClassId", "Code", "Name2", "Extra" FROM "ts_B1" ORDER BY 1`,
		q.SQL)

	g, err := BuildSelect(s, p, 2, SelectOnlyParam, false)
	require.NoError(t, err)
	assert.Len(t, g.Params, 4)
	assert.Contains(t, g.SQL, `FROM "ts_A" WHERE ? = 2`)
}

func TestBuildStatements_Deterministic(t *testing.T) {
	ann := &model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 2, DomainTables: true}
	s1, p1 := fixture(t, ann)
	s2, p2 := fixture(t, ann)
	for _, id := range s1.Classes() {
		i1, err := BuildInsert(s1, p1, id)
		require.NoError(t, err)
		i2, err := BuildInsert(s2, p2, id)
		require.NoError(t, err)
		assert.Equal(t, sqlOf(i1), sqlOf(i2))

		q1, err := BuildSelect(s1, p1, id, SelectPolymorphic, false)
		require.NoError(t, err)
		q2, err := BuildSelect(s2, p2, id, SelectPolymorphic, false)
		require.NoError(t, err)
		assert.Equal(t, q1.SQL, q2.SQL)
	}
}

func TestBuildProjection(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Root", "", []model.PropertyDef{{Name: "Origin", Type: model.TypePoint3d}},
		&model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 1, Overflow: model.OverflowJSON}, false)
	require.NoError(t, err)
	_, err = s.DefineClass("A", "Root", []model.PropertyDef{
		{Name: "N", Type: model.TypeLong},
		{Name: "P", Type: model.TypePoint2d},
	}, nil, false)
	require.NoError(t, err)
	p, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)

	q, err := BuildProjection(s, p, 2, Only, []string{"Origin.x", "P", "N"}, false)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "s_Root"."Id", "s_Root"."ClassId", "s_Root"."Origin_X",`+
		` json_extract("s_Root"."overflow", '$.P.X'), json_extract("s_Root"."overflow", '$.P.Y'),`+
		` "s_Root"."ps1" FROM "s_Root" WHERE "s_Root"."ClassId" = 2 ORDER BY "s_Root"."Id"`, q.SQL)
	require.Len(t, q.Columns, 6)
	assert.Equal(t, "Origin.X", q.Columns[2].Access)
	assert.Equal(t, "P.Y", q.Columns[4].Access)

	_, err = BuildProjection(s, p, 2, Only, []string{"Missing"}, false)
	assert.ErrorIs(t, err, model.ErrPropertyNotFound)
	_, err = BuildProjection(s, p, 2, Only, []string{"N.X"}, false)
	assert.Error(t, err)
}

func TestBuildProjection_Unsupported(t *testing.T) {
	s := model.NewSchema("S", "")
	_, err := s.DefineClass("C", "", []model.PropertyDef{{Name: "Tags", Type: model.TypePrimitiveArray, Elem: model.TypeString}}, nil, false)
	require.NoError(t, err)
	p, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)

	_, err = BuildProjection(s, p, 1, Only, []string{"Tags"}, false)
	var ue *UnsupportedPropertyTypeError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Tags", ue.Property)
}

func TestBuildSelect_TablePerClassWithoutConcreteClasses(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Base", "", strProps("X"), &model.MappingAnnotation{Strategy: model.TablePerClass}, true)
	require.NoError(t, err)
	p, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)

	q, err := BuildSelect(s, p, 1, SelectPolymorphic, true)
	require.NoError(t, err)
	assert.Equal(t, `SELECT NULL AS "Id", NULL AS "ClassId" WHERE 0`, q.SQL)
	assert.Empty(t, q.Params)

	pq, err := BuildProjection(s, p, 1, Polymorphic, []string{"X"}, false)
	require.NoError(t, err)
	require.Len(t, pq.Columns, 3)
	assert.Equal(t, "X", pq.Columns[2].Access)
	assert.Contains(t, pq.SQL, "WHERE 0")

	_, err = BuildProjection(s, p, 1, Polymorphic, []string{"Nope"}, false)
	assert.ErrorIs(t, err, model.ErrPropertyNotFound)
}
