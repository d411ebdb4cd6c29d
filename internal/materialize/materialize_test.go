package materialize

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
	"github.com/agentic-research/classmap/internal/store"
)

var allTypes = []model.PropertyDef{
	{Name: "I", Type: model.TypeInteger},
	{Name: "L", Type: model.TypeLong},
	{Name: "D", Type: model.TypeDouble},
	{Name: "B", Type: model.TypeBoolean},
	{Name: "S", Type: model.TypeString},
	{Name: "Bin", Type: model.TypeBinary},
	{Name: "P2", Type: model.TypePoint2d},
	{Name: "P3", Type: model.TypePoint3d},
	{Name: "T", Type: model.TypeDateTime},
}

func sampleValues() Values {
	return Values{
		"I":   int32(math.MinInt32),
		"L":   int64(math.MaxInt64),
		"D":   math.SmallestNonzeroFloat64,
		"B":   true,
		"S":   "grüße, tail",
		"Bin": []byte{0xde, 0xad, 0xbe, 0xef},
		"P2":  Point2d{X: 0.1, Y: -1e300},
		"P3":  Point3d{X: 1.0 / 3, Y: math.MaxFloat64, Z: -2.5},
		"T":   time.Date(2024, 2, 29, 13, 14, 15, 123456789, time.UTC),
	}
}

type harness struct {
	ctx    context.Context
	schema *model.Schema
	plan   *layout.Plan
	tx     *store.Tx
}

func newHarness(t *testing.T, s *model.Schema) *harness {
	t.Helper()
	ctx := context.Background()
	plan, err := layout.Resolve(s, s.Roots()[0], nil)
	require.NoError(t, err)

	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range layout.DDL(plan, nil) {
		require.NoError(t, db.Exec(ctx, stmt))
	}
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return &harness{ctx: ctx, schema: s, plan: plan, tx: tx}
}

func (h *harness) insert(t *testing.T, class model.ClassID, id int64, v Values) {
	t.Helper()
	cm, ok := h.plan.Class(class)
	require.True(t, ok)
	require.NoError(t, Check(h.schema, cm, v))
	stmts, err := sqlgen.BuildInsert(h.schema, h.plan, class)
	require.NoError(t, err)
	for i := range stmts {
		st, err := h.tx.Prepare(h.ctx, stmts[i].SQL)
		require.NoError(t, err)
		require.NoError(t, Bind(st, &stmts[i], id, class, v))
		_, err = st.Step()
		require.NoError(t, err)
	}
}

func (h *harness) selectAll(t *testing.T, class model.ClassID, mode sqlgen.SelectMode) []*Instance {
	t.Helper()
	q, err := sqlgen.BuildSelect(h.schema, h.plan, class, mode, false)
	require.NoError(t, err)
	st, err := h.tx.Prepare(h.ctx, q.SQL)
	require.NoError(t, err)
	require.NoError(t, Bind(st, &q.Statement, 0, class, nil))
	var out []*Instance
	for {
		res, err := st.Step()
		require.NoError(t, err)
		if res == store.Done {
			return out
		}
		inst, err := Read(st, q, h.plan)
		require.NoError(t, err)
		out = append(out, inst)
	}
}

func assertValues(t *testing.T, want, got Values) {
	t.Helper()
	for k, w := range want {
		if wt, ok := w.(time.Time); ok {
			gt, ok := got[k].(time.Time)
			require.True(t, ok, "property %s", k)
			assert.True(t, wt.Equal(gt), "property %s: want %v got %v", k, wt, gt)
			continue
		}
		assert.Equal(t, w, got[k], "property %s", k)
	}
}

func TestRoundTrip_DirectColumns(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("C", "", allTypes, nil, false)
	require.NoError(t, err)
	h := newHarness(t, s)

	want := sampleValues()
	h.insert(t, 1, 10, want)
	got := h.selectAll(t, 1, sqlgen.SelectPolymorphic)
	require.Len(t, got, 1)
	assert.EqualValues(t, 10, got[0].ID)
	assertValues(t, want, got[0].Values)
}

func TestRoundTrip_SharedAndJSONOverflow(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Root", "", nil, &model.MappingAnnotation{
		Strategy:         model.ShareColumns,
		MaxSharedColumns: 4,
		Overflow:         model.OverflowJSON,
	}, false)
	require.NoError(t, err)
	props := append([]model.PropertyDef(nil), allTypes...)
	props = append(props,
		model.PropertyDef{Name: "Tags", Type: model.TypePrimitiveArray, Elem: model.TypeLong},
		model.PropertyDef{Name: "Addr", Type: model.TypeStruct, Struct: "Address"},
	)
	_, err = s.DefineClass("C", "Root", props, nil, false)
	require.NoError(t, err)
	h := newHarness(t, s)

	cm, _ := h.plan.Class(2)
	kinds := map[layout.BindingKind]int{}
	for _, b := range cm.Bindings {
		kinds[b.Kind]++
	}
	require.NotZero(t, kinds[layout.BindShared])
	require.NotZero(t, kinds[layout.BindJSON])

	want := sampleValues()
	want["Tags"] = []any{int64(1), int64(math.MinInt64)}
	want["Addr"] = map[string]any{"street": "Main", "no": int64(5)}
	h.insert(t, 2, 1, want)

	got := h.selectAll(t, 2, sqlgen.SelectOnly)
	require.Len(t, got, 1)
	assertValues(t, want, got[0].Values)
}

func TestRead_AbsentValuesStayAbsent(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Root", "", []model.PropertyDef{{Name: "Code", Type: model.TypeString}},
		&model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 1, Overflow: model.OverflowJSON}, false)
	require.NoError(t, err)
	_, err = s.DefineClass("C", "Root", []model.PropertyDef{
		{Name: "A", Type: model.TypeLong},
		{Name: "B", Type: model.TypeLong},
	}, nil, false)
	require.NoError(t, err)
	h := newHarness(t, s)

	h.insert(t, 2, 1, Values{"Code": "x"})
	got := h.selectAll(t, 2, sqlgen.SelectOnly)
	require.Len(t, got, 1)
	assert.Equal(t, Values{"Code": "x"}, got[0].Values)
}

func TestReadProjection_PointComponents(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Root", "", nil,
		&model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 1, Overflow: model.OverflowJSON}, false)
	require.NoError(t, err)
	_, err = s.DefineClass("C", "Root", []model.PropertyDef{
		{Name: "N", Type: model.TypeInteger},
		{Name: "P", Type: model.TypePoint3d},
		{Name: "Flag", Type: model.TypeBoolean},
	}, nil, false)
	require.NoError(t, err)
	h := newHarness(t, s)
	h.insert(t, 2, 7, Values{"N": 3, "P": Point3d{X: 1.5, Y: 2.5, Z: 3.5}, "Flag": true})

	q, err := sqlgen.BuildProjection(s, h.plan, 2, sqlgen.Only, []string{"P.y", "N", "Flag", "P"}, false)
	require.NoError(t, err)
	st, err := h.tx.Prepare(h.ctx, q.SQL)
	require.NoError(t, err)
	res, err := st.Step()
	require.NoError(t, err)
	require.Equal(t, store.Row, res)
	vals, err := ReadProjection(st, q)
	require.NoError(t, err)
	assert.Equal(t, []any{2.5, int32(3), true, 1.5, 2.5, 3.5}, vals)
}

func TestCheck(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("C", "", []model.PropertyDef{
		{Name: "I", Type: model.TypeInteger},
		{Name: "Tags", Type: model.TypePrimitiveArray, Elem: model.TypeString},
	}, nil, false)
	require.NoError(t, err)
	plan, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)
	cm, _ := plan.Class(1)

	assert.NoError(t, Check(s, cm, Values{"I": 5, "Tags": nil}))
	assert.ErrorIs(t, Check(s, cm, Values{"Nope": 1}), model.ErrPropertyNotFound)

	var vt *ValueTypeError
	require.ErrorAs(t, Check(s, cm, Values{"I": int64(math.MaxInt32) + 1}), &vt)
	assert.Equal(t, "I", vt.Property)
	require.ErrorAs(t, Check(s, cm, Values{"I": "five"}), &vt)

	var ue *sqlgen.UnsupportedPropertyTypeError
	require.ErrorAs(t, Check(s, cm, Values{"Tags": []string{"a"}}), &ue)
}

func TestNormalize(t *testing.T) {
	v, err := normalize("x", model.TypeDouble, model.TypeInvalid, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = normalize("x", model.TypePrimitiveArray, model.TypeInteger, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{int32(1), int32(2)}, v)

	_, err = normalize("x", model.TypeLong, model.TypeInvalid, uint64(math.MaxUint64))
	assert.Error(t, err)
}

func TestCheck_RejectsNaN(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("C", "", allTypes, nil, false)
	require.NoError(t, err)
	plan, err := layout.Resolve(s, 1, nil)
	require.NoError(t, err)
	cm, _ := plan.Class(1)

	for name, v := range map[string]Values{
		"double":  {"D": math.NaN()},
		"float32": {"D": float32(math.NaN())},
		"point2d": {"P2": Point2d{X: 1, Y: math.NaN()}},
		"point3d": {"P3": &Point3d{Z: math.NaN()}},
	} {
		var vt *ValueTypeError
		require.ErrorAs(t, Check(s, cm, v), &vt, name)
		assert.Contains(t, vt.Error(), "NaN", name)
	}
	assert.NoError(t, Check(s, cm, Values{"D": math.Inf(1)}))
}

func TestRoundTrip_InfinityInJSONOverflow(t *testing.T) {
	s := model.NewSchema("S", "s")
	_, err := s.DefineClass("Root", "", nil,
		&model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 1, Overflow: model.OverflowJSON}, false)
	require.NoError(t, err)
	_, err = s.DefineClass("C", "Root", []model.PropertyDef{
		{Name: "N", Type: model.TypeInteger},
		{Name: "D", Type: model.TypeDouble},
		{Name: "P", Type: model.TypePoint2d},
		{Name: "Ds", Type: model.TypePrimitiveArray, Elem: model.TypeDouble},
	}, nil, false)
	require.NoError(t, err)
	h := newHarness(t, s)

	want := Values{
		"N":  int32(1),
		"D":  math.Inf(-1),
		"P":  Point2d{X: math.Inf(1), Y: 2},
		"Ds": []any{1.5, math.Inf(1)},
	}
	h.insert(t, 2, 3, want)

	got := h.selectAll(t, 2, sqlgen.SelectOnly)
	require.Len(t, got, 1)
	assertValues(t, want, got[0].Values)

	q, err := sqlgen.BuildProjection(s, h.plan, 2, sqlgen.Only, []string{"D", "P.X"}, false)
	require.NoError(t, err)
	st, err := h.tx.Prepare(h.ctx, q.SQL)
	require.NoError(t, err)
	res, err := st.Step()
	require.NoError(t, err)
	require.Equal(t, store.Row, res)
	vals, err := ReadProjection(st, q)
	require.NoError(t, err)
	assert.Equal(t, []any{math.Inf(-1), math.Inf(1)}, vals)
}
