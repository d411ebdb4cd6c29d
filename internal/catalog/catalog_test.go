package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/store"
)

func openTx(t *testing.T) (context.Context, *store.Tx) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	require.NoError(t, Ensure(ctx, tx))
	return ctx, tx
}

func sampleSchema(t *testing.T) *model.Schema {
	t.Helper()
	s := model.NewSchema("TestSchema", "ts")
	_, err := s.DefineClass("Element", "", []model.PropertyDef{{Name: "Code", Type: model.TypeString}},
		&model.MappingAnnotation{Strategy: model.ShareColumns, MaxSharedColumns: 2, DomainTables: true}, true)
	require.NoError(t, err)
	_, err = s.DefineClass("A", "Element", []model.PropertyDef{
		{Name: "P", Type: model.TypePoint3d},
		{Name: "N", Type: model.TypeLong},
		{Name: "Tags", Type: model.TypePrimitiveArray, Elem: model.TypeString},
	}, nil, false)
	require.NoError(t, err)
	_, err = s.DefineClass("Other", "", []model.PropertyDef{
		{Name: "Blob", Type: model.TypeBinary},
		{Name: "Addr", Type: model.TypeStruct, Struct: "Address"},
	}, nil, false)
	require.NoError(t, err)
	return s
}

func resolveAll(t *testing.T, s *model.Schema) map[model.ClassID]*layout.Plan {
	t.Helper()
	plans := make(map[model.ClassID]*layout.Plan)
	for _, root := range s.Roots() {
		p, err := layout.Resolve(s, root, nil)
		require.NoError(t, err)
		plans[root] = p
	}
	return plans
}

func TestLoad_EmptyCatalog(t *testing.T) {
	ctx, tx := openTx(t)
	s, plans, err := Load(ctx, tx)
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.Nil(t, plans)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx, tx := openTx(t)
	s := sampleSchema(t)
	plans := resolveAll(t, s)
	require.NoError(t, Save(ctx, tx, s, plans))

	got, gotPlans, err := Load(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, model.ToDocument(s), model.ToDocument(got))
	require.Len(t, gotPlans, len(plans))
	for root, want := range plans {
		assert.Equal(t, want, gotPlans[root], "plan of %s", s.Class(root).Name)
	}

	// A reloaded plan is a valid prev: resolving against it changes nothing.
	for root, p := range gotPlans {
		again, err := layout.Resolve(got, root, p)
		require.NoError(t, err)
		assert.Equal(t, p, again)
	}
}

func TestSave_Overwrites(t *testing.T) {
	ctx, tx := openTx(t)
	s := sampleSchema(t)
	require.NoError(t, Save(ctx, tx, s, resolveAll(t, s)))

	a, _ := s.Lookup("A")
	next := s.Clone()
	require.NoError(t, next.AppendProperties(a, model.PropertyDef{Name: "Extra", Type: model.TypeDouble}))
	require.NoError(t, Save(ctx, tx, next, resolveAll(t, next)))

	got, _, err := Load(ctx, tx)
	require.NoError(t, err)
	_, ok := got.FindProperty(a, "Extra")
	assert.True(t, ok)
	assert.Equal(t, next.Len(), got.Len())
}

func TestSave_MissingPlan(t *testing.T) {
	ctx, tx := openTx(t)
	s := sampleSchema(t)
	plans := resolveAll(t, s)
	delete(plans, s.Roots()[1])
	assert.Error(t, Save(ctx, tx, s, plans))
}

func TestSequence(t *testing.T) {
	ctx, tx := openTx(t)
	id, err := NextID(ctx, tx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	require.NoError(t, ReserveID(ctx, tx, 100))
	id, err = NextID(ctx, tx)
	require.NoError(t, err)
	assert.EqualValues(t, 101, id)

	// Reserving below the current value never moves the sequence back.
	require.NoError(t, ReserveID(ctx, tx, 5))
	id, err = NextID(ctx, tx)
	require.NoError(t, err)
	assert.EqualValues(t, 102, id)

	// Ensure is idempotent and keeps the sequence.
	require.NoError(t, Ensure(ctx, tx))
	id, err = NextID(ctx, tx)
	require.NoError(t, err)
	assert.EqualValues(t, 103, id)
}

func TestImports(t *testing.T) {
	ctx, tx := openTx(t)
	first, err := RecordImport(ctx, tx, "TestSchema", 3, 7)
	require.NoError(t, err)
	second, err := RecordImport(ctx, tx, "TestSchema", 4, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	list, err := Imports(ctx, tx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, 3, list[0].Classes)
	assert.Equal(t, 7, list[0].Statements)
	assert.Equal(t, second, list[1].ID)
	assert.False(t, list[1].At.IsZero())
}

func TestLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "db.lock")
	l, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.Path())

	_, err = Acquire(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l.Release())
	l2, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
