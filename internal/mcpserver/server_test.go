package mcpserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/classmap/api"
	"github.com/agentic-research/classmap/internal/config"
	"github.com/agentic-research/classmap/internal/engine"
	"github.com/agentic-research/classmap/internal/materialize"
)

func setupServer(t *testing.T, imported bool) *Server {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{DBPath: filepath.Join(t.TempDir(), "mcp.db"), LogLevel: "info"}
	eng, err := engine.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	if imported {
		_, err = eng.ImportSchema(ctx, &api.Schema{
			Name:  "Shapes",
			Alias: "sh",
			Classes: []api.Class{
				{Name: "Shape", Abstract: true, Map: &api.Mapping{Strategy: "TablePerHierarchy"}, Props: []api.Property{{Name: "Label", Type: "string"}}},
				{Name: "Circle", Base: "Shape", Props: []api.Property{{Name: "Radius", Type: "double"}}},
				{Name: "Square", Base: "Shape", Props: []api.Property{{Name: "Side", Type: "double"}}},
			},
		})
		require.NoError(t, err)
		_, err = eng.Insert(ctx, "Circle", 0, materialize.Values{"Label": "c", "Radius": 2.0})
		require.NoError(t, err)
		_, err = eng.Insert(ctx, "Square", 0, materialize.Values{"Label": "s", "Side": 3.0})
		require.NoError(t, err)
	}
	return New(eng, "test")
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	switch c := res.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	}
	t.Fatalf("unexpected content %T", res.Content[0])
	return ""
}

func TestListClasses(t *testing.T) {
	s := setupServer(t, true)
	res, err := s.listClasses(context.Background(), call(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got []classInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	require.Len(t, got, 3)
	assert.Equal(t, classInfo{Name: "Shape", Abstract: true, Root: "Shape", Strategy: "TablePerHierarchy", Table: "sh_Shape"}, got[0])
	assert.Equal(t, "Shape", got[1].Base)
	assert.Equal(t, "sh_Shape", got[2].Table)
}

func TestListClasses_NoSchema(t *testing.T) {
	s := setupServer(t, false)
	res, err := s.listClasses(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "no schema")
}

func TestDescribeClass(t *testing.T) {
	s := setupServer(t, true)
	res, err := s.describeClass(context.Background(), call(map[string]any{"class": "Circle"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got classLayout
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Equal(t, "TablePerHierarchy", got.Strategy)
	assert.Equal(t, []string{"sh_Shape"}, got.Tables)
	require.Len(t, got.Bindings, 2)
	assert.Equal(t, "Label", got.Bindings[0].Property)
	assert.Equal(t, "Shape", got.Bindings[0].Declaring)
	assert.Equal(t, "Radius", got.Bindings[1].Property)
	assert.Equal(t, []string{"Radius"}, got.Bindings[1].Columns)
}

func TestDescribeClass_Errors(t *testing.T) {
	s := setupServer(t, true)
	res, err := s.describeClass(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.describeClass(context.Background(), call(map[string]any{"class": "Triangle"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Triangle")
}

func TestClassSQL(t *testing.T) {
	s := setupServer(t, true)
	res, err := s.classSQL(context.Background(), call(map[string]any{"class": "Square"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var got engine.ClassSQL
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	require.Len(t, got.Insert, 1)
	assert.Contains(t, got.Insert[0], `INSERT INTO "sh_Shape"`)
	assert.Contains(t, got.Select, `FROM "sh_Shape"`)
}

func TestQueryClass(t *testing.T) {
	s := setupServer(t, true)
	ctx := context.Background()

	res, err := s.queryClass(ctx, call(map[string]any{"class": "Shape"}))
	require.NoError(t, err)
	var got []instanceInfo
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Circle", got[0].Class)
	assert.Equal(t, "Square", got[1].Class)
	assert.InDelta(t, 3.0, got[1].Values["Side"], 0)

	res, err = s.queryClass(ctx, call(map[string]any{"class": "Shape", "mode": "only"}))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, text(t, res))

	res, err = s.queryClass(ctx, call(map[string]any{"class": "Shape", "mode": "sideways"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListImports(t *testing.T) {
	s := setupServer(t, true)
	res, err := s.listImports(context.Background(), call(nil))
	require.NoError(t, err)
	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Shapes", got[0]["Schema"])
}
