// Package mcpserver exposes an engine's schema, layouts, statements and
// instances as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentic-research/classmap/internal/engine"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/sqlgen"
)

// Server wires engine operations to MCP tool handlers.
type Server struct {
	eng *engine.Engine
	mcp *server.MCPServer
}

// New registers every tool on a fresh MCP server.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		eng: eng,
		mcp: server.NewMCPServer("classmap", version, server.WithToolCapabilities(false)),
	}
	s.mcp.AddTool(mcp.NewTool("list_classes",
		mcp.WithDescription("List the classes of the imported schema with their hierarchy root and mapping strategy"),
	), s.listClasses)
	s.mcp.AddTool(mcp.NewTool("describe_class",
		mcp.WithDescription("Show the tables a class spans and where each of its properties is stored"),
		mcp.WithString("class", mcp.Required(), mcp.Description("Class name")),
	), s.describeClass)
	s.mcp.AddTool(mcp.NewTool("class_sql",
		mcp.WithDescription("Show the INSERT, UPDATE, DELETE and SELECT statements generated for a class"),
		mcp.WithString("class", mcp.Required(), mcp.Description("Class name")),
	), s.classSQL)
	s.mcp.AddTool(mcp.NewTool("query_class",
		mcp.WithDescription("Read the instances of a class"),
		mcp.WithString("class", mcp.Required(), mcp.Description("Class name")),
		mcp.WithString("mode",
			mcp.Description("polymorphic (default) includes subclasses; only reads exactly the class"),
			mcp.Enum("polymorphic", "only"),
		),
	), s.queryClass)
	s.mcp.AddTool(mcp.NewTool("list_imports",
		mcp.WithDescription("List the schema-import history of the database"),
	), s.listImports)
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type classInfo struct {
	Name     string `json:"name"`
	Base     string `json:"base,omitempty"`
	Abstract bool   `json:"abstract,omitempty"`
	Root     string `json:"root"`
	Strategy string `json:"strategy"`
	Table    string `json:"table,omitempty"`
}

func (s *Server) listClasses(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sc := s.eng.Schema()
	if sc == nil {
		return mcp.NewToolResultError(engine.ErrNoSchema.Error()), nil
	}
	var out []classInfo
	for _, id := range sc.Classes() {
		c := sc.Class(id)
		info := classInfo{
			Name:     c.Name,
			Abstract: c.Abstract,
			Root:     sc.Class(sc.Root(id)).Name,
			Strategy: sc.Annotation(sc.Root(id)).Strategy.String(),
		}
		if b := sc.Class(c.Base); b != nil {
			info.Base = b.Name
		}
		if plan, err := s.eng.Plan(c.Name); err == nil {
			if ti := plan.Primary(id); ti >= 0 {
				info.Table = plan.Tables[ti].Name
			}
		}
		out = append(out, info)
	}
	return jsonResult(out)
}

type bindingInfo struct {
	Property  string   `json:"property"`
	Type      string   `json:"type"`
	Declaring string   `json:"declaring"`
	Kind      string   `json:"kind"`
	Table     string   `json:"table"`
	Columns   []string `json:"columns"`
	Slot      int      `json:"slot,omitempty"`
}

type classLayout struct {
	Class       string        `json:"class"`
	Strategy    string        `json:"strategy"`
	Tables      []string      `json:"tables"`
	Bindings    []bindingInfo `json:"bindings"`
	Unsupported []string      `json:"unsupported,omitempty"`
}

func (s *Server) describeClass(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("class")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, err := s.eng.Plan(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sc := s.eng.Schema()
	id, _ := sc.Lookup(name)
	cm, _ := plan.Class(id)
	out := classLayout{Class: name, Strategy: plan.Strategy().String(), Unsupported: cm.Unsupported}
	for _, ti := range cm.Tables {
		out.Tables = append(out.Tables, plan.Tables[ti].Name)
	}
	for _, b := range cm.Bindings {
		out.Bindings = append(out.Bindings, bindingInfo{
			Property:  b.Property,
			Type:      b.Type.String(),
			Declaring: className(sc, b.Declaring),
			Kind:      b.Kind.String(),
			Table:     plan.Tables[b.Table].Name,
			Columns:   b.Columns,
			Slot:      b.Slot,
		})
	}
	return jsonResult(out)
}

func (s *Server) classSQL(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("class")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stmts, err := s.eng.Statements(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stmts)
}

type instanceInfo struct {
	ID     int64          `json:"id"`
	Class  string         `json:"class"`
	Values map[string]any `json:"values"`
}

func (s *Server) queryClass(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("class")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	mode := sqlgen.SelectPolymorphic
	switch m := req.GetString("mode", "polymorphic"); m {
	case "polymorphic":
	case "only":
		mode = sqlgen.SelectOnly
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q", m)), nil
	}
	insts, err := s.eng.Query(ctx, name, mode)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sc := s.eng.Schema()
	out := make([]instanceInfo, 0, len(insts))
	for _, in := range insts {
		out = append(out, instanceInfo{ID: in.ID, Class: className(sc, in.Class), Values: in.Values})
	}
	return jsonResult(out)
}

func (s *Server) listImports(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := s.eng.Imports(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

func className(sc *model.Schema, id model.ClassID) string {
	if c := sc.Class(id); c != nil {
		return c.Name
	}
	return fmt.Sprintf("#%d", id)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
