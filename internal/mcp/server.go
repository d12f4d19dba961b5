package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"microdata/internal/domain"
	"microdata/internal/etl"
	"microdata/internal/schemas"
	"microdata/internal/service"
)

// Collector is the part of the collector service the MCP server drives.
type Collector interface {
	Sources() []service.SourceInfo
	Definition(source string) (schemas.Definition, error)
	List(ctx context.Context, source string) (*service.ListResult, error)
	Fetch(ctx context.Context, source string) (*etl.Result, error)
	Run(ctx context.Context, source string) error
	Describe(ctx context.Context, source string) (*service.DatasetSummary, error)
	History(source string, limit int) ([]domain.RunRecord, error)
}

// Server is the MCP server of the collector.
// It exposes tools, resources, and prompts so agents can inspect and refresh
// the catalogs.
type Server struct {
	mcp       *server.MCPServer
	collector Collector
	log       *zap.Logger
}

// Deps holds the dependencies passed from the command layer to the MCP server.
type Deps struct {
	Collector Collector
	Logger    *zap.Logger
	Version   string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		collector: deps.Collector,
		log:       log,
	}

	s.mcp = server.NewMCPServer(
		"microdata-mcp",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerCollectorTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// jsonResource wraps v as a JSON resource body for uri.
func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := marshalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
