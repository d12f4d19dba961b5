package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const schemaURIPrefix = "microdata://schema/"

func (s *Server) registerResources() {
	// ── microdata://sources ────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		"microdata://sources",
		"Configured Sources",
		mcp.WithMIMEType("application/json"),
	), s.handleSourcesResource)

	// ── microdata://schema/{source} ────────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			schemaURIPrefix+"{source}",
			"Datasets Schema of a Source",
		),
		s.handleSchemaResource,
	)
}

func (s *Server) handleSourcesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource("microdata://sources", s.collector.Sources())
}

func (s *Server) handleSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	source := sourceFromURI(uri)
	if source == "" {
		return nil, fmt.Errorf("could not extract source from URI: %s", uri)
	}
	def, err := s.collector.Definition(source)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, def.Columns)
}

// sourceFromURI extracts the source from "microdata://schema/{source}".
func sourceFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, schemaURIPrefix)
	if !ok {
		return ""
	}
	rest, _, _ = strings.Cut(rest, "/")
	return rest
}
