package mcpserver

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"microdata/internal/etl"
)

func (s *Server) registerCollectorTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List the configured microdata catalogs (World Bank, UNHCR) with their endpoints and schema versions"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("show_schema",
		mcp.WithDescription("Show the column schema and prefix rules a source's datasets table is normalized to"),
		mcp.WithString("source", mcp.Description("Source name (use list_sources to see available names)"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleShowSchema)

	s.mcp.AddTool(mcp.NewTool("list_catalog",
		mcp.WithDescription("Refresh a source's catalog listing (metadata table). Does not fetch dataset details."),
		mcp.WithString("source", mcp.Description("Source name"), mcp.Required()),
	), s.handleListCatalog)

	s.mcp.AddTool(mcp.NewTool("fetch_new",
		mcp.WithDescription("Fetch detail documents for listed datasets not yet stored and merge them into the datasets table. Run list_catalog first."),
		mcp.WithString("source", mcp.Description("Source name"), mcp.Required()),
	), s.handleFetchNew)

	s.mcp.AddTool(mcp.NewTool("run_source",
		mcp.WithDescription("Refresh a source end to end: list the catalog, then fetch and merge new datasets"),
		mcp.WithString("source", mcp.Description("Source name"), mcp.Required()),
	), s.handleRunSource)

	s.mcp.AddTool(mcp.NewTool("describe_dataset",
		mcp.WithDescription("Summarize a source's stored datasets table: row count, id range, and filled cells per column"),
		mcp.WithString("source", mcp.Description("Source name"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleDescribeDataset)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent collector runs, newest first"),
		mcp.WithString("source", mcp.Description("Source name (optional, defaults to all sources)")),
		mcp.WithNumber("limit", mcp.Description("Maximum runs to return (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListRuns)
}

// fetchSummary is the JSON shape of a fetch result.
type fetchSummary struct {
	Source      string           `json:"source"`
	Inventory   int              `json:"inventory"`
	NewIDs      int              `json:"newIds"`
	Fetched     int              `json:"fetched"`
	Failed      map[int64]string `json:"failed,omitempty"`
	Rows        int              `json:"rows"`
	Changed     bool             `json:"changed"`
	Persisted   bool             `json:"persisted"`
	Anomalies   int              `json:"anomalies"`
	Collisions  []string         `json:"collisions,omitempty"`
	DroppedCols []string         `json:"droppedColumns,omitempty"`
	DurationMS  int64            `json:"durationMs"`
}

func summarizeFetch(res *etl.Result) fetchSummary {
	out := fetchSummary{
		Source:      res.Source,
		Inventory:   res.Inventory,
		NewIDs:      len(res.NewIDs),
		Fetched:     res.Fetched,
		Changed:     res.Changed,
		Persisted:   res.Persisted,
		Anomalies:   len(res.Anomalies),
		DroppedCols: res.NewDrift.Dropped,
		DurationMS:  res.Duration.Milliseconds(),
	}
	if res.Table != nil {
		out.Rows = res.Table.Len()
	}
	if len(res.Failures) > 0 {
		out.Failed = make(map[int64]string, len(res.Failures))
		for id, err := range res.Failures {
			out.Failed[id] = err.Error()
		}
	}
	for _, c := range res.Collisions {
		out.Collisions = append(out.Collisions, c.Column)
	}
	sort.Strings(out.Collisions)
	return out
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.collector.Sources())
}

func (s *Server) handleShowSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := sourceArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	def, err := s.collector.Definition(source)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"source":   def.Source,
		"version":  def.Version,
		"columns":  def.Columns,
		"prefixes": def.Prefixes,
	})
}

func (s *Server) handleListCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := sourceArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	res, err := s.collector.List(ctx, source)
	if err != nil {
		return nil, err
	}
	return jsonResult(res)
}

func (s *Server) handleFetchNew(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := sourceArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	res, err := s.collector.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	return jsonResult(summarizeFetch(res))
}

func (s *Server) handleRunSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := sourceArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	s.log.Info("mcp: run requested", zap.String("source", source))
	if err := s.collector.Run(ctx, source); err != nil {
		return nil, err
	}
	// The list and fetch records of this run.
	runs, err := s.collector.History(source, 2)
	if err != nil {
		return nil, err
	}
	return jsonResult(runs)
}

func (s *Server) handleDescribeDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := sourceArg(req.GetArguments())
	if err != nil {
		return nil, err
	}
	summary, err := s.collector.Describe(ctx, source)
	if err != nil {
		return nil, err
	}
	return jsonResult(summary)
}

func (s *Server) handleListRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	source, _ := args["source"].(string)
	runs, err := s.collector.History(source, intArg(args, "limit", 20))
	if err != nil {
		return nil, err
	}
	return jsonResult(runs)
}
