package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("refresh_catalog",
		mcp.WithPromptDescription("Guide through refreshing one catalog and reviewing what changed"),
		mcp.WithArgument("source",
			mcp.ArgumentDescription("Source to refresh (e.g. worldbank, unhcr)"),
			mcp.RequiredArgument(),
		),
	), s.handleRefreshPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("coverage_report",
		mcp.WithPromptDescription("Report which schema columns a source actually fills"),
		mcp.WithArgument("source",
			mcp.ArgumentDescription("Source to report on"),
			mcp.RequiredArgument(),
		),
	), s.handleCoveragePrompt)
}

func (s *Server) handleRefreshPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	source := req.Params.Arguments["source"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Refresh the %s catalog", source),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Refresh the "%s" microdata catalog. Follow these steps:

1. Use describe_dataset to note the current row count and id range
2. Use run_source to list the catalog and fetch new datasets
3. Use list_runs with limit 2 to read the list and fetch records of the run
4. Use describe_dataset again and report how many datasets were added

If the fetch record shows failed ids, list them; they are retried on the next run.`, source),
				},
			},
		},
	}, nil
}

func (s *Server) handleCoveragePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	source := req.Params.Arguments["source"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Column coverage of %s", source),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Report column coverage for "%s":

1. Use show_schema to read the declared columns
2. Use describe_dataset to read the filled cell count per column
3. Group the columns into always filled, sometimes filled, and never filled

Present the result as a markdown table sorted by fill rate.`, source),
				},
			},
		},
	}, nil
}
