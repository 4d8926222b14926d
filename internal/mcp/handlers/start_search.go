// Package handlers implements the MCP tool handlers.
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/search"
	"github.com/carscope/carscope/internal/task"
)

// StartSearch returns a handler that launches a search task and
// responds with its id.
func StartSearch(orch *task.Orchestrator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		taskID := orch.StartSearch(search.Request{Query: query}, "mcp")

		text := fmt.Sprintf("Search started.\nTask ID: %s\nQuery: %s\n\nUse check_task to monitor progress.", taskID, query)
		return mcp.NewToolResultText(text), nil
	}
}
