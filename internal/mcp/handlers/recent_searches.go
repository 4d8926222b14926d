package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/store"
)

// SearchHistory is the slice of the store the history tool needs.
// Defined at the consumer side per Go conventions.
type SearchHistory interface {
	RecentSearches(limit int) ([]store.SearchRecord, error)
}

// RecentSearches returns a handler that lists recent search history.
func RecentSearches(history SearchHistory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		limit := 20
		if n, ok := args["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}

		records, err := history.RecentSearches(limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to read search history: %v", err)), nil
		}
		if len(records) == 0 {
			return mcp.NewToolResultText("No search history yet."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Recent searches (%d)\n\n", len(records))
		for _, rec := range records {
			fmt.Fprintf(&sb, "- %q — %d results in %s (%s)\n",
				rec.Query, rec.ResultCount,
				rec.Duration.Round(time.Millisecond),
				rec.CreatedAt.Format(time.RFC3339))
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
