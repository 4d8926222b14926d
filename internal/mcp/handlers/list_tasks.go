package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/task"
)

// ListTasks returns a handler that lists search tasks with optional filters.
func ListTasks(orch *task.Orchestrator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		status, _ := args["status"].(string)
		limit := 10
		if n, ok := args["limit"].(float64); ok && n > 0 {
			limit = int(n)
		}

		var tasks []task.Snapshot
		for _, snap := range orch.ListActiveTasks() {
			if status != "" && status != "all" && string(snap.Status) != status {
				continue
			}
			tasks = append(tasks, snap)
			if len(tasks) >= limit {
				break
			}
		}

		if len(tasks) == 0 {
			return mcp.NewToolResultText("No tasks found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Search tasks (%d found)\n\n", len(tasks))

		for _, t := range tasks {
			fmt.Fprintf(&sb, "%s **%s** — %s\n", statusIcon(t.Status), t.ID, t.Status)
			fmt.Fprintf(&sb, "  Query: %s\n", t.Query)

			if t.Status == task.StatusInProgress {
				fmt.Fprintf(&sb, "  Progress: %.0f%%\n", t.Progress)
			}
			if t.Status == task.StatusCompleted {
				if n, ok := t.Result["total_cars"]; ok {
					fmt.Fprintf(&sb, "  Cars found: %v\n", n)
				}
			}
			if t.ErrorMessage != "" {
				fmt.Fprintf(&sb, "  Error: %s\n", t.ErrorMessage)
			}

			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusPending:
		return "⏳"
	case task.StatusInProgress:
		return "🔄"
	case task.StatusCompleted:
		return "✅"
	case task.StatusFailed:
		return "❌"
	case task.StatusCancelled:
		return "🚫"
	default:
		return "❓"
	}
}
