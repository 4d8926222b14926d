package handlers

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/task"
)

// CancelTask returns a handler that cancels a running or pending task.
func CancelTask(orch *task.Orchestrator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		if !orch.CancelTask(taskID) {
			return mcp.NewToolResultError(fmt.Sprintf("Task %s not found or already finished", taskID)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Task %s cancelled. A stage already in flight finishes before the task stops.", taskID)), nil
	}
}
