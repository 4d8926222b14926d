package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/task"
)

const longPollMaxWait = 30

// CheckTask returns a handler that reports a task's current status.
// When wait_seconds > 0 and the task is still running, it blocks until
// the task finishes or the timeout expires.
func CheckTask(orch *task.Orchestrator) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		taskID, _ := args["task_id"].(string)
		if taskID == "" {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		snap, ok := orch.GetTaskStatus(taskID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("Task not found: %s", taskID)), nil
		}

		waitSeconds := 0
		if w, ok := args["wait_seconds"].(float64); ok && w > 0 {
			waitSeconds = int(w)
			if waitSeconds > longPollMaxWait {
				waitSeconds = longPollMaxWait
			}
		}

		if waitSeconds > 0 && !snap.Status.IsTerminal() {
			if done, ok := orch.TaskDone(taskID); ok {
				select {
				case <-ctx.Done():
				case <-done:
				case <-time.After(time.Duration(waitSeconds) * time.Second):
				}
				snap, _ = orch.GetTaskStatus(taskID)
			}
		}

		return mcp.NewToolResultText(formatCheckResponse(snap)), nil
	}
}

func formatCheckResponse(snap task.Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", snap.Status)
	fmt.Fprintf(&b, "Query: %s\n", snap.Query)

	switch snap.Status {
	case task.StatusPending:

	case task.StatusInProgress:
		fmt.Fprintf(&b, "Progress: %.0f%%\n", snap.Progress)
		fmt.Fprintf(&b, "Elapsed: %s\n", formatDuration(time.Since(snap.StartedAt)))

	case task.StatusCompleted:
		fmt.Fprintf(&b, "Duration: %s\n", formatDuration(snap.CompletedAt.Sub(snap.StartedAt)))
		if n, ok := snap.Result["total_cars"]; ok {
			fmt.Fprintf(&b, "Cars found: %v\n", n)
		}

	case task.StatusFailed:
		if snap.ErrorMessage != "" {
			fmt.Fprintf(&b, "Error: %s\n", snap.ErrorMessage)
		}

	case task.StatusCancelled:
		fmt.Fprintf(&b, "Cancelled at: %s\n", snap.CancelledAt.Format(time.RFC3339))
	}

	return b.String()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
