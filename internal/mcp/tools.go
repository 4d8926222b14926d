package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// start_search — Launch a car search task
	s.AddTool(
		mcp.NewTool("start_search",
			mcp.WithDescription("Start a used-car search. Returns immediately with a task ID. The search runs asynchronously — use check_task to monitor progress."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural-language search query, e.g. 'honda civic under 20000 near Montreal'"),
			),
		),
		handlers.StartSearch(deps.Orchestrator),
	)

	// check_task — Check search task status
	s.AddTool(
		mcp.NewTool("check_task",
			mcp.WithDescription("Check the current status and progress of a search task. Supports long-polling with wait_seconds to reduce polling overhead."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID returned by start_search"),
			),
			mcp.WithNumber("wait_seconds",
				mcp.Description("Wait up to N seconds for the task to finish before responding (long-poll). 0 for immediate response."),
			),
		),
		handlers.CheckTask(deps.Orchestrator),
	)

	// list_tasks — List search tasks
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List search tasks, newest first, with optional filters."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("all", "pending", "in_progress", "completed", "failed", "cancelled"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of tasks to return (default: 10)"),
			),
		),
		handlers.ListTasks(deps.Orchestrator),
	)

	// cancel_task — Cancel a running search task
	s.AddTool(
		mcp.NewTool("cancel_task",
			mcp.WithDescription("Cancel a running or pending search task."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to cancel"),
			),
		),
		handlers.CancelTask(deps.Orchestrator),
	)

	// recent_searches — Search history
	if deps.History != nil {
		s.AddTool(
			mcp.NewTool("recent_searches",
				mcp.WithDescription("List recent search history with result counts and durations."),
				mcp.WithNumber("limit",
					mcp.Description("Maximum number of entries to return (default: 20)"),
				),
			),
			handlers.RecentSearches(deps.History),
		)
	}
}
