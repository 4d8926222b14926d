// Package mcp exposes the search orchestrator to MCP clients so an
// agent can launch and monitor searches alongside WebSocket consumers.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/carscope/carscope/internal/mcp/handlers"
	"github.com/carscope/carscope/internal/task"
)

// Deps holds shared dependencies injected into MCP handlers.
type Deps struct {
	Orchestrator *task.Orchestrator
	History      handlers.SearchHistory
	Version      string
}

// NewServer creates and configures the MCP server with all tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Carscope",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
