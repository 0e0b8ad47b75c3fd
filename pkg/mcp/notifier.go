package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// RunNotifier forwards run events to the MCP client whose tool call started
// the run, as notifications/message log entries.
type RunNotifier struct {
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewRunNotifier creates a notifier that pushes through mcpServer.
func NewRunNotifier(mcpServer *server.MCPServer, logger *slog.Logger) *RunNotifier {
	return &RunNotifier{mcpServer: mcpServer, logger: logger}
}

// Notify sends ev to the client session in ctx. Best-effort: a call made
// outside a client session, or a client that went away, is not an error.
func (n *RunNotifier) Notify(ctx context.Context, ev schema.Event) {
	if server.ClientSessionFromContext(ctx) == nil {
		return
	}
	level := mcp.LoggingLevelInfo
	if ev.Error != "" {
		level = mcp.LoggingLevelError
	}
	err := n.mcpServer.SendNotificationToClient(ctx, "notifications/message", map[string]any{
		"level":  level,
		"logger": "roast",
		"data":   ev,
	})
	if err != nil {
		n.logger.DebugContext(ctx, "run notification not delivered",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()))
	}
}
