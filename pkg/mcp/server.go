package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/martinemde/roast-sub000/internal/actions"
	"github.com/martinemde/roast-sub000/internal/engine"
	"github.com/martinemde/roast-sub000/internal/logging"
	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/internal/validation"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// WorkflowRunner executes loaded workflows. *engine.Engine implements it.
type WorkflowRunner interface {
	Run(ctx context.Context, wf *schema.Workflow, opts engine.RunOptions) (*engine.Result, error)
}

// RoastServerDeps holds the dependencies for creating a RoastServer.
type RoastServerDeps struct {
	Runner    WorkflowRunner
	Store     store.Repository
	Steps     *actions.StepRegistry
	Validator *validation.WorkflowValidator

	// WorkflowDir resolves relative workflow paths. Empty means the
	// process working directory.
	WorkflowDir string

	Version string
	Logger  *slog.Logger
}

// RoastServer wraps an MCP server with the roast tool handlers.
type RoastServer struct {
	runner      WorkflowRunner
	store       store.Repository
	steps       *actions.StepRegistry
	validator   *validation.WorkflowValidator
	workflowDir string
	sessions    *SessionRegistry
	notifier    *RunNotifier
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewRoastServer creates a RoastServer with all tools registered.
func NewRoastServer(deps RoastServerDeps) *RoastServer {
	logger := logging.OrDefault(deps.Logger)
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &RoastServer{
		runner:      deps.Runner,
		store:       deps.Store,
		steps:       deps.Steps,
		validator:   deps.Validator,
		workflowDir: deps.WorkflowDir,
		sessions:    NewSessionRegistry(),
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"roast",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("Roast runs declarative AI workflows defined in YAML. Use roast.validate to check a workflow file, roast.execute to run it, roast.snapshots to inspect the state saved after each step of a session, and roast.steps to list the custom steps workflows can reference with !step."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewRunNotifier(mcpSrv, logger)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *RoastServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *RoastServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *RoastServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: snapshotsTool(), Handler: s.handleSnapshots},
		{Tool: stepsTool(), Handler: s.handleSteps},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("roast.execute",
		mcp.WithDescription("Run a workflow file and return its final state"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Path to the workflow YAML file")),
		mcp.WithString("target", mcp.Description("Target resource; overrides the workflow's own target")),
		mcp.WithString("replay", mcp.Description("Resume from a step: 'step' or 'timestamp:step'")),
		mcp.WithString("session_id", mcp.Description("Session id (default: derived from workflow name and target)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("roast.validate",
		mcp.WithDescription("Check a workflow file without running it"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Path to the workflow YAML file")),
	)
}

func snapshotsTool() mcp.Tool {
	return mcp.NewTool("roast.snapshots",
		mcp.WithDescription("List the state snapshots of a session run"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id to inspect")),
		mcp.WithString("timestamp", mcp.Description("Run timestamp (default: latest run)")),
		mcp.WithBoolean("include_state", mcp.Description("Include the full saved state of every snapshot")),
	)
}

func stepsTool() mcp.Tool {
	return mcp.NewTool("roast.steps",
		mcp.WithDescription("List registered custom steps"),
	)
}
