package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/internal/actions"
	"github.com/martinemde/roast-sub000/internal/engine"
	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// --- Test doubles ---

// echoCommands succeeds with "out:<command>" unless the command is "false".
type echoCommands struct{}

func (echoCommands) Run(_ context.Context, command string) (actions.CommandResult, error) {
	if command == "false" {
		return actions.CommandResult{ExitStatus: 1}, nil
	}
	return actions.CommandResult{Stdout: "out:" + command + "\n"}, nil
}

type recordingRunner struct {
	wf   *schema.Workflow
	opts engine.RunOptions
}

func (r *recordingRunner) Run(_ context.Context, wf *schema.Workflow, opts engine.RunOptions) (*engine.Result, error) {
	r.wf, r.opts = wf, opts
	return &engine.Result{SessionID: opts.SessionID, Status: schema.RunStatusCompleted, State: schema.NewWorkflowState()}, nil
}

type greeter struct{}

func (greeter) Run(context.Context) (any, error) { return "hello", nil }

// --- Helpers ---

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func writeWorkflow(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error: %+v", res.Content)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func newEngineServer(t *testing.T) (*RoastServer, store.Repository, string) {
	t.Helper()
	repo := store.NewMemoryStore()
	e, err := engine.New(engine.Deps{Commands: echoCommands{}, Store: repo, Logger: quietLogger()})
	require.NoError(t, err)
	dir := t.TempDir()
	s := NewRoastServer(RoastServerDeps{Runner: e, Store: repo, WorkflowDir: dir, Logger: quietLogger()})
	return s, repo, dir
}

// --- roast.execute ---

func TestExecuteTool_RunsWorkflowAndSavesSnapshots(t *testing.T) {
	s, _, dir := newEngineServer(t)
	writeWorkflow(t, dir, "greet.yml", "steps:\n  - $(echo hi)\n  - stamp: $(date)\n")

	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{
		"workflow":   "greet.yml",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)

	assert.Equal(t, "greet", out["workflow"])
	assert.Equal(t, "sess-1", out["session_id"])
	assert.Equal(t, "completed", out["status"])
	assert.EqualValues(t, 2, out["steps_run"])

	state, ok := out["state"].(map[string]any)
	require.True(t, ok)
	output, ok := state["output"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "out:echo hi", output["$(echo hi)"])
	assert.Equal(t, "out:date", output["stamp"])

	res, err = s.handleSnapshots(context.Background(), buildRequest("roast.snapshots", map[string]any{
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	snaps := decodeResult(t, res)
	assert.Equal(t, false, snaps["active"])
	list, ok := snaps["snapshots"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "$(echo hi)", first["step"])
	assert.EqualValues(t, 0, first["order"])
	assert.NotContains(t, first, "state")
}

func TestExecuteTool_DefaultSessionID(t *testing.T) {
	s, _, dir := newEngineServer(t)
	writeWorkflow(t, dir, "greet.yml", "steps:\n  - $(echo hi)\n")

	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{"workflow": "greet.yml"}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, engine.DefaultSessionID("greet", ""), out["session_id"])
}

func TestExecuteTool_PassesOptions(t *testing.T) {
	runner := &recordingRunner{}
	dir := t.TempDir()
	path := writeWorkflow(t, dir, "review.yml", "name: review\ntarget: a.go\nsteps: [summarize]\n")
	s := NewRoastServer(RoastServerDeps{Runner: runner, Logger: quietLogger()})

	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{
		"workflow":   path,
		"target":     "b.go",
		"replay":     "20260101_000000_000:summarize",
		"session_id": "s",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	require.NotNil(t, runner.wf)
	assert.Equal(t, "review", runner.wf.Name)
	assert.Equal(t, "b.go", runner.wf.Target)
	assert.Equal(t, "20260101_000000_000:summarize", runner.opts.Replay)
	assert.Equal(t, "s", runner.opts.SessionID)
	assert.NotNil(t, runner.opts.Observer)
	assert.False(t, s.sessions.Active("s"), "session released after the run")
}

func TestExecuteTool_Errors(t *testing.T) {
	s, _, dir := newEngineServer(t)
	writeWorkflow(t, dir, "fails.yml", "steps:\n  - $(false)\n")
	writeWorkflow(t, dir, "broken.yml", "steps: nope\n")

	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "workflow is required")

	res, err = s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{"workflow": "missing.yml"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "failed to load workflow")

	res, err = s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{"workflow": "broken.yml"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "failed to load workflow")

	res, err = s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{"workflow": "fails.yml"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "workflow execution failed")
}

func TestExecuteTool_SessionBusy(t *testing.T) {
	s, _, dir := newEngineServer(t)
	writeWorkflow(t, dir, "greet.yml", "steps:\n  - $(echo hi)\n")

	release, ok := s.sessions.Begin("busy")
	require.True(t, ok)
	defer release()

	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{
		"workflow":   "greet.yml",
		"session_id": "busy",
	}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "in progress")
}

func TestExecuteTool_NoRunner(t *testing.T) {
	s := NewRoastServer(RoastServerDeps{Logger: quietLogger()})
	res, err := s.handleExecute(context.Background(), buildRequest("roast.execute", map[string]any{"workflow": "x.yml"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "no workflow runner")
}

// --- roast.validate ---

func TestValidateTool(t *testing.T) {
	s, _, dir := newEngineServer(t)
	writeWorkflow(t, dir, "good.yml", "name: good\nsteps:\n  - a\n  - named: b\n")
	writeWorkflow(t, dir, "bad.yml", "steps:\n  - each: x\n    steps: [a]\n")

	res, err := s.handleValidate(context.Background(), buildRequest("roast.validate", map[string]any{"workflow": "good.yml"}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "good", out["name"])
	assert.Equal(t, []any{"a", "named"}, out["steps"])

	res, err = s.handleValidate(context.Background(), buildRequest("roast.validate", map[string]any{"workflow": "bad.yml"}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, false, out["valid"])
	assert.True(t, strings.Contains(out["error"].(string), "CONFIGURATION_ERROR"))
	details, ok := out["details"].(map[string]any)
	require.True(t, ok)
	assert.NotZero(t, details["error_count"])

	res, err = s.handleValidate(context.Background(), buildRequest("roast.validate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

// --- roast.snapshots ---

func TestSnapshotsTool(t *testing.T) {
	s, repo, _ := newEngineServer(t)
	state := schema.NewWorkflowState()
	state.SetOutput("a", "1")
	require.NoError(t, repo.Save(context.Background(), &schema.StateRecord{
		SessionID: "s", Timestamp: "20260101_000000_000", StepName: "a", Order: 0, State: state,
	}))

	res, err := s.handleSnapshots(context.Background(), buildRequest("roast.snapshots", map[string]any{
		"session_id":    "s",
		"timestamp":     "20260101_000000_000",
		"include_state": true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	list := out["snapshots"].([]any)
	require.Len(t, list, 1)
	snap := list[0].(map[string]any)
	assert.Equal(t, "a", snap["step"])
	assert.Equal(t, "20260101_000000_000", snap["timestamp"])
	savedState, ok := snap["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": "1"}, savedState["output"])

	res, err = s.handleSnapshots(context.Background(), buildRequest("roast.snapshots", map[string]any{"session_id": "unknown"}))
	require.NoError(t, err)
	assert.Empty(t, decodeResult(t, res)["snapshots"])
}

func TestSnapshotsTool_Errors(t *testing.T) {
	s := NewRoastServer(RoastServerDeps{Logger: quietLogger()})

	res, err := s.handleSnapshots(context.Background(), buildRequest("roast.snapshots", map[string]any{}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "session_id is required")

	res, err = s.handleSnapshots(context.Background(), buildRequest("roast.snapshots", map[string]any{"session_id": "s"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "no state store")
}

// --- roast.steps ---

func TestStepsTool(t *testing.T) {
	reg := actions.NewStepRegistry()
	require.NoError(t, reg.Register("greet", greeter{}, "says hello"))
	s := NewRoastServer(RoastServerDeps{Steps: reg, Logger: quietLogger()})

	res, err := s.handleSteps(context.Background(), buildRequest("roast.steps", nil))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, []any{map[string]any{"name": "greet", "description": "says hello"}}, out["steps"])

	s = NewRoastServer(RoastServerDeps{Logger: quietLogger()})
	res, err = s.handleSteps(context.Background(), buildRequest("roast.steps", nil))
	require.NoError(t, err)
	assert.Empty(t, decodeResult(t, res)["steps"])
}

func TestRunNotifier_OutsideSessionIsNoop(t *testing.T) {
	s := NewRoastServer(RoastServerDeps{Logger: quietLogger()})
	assert.NotPanics(t, func() {
		s.notifier.Notify(context.Background(), schema.Event{Type: schema.EventWorkflowStarted})
	})
}
