package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/martinemde/roast-sub000/internal/engine"
	"github.com/martinemde/roast-sub000/internal/loader"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

type executeResponse struct {
	Workflow     string                `json:"workflow"`
	SessionID    string                `json:"session_id"`
	Timestamp    string                `json:"timestamp"`
	Status       schema.RunStatus      `json:"status"`
	StepsRun     int                   `json:"steps_run"`
	ReplayedFrom string                `json:"replayed_from,omitempty"`
	DurationMs   int64                 `json:"duration_ms"`
	FinalOutput  string                `json:"final_output,omitempty"`
	State        *schema.WorkflowState `json:"state"`
}

type snapshotSummary struct {
	ID        string                `json:"id"`
	Timestamp string                `json:"timestamp"`
	Step      string                `json:"step"`
	Order     int                   `json:"order"`
	CreatedAt time.Time             `json:"created_at"`
	State     *schema.WorkflowState `json:"state,omitempty"`
}

// handleExecute loads a workflow file and runs it to completion. Run events
// are pushed to the calling client as log notifications.
func (s *RoastServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("no workflow runner configured"), nil
	}

	wf, err := s.load(path, req.GetString("target", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load workflow: %v", err)), nil
	}

	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		sessionID = engine.DefaultSessionID(wf.Name, wf.Target)
	}
	release, ok := s.sessions.Begin(sessionID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session %q already has a run in progress", sessionID)), nil
	}
	defer release()

	res, runErr := s.runner.Run(ctx, wf, engine.RunOptions{
		SessionID: sessionID,
		Replay:    req.GetString("replay", ""),
		Observer:  s.notifier.Notify,
	})
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	return marshalResult(executeResponse{
		Workflow:     wf.Name,
		SessionID:    res.SessionID,
		Timestamp:    res.Timestamp,
		Status:       res.Status,
		StepsRun:     res.StepsRun,
		ReplayedFrom: res.ReplayedFrom,
		DurationMs:   res.Duration.Milliseconds(),
		FinalOutput:  res.FinalOutput(),
		State:        res.State,
	})
}

// handleValidate loads a workflow file and reports whether it is valid.
// An invalid workflow is a normal result, not a tool error.
func (s *RoastServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	wf, err := s.load(path, "")
	if err != nil {
		out := map[string]any{"valid": false, "error": err.Error()}
		var roastErr *schema.RoastError
		if errors.As(err, &roastErr) && roastErr.Details != nil {
			out["details"] = roastErr.Details
		}
		return marshalResult(out)
	}

	ids := make([]string, 0, len(wf.Steps))
	for i := range wf.Steps {
		ids = append(ids, wf.Steps[i].ID())
	}
	return marshalResult(map[string]any{
		"valid":  true,
		"name":   wf.Name,
		"target": wf.Target,
		"steps":  ids,
	})
}

// handleSnapshots lists the snapshots of one run of a session.
func (s *RoastServer) handleSnapshots(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no state store configured"), nil
	}

	records, err := s.store.List(ctx, sessionID, req.GetString("timestamp", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("snapshot query failed: %v", err)), nil
	}

	withState := req.GetBool("include_state", false)
	out := make([]snapshotSummary, 0, len(records))
	for _, rec := range records {
		sum := snapshotSummary{
			ID:        rec.ID,
			Timestamp: rec.Timestamp,
			Step:      rec.StepName,
			Order:     rec.Order,
			CreatedAt: rec.CreatedAt,
		}
		if withState {
			sum.State = rec.State
		}
		out = append(out, sum)
	}
	return marshalResult(map[string]any{
		"session_id": sessionID,
		"active":     s.sessions.Active(sessionID),
		"snapshots":  out,
	})
}

// handleSteps lists the registered custom steps.
func (s *RoastServer) handleSteps(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.steps == nil {
		return marshalResult(map[string]any{"steps": []any{}})
	}
	return marshalResult(map[string]any{"steps": s.steps.List()})
}

func (s *RoastServer) load(path, target string) (*schema.Workflow, error) {
	if !filepath.IsAbs(path) && s.workflowDir != "" {
		path = filepath.Join(s.workflowDir, path)
	}
	return loader.Load(path, loader.Options{
		Validator: s.validator,
		Target:    target,
		Logger:    s.logger,
	})
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
