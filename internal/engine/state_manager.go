package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/martinemde/roast-sub000/internal/metrics"
	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// StateManager snapshots the workflow state after each top-level step of
// one run. Writes are best-effort: a failed save is logged and counted but
// never fails the run.
type StateManager struct {
	repo      store.Repository
	sessionID string
	timestamp string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewStateManager creates a StateManager for one run. repo may be nil, in
// which case only the execution order is tracked.
func NewStateManager(repo store.Repository, sessionID, timestamp string, logger *slog.Logger, m *metrics.Metrics) *StateManager {
	return &StateManager{repo: repo, sessionID: sessionID, timestamp: timestamp, logger: logger, metrics: m}
}

// Save records that step ran, persists a copy of state and returns the
// step's execution order.
func (sm *StateManager) Save(ctx context.Context, state *schema.WorkflowState, step string) int {
	order := state.RecordExecution(step)
	if sm.repo == nil {
		return order
	}
	rec := &schema.StateRecord{
		SessionID: sm.sessionID,
		Timestamp: sm.timestamp,
		StepName:  step,
		Order:     order,
		State:     state.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	err := sm.repo.Save(ctx, rec)
	sm.metrics.IncSnapshot(err)
	if err != nil {
		sm.logger.WarnContext(ctx, "failed to save state snapshot",
			slog.String("session_id", sm.sessionID),
			slog.String("step", step),
			slog.String("error", err.Error()))
	}
	return order
}
