package engine

import (
	"context"
	"log/slog"
	"regexp"
	"sync"

	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

var replayTimestamp = regexp.MustCompile(`^(\d{8}_\d{6}_\d{3}):(.+)$`)

// ParseReplayTarget splits "timestamp:step" into its parts. A bare step
// name has an empty timestamp.
func ParseReplayTarget(target string) (timestamp, step string) {
	if m := replayTimestamp.FindStringSubmatch(target); m != nil {
		return m[1], m[2]
	}
	return "", target
}

// ReplayHandler resumes a run at a named step from the snapshot taken just
// before it. It acts once; later calls return the steps unchanged.
type ReplayHandler struct {
	repo      store.Repository
	sessionID string
	logger    *slog.Logger

	mu        sync.Mutex
	processed bool
}

// NewReplayHandler creates a ReplayHandler for sessionID.
func NewReplayHandler(repo store.Repository, sessionID string, logger *slog.Logger) *ReplayHandler {
	return &ReplayHandler{repo: repo, sessionID: sessionID, logger: logger}
}

// Processed reports whether Process has already run.
func (h *ReplayHandler) Processed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed
}

// Process restores state from the snapshot recorded before the target step
// and returns the steps from the target onwards. When the target is unknown
// or no snapshot exists it logs a warning and returns steps unchanged.
func (h *ReplayHandler) Process(ctx context.Context, state *schema.WorkflowState, steps []schema.Step, target string) []schema.Step {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.processed || target == "" {
		return steps
	}
	h.processed = true

	timestamp, name := ParseReplayTarget(target)
	idx := -1
	for i := range steps {
		if steps[i].ID() == name {
			idx = i
			break
		}
	}
	log := h.logger.With(slog.String("replay_target", name), slog.String("session_id", h.sessionID))
	if idx < 0 {
		log.WarnContext(ctx, "replay target not found in workflow; running all steps")
		return steps
	}
	if h.repo == nil {
		log.WarnContext(ctx, "no state store configured; running all steps")
		return steps
	}

	rec, err := h.repo.LoadBefore(ctx, h.sessionID, name, timestamp)
	if err != nil {
		log.WarnContext(ctx, "failed to load state snapshot; running all steps", slog.String("error", err.Error()))
		return steps
	}
	if rec == nil || rec.State == nil {
		log.WarnContext(ctx, "no state snapshot before replay target; running all steps")
		return steps
	}

	state.Restore(rec.State)
	log.InfoContext(ctx, "replaying workflow",
		slog.String("restored_from", rec.StepName),
		slog.String("run", rec.Timestamp),
		slog.Int("skipped", idx))
	return steps[idx:]
}
