package retry

import (
	"context"
	"log/slog"

	"github.com/martinemde/roast-sub000/internal/logging"
	"github.com/martinemde/roast-sub000/internal/metrics"
)

// Handler observes the retry lifecycle. Handlers cannot change the retry
// decision; a panicking handler is recovered and logged by Retryable.
type Handler interface {
	BeforeAttempt(ctx context.Context, attempt int)
	OnRetry(ctx context.Context, err error, attempt int)
	OnSuccess(ctx context.Context, attempt int)
	OnFailure(ctx context.Context, err error)
}

// NopHandler implements Handler with no-ops. Embed it to implement only
// the callbacks you need.
type NopHandler struct{}

func (NopHandler) BeforeAttempt(context.Context, int) {}
func (NopHandler) OnRetry(context.Context, error, int) {}
func (NopHandler) OnSuccess(context.Context, int) {}
func (NopHandler) OnFailure(context.Context, error) {}

// LoggingHandler logs retries at warn and exhaustion at error.
type LoggingHandler struct {
	NopHandler
	Logger *slog.Logger
}

// NewLoggingHandler creates a LoggingHandler. A nil logger uses the default.
func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	return &LoggingHandler{Logger: logging.OrDefault(logger)}
}

func (h *LoggingHandler) BeforeAttempt(ctx context.Context, attempt int) {
	if attempt > 1 {
		logging.LogWith(ctx, h.Logger).Debug("retry attempt starting", "attempt", attempt)
	}
}

func (h *LoggingHandler) OnRetry(ctx context.Context, err error, attempt int) {
	logging.LogWith(ctx, h.Logger).Warn("attempt failed; retrying", "attempt", attempt, "error", err)
}

func (h *LoggingHandler) OnSuccess(ctx context.Context, attempt int) {
	if attempt > 1 {
		logging.LogWith(ctx, h.Logger).Info("succeeded after retry", "attempts", attempt)
	}
}

func (h *LoggingHandler) OnFailure(ctx context.Context, err error) {
	logging.LogWith(ctx, h.Logger).Error("retries exhausted", "error", err)
}

// MetricsHandler counts retry events in Prometheus, labelled by the step
// carried in the context.
type MetricsHandler struct {
	NopHandler
	Metrics *metrics.Metrics
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{Metrics: m}
}

func (h *MetricsHandler) OnRetry(ctx context.Context, _ error, _ int) {
	h.Metrics.IncRetry(logging.Step(ctx), metrics.OutcomeRetry)
}

func (h *MetricsHandler) OnSuccess(ctx context.Context, _ int) {
	h.Metrics.IncRetry(logging.Step(ctx), metrics.OutcomeSuccess)
}

func (h *MetricsHandler) OnFailure(ctx context.Context, _ error) {
	h.Metrics.IncRetry(logging.Step(ctx), metrics.OutcomeFailure)
}
