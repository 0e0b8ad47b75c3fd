package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/internal/logging"
	"github.com/martinemde/roast-sub000/internal/metrics"
	"github.com/martinemde/roast-sub000/internal/retry"
	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// DefaultMaxIterations caps repeat loops that set no max_iterations.
const DefaultMaxIterations = 100

const tracerName = "github.com/martinemde/roast-sub000/internal/engine"

// Deps are the collaborators an Engine drives. Only the ones the workflow's
// steps need are required; a missing one fails the step that needs it.
type Deps struct {
	Provider ActionProvider
	Commands CommandRunner
	Prompter Prompter
	Steps    StepLookup
	Store    store.Repository
	Registry *Registry

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Sleep waits between retry attempts. Defaults to retry.Sleep.
	Sleep retry.SleepFunc

	MaxIterations int
}

// Coordinator is the engine as seen by step executors.
type Coordinator interface {
	// ExecuteStep runs one step, applying its retry configuration. It does
	// not bind the result into output.
	ExecuteStep(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error)

	// ExecuteSteps runs steps in order, binding leaf results into output
	// under each step's ID, and stops at the first error.
	ExecuteSteps(ctx context.Context, ec *ExecutionContext, steps []schema.Step) ([]any, error)

	// Interpolate expands {{ }} markers in text.
	Interpolate(ctx context.Context, ec *ExecutionContext, text string) string

	// Evaluate runs one template expression and returns its typed value.
	Evaluate(ctx context.Context, ec *ExecutionContext, expression string) (any, error)

	// CEL evaluates bare condition expressions.
	CEL() *expressions.CELEngine

	Deps() Deps
	Logger(ctx context.Context) *slog.Logger
}

// RunOptions are already-resolved execution options for one run.
type RunOptions struct {
	SessionID string
	Timestamp string

	// Replay is "step" or "timestamp:step".
	Replay string

	// Retries and ExitOnError override the workflow's step options by step ID.
	Retries     map[string]int
	ExitOnError map[string]bool

	// Observer, when set, receives run events synchronously.
	Observer func(context.Context, schema.Event)
}

// Result is the outcome of a run.
type Result struct {
	SessionID    string                `json:"session_id"`
	Timestamp    string                `json:"timestamp"`
	Status       schema.RunStatus      `json:"status"`
	State        *schema.WorkflowState `json:"state"`
	ReplayedFrom string                `json:"replayed_from,omitempty"`
	StepsRun     int                   `json:"steps_run"`
	Duration     time.Duration         `json:"duration"`
}

// FinalOutput joins the final output lines with blank lines.
func (r *Result) FinalOutput() string {
	if r == nil || r.State == nil {
		return ""
	}
	return strings.Join(r.State.FinalOutput, "\n\n")
}

// Engine executes workflows.
type Engine struct {
	deps   Deps
	logger *slog.Logger
	tracer trace.Tracer
	interp *expressions.Interpolator
	cel    *expressions.CELEngine
}

// New creates an Engine, filling unset deps with defaults.
func New(deps Deps) (*Engine, error) {
	deps.Logger = logging.OrDefault(deps.Logger)
	if deps.Registry == nil {
		deps.Registry = DefaultRegistry()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = DefaultMaxIterations
	}
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engine{
		deps:   deps,
		logger: deps.Logger,
		tracer: deps.Tracer,
		interp: expressions.NewInterpolator(deps.Logger),
		cel:    cel,
	}, nil
}

// Run executes wf from the start, or from a replay target when one is given.
// A snapshot is saved after every top-level step that completes.
func (e *Engine) Run(ctx context.Context, wf *schema.Workflow, opts RunOptions) (*Result, error) {
	if wf == nil {
		return nil, schema.ConfigurationError("workflow is nil")
	}
	start := time.Now()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID(wf.Name, wf.Target)
	}
	timestamp := opts.Timestamp
	if timestamp == "" {
		timestamp = DefaultTimestamp(start)
	}

	ctx = logging.WithWorkflow(ctx, wf.Name)
	ctx = logging.WithSession(ctx, sessionID)
	ctx, span := e.tracer.Start(ctx, "roast.workflow", trace.WithAttributes(
		attribute.String("roast.workflow", wf.Name),
		attribute.String("roast.session_id", sessionID),
		attribute.String("roast.timestamp", timestamp),
	))
	defer span.End()

	state := schema.NewWorkflowState()
	info := expressions.WorkflowInfo{Name: wf.Name, SessionID: sessionID, Timestamp: timestamp, Target: wf.Target}
	ec := NewExecutionContext(wf, state, info).WithOverrides(opts.Retries, opts.ExitOnError)

	result := &Result{SessionID: sessionID, Timestamp: timestamp, State: state}
	emit := func(typ, step string, order int, err error) {
		if opts.Observer == nil {
			return
		}
		ev := schema.Event{
			Type: typ, Workflow: wf.Name, SessionID: sessionID, Timestamp: timestamp,
			Step: step, Order: order, At: time.Now().UTC(),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		opts.Observer(ctx, ev)
	}

	emit(schema.EventWorkflowStarted, "", 0, nil)
	steps := wf.Steps
	if opts.Replay != "" {
		replay := NewReplayHandler(e.deps.Store, sessionID, e.logger)
		steps = replay.Process(ctx, state, steps, opts.Replay)
		if len(steps) < len(wf.Steps) {
			result.ReplayedFrom = steps[0].ID()
			emit(schema.EventWorkflowReplayed, result.ReplayedFrom, 0, nil)
		}
	}

	states := NewStateManager(e.deps.Store, sessionID, timestamp, e.logger, e.deps.Metrics)
	e.Logger(ctx).Info("workflow started", slog.Int("steps", len(steps)))

	for i := range steps {
		step := &steps[i]
		if _, err := e.executeMember(ctx, ec, step); err != nil {
			result.Duration = time.Since(start)
			result.Status = schema.RunStatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.Logger(ctx).Error("workflow failed", slog.String("step", step.ID()), slog.String("error", err.Error()))
			emit(schema.EventStepFailed, step.ID(), 0, err)
			emit(schema.EventWorkflowFailed, step.ID(), 0, err)
			return result, err
		}
		order := states.Save(ctx, state, step.ID())
		result.StepsRun++
		emit(schema.EventStepCompleted, step.ID(), order, nil)
	}

	result.Duration = time.Since(start)
	result.Status = schema.RunStatusCompleted
	emit(schema.EventWorkflowCompleted, "", 0, nil)
	e.Logger(ctx).Info("workflow completed", slog.Int("steps_run", result.StepsRun), slog.Duration("duration", result.Duration))
	return result, nil
}

// ExecuteStep runs one step inside its own span, retrying it when the step
// is configured with retries and exit_on_error is not disabled.
func (e *Engine) ExecuteStep(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	id := step.ID()
	ctx = logging.WithStep(ctx, id)
	ctx, span := e.tracer.Start(ctx, "roast.step", trace.WithAttributes(
		attribute.String("roast.step.id", id),
		attribute.String("roast.step.kind", string(step.Kind)),
	))
	defer span.End()

	start := time.Now()
	result, err := e.execute(ctx, ec, step, id)
	e.deps.Metrics.ObserveStep(string(step.Kind), time.Since(start), err, errorCode(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (e *Engine) execute(ctx context.Context, ec *ExecutionContext, step *schema.Step, id string) (any, error) {
	ctor, err := e.deps.Registry.Lookup(step)
	if err != nil {
		return nil, err
	}
	executor := ctor(e)
	attempt := func(ctx context.Context) (any, error) {
		return executor.Execute(ctx, ec, step)
	}

	// A named step with a single nested step hands its options to that step,
	// which retries on its own.
	if step.Kind == schema.StepKindNamed && !step.Sequence {
		return attempt(ctx)
	}
	cfg := ec.StepConfig(ec.ConfigID(step))
	if !cfg.ExitsOnError() || (cfg.Retries <= 0 && cfg.Retry == nil) {
		return attempt(ctx)
	}
	policy, err := e.retryPolicy(cfg)
	if err != nil {
		if re, ok := err.(*schema.RoastError); ok {
			return nil, re.WithStep(id)
		}
		return nil, err
	}
	r := retry.NewRetryable(policy, retry.WithSleep(e.deps.Sleep), retry.WithLogger(e.Logger(ctx)))
	return r.Execute(ctx, attempt)
}

func (e *Engine) retryPolicy(cfg schema.StepConfig) (*retry.Policy, error) {
	opts := retry.FactoryOptions{Logger: e.logger, Metrics: e.deps.Metrics}
	var (
		policy *retry.Policy
		err    error
	)
	if cfg.Retry != nil {
		m := make(map[string]any, len(cfg.Retry)+1)
		for k, v := range cfg.Retry {
			m[k] = v
		}
		if _, ok := m["max_attempts"]; !ok && cfg.Retries > 0 {
			m["max_attempts"] = cfg.Retries + 1
		}
		policy, err = retry.FromConfig(m, opts)
	} else {
		policy, err = retry.Default(cfg.Retries, opts)
	}
	if err != nil {
		return nil, err
	}
	return policy.WithMatcher(retry.NonFatal(policy.Matcher())), nil
}

// ExecuteSteps runs steps in order, binding leaf results into output.
func (e *Engine) ExecuteSteps(ctx context.Context, ec *ExecutionContext, steps []schema.Step) ([]any, error) {
	results := make([]any, 0, len(steps))
	for i := range steps {
		res, err := e.executeMember(ctx, ec, &steps[i])
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (e *Engine) executeMember(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	res, err := e.ExecuteStep(ctx, ec, step)
	if err != nil {
		return nil, err
	}
	if step.Kind.IsLeaf() {
		ec.State.SetOutput(step.ID(), res)
	}
	return res, nil
}

// Interpolate expands {{ }} markers against the context's scope.
func (e *Engine) Interpolate(ctx context.Context, ec *ExecutionContext, text string) string {
	return e.interp.Interpolate(ctx, text, ec.Scope())
}

// Evaluate runs one template expression against the context's scope.
func (e *Engine) Evaluate(ctx context.Context, ec *ExecutionContext, expression string) (any, error) {
	return e.interp.Evaluate(ctx, expression, ec.Scope())
}

// CEL returns the condition engine.
func (e *Engine) CEL() *expressions.CELEngine { return e.cel }

// Deps returns the engine's collaborators.
func (e *Engine) Deps() Deps { return e.deps }

// Logger returns the engine logger enriched with the context's correlation values.
func (e *Engine) Logger(ctx context.Context) *slog.Logger {
	return logging.LogWith(ctx, e.logger)
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return schema.Codes(err)[0]
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// DefaultSessionID is the sanitized workflow name plus an 8-hex digest of
// the target, so runs over different targets keep separate sessions.
func DefaultSessionID(name, target string) string {
	base := strings.Trim(nonWord.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if base == "" {
		base = "workflow"
	}
	sum := sha256.Sum256([]byte(target))
	return base + "_" + hex.EncodeToString(sum[:])[:8]
}

// DefaultTimestamp formats t as YYYYMMDD_HHMMSS_mmm in UTC.
func DefaultTimestamp(t time.Time) string {
	return strings.Replace(t.UTC().Format("20060102_150405.000"), ".", "_", 1)
}

var _ Coordinator = (*Engine)(nil)
