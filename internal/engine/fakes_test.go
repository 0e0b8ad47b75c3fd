package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/internal/actions"
	"github.com/martinemde/roast-sub000/internal/input"
	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

const (
	testSession   = "test_session"
	testTimestamp = "20260101_000000_000"
)

// --- Test doubles ---

// fakeProvider answers "ok:<prompt>" unless respond is set.
type fakeProvider struct {
	mu      sync.Mutex
	respond func(prompt string, opts provider.Options) (any, error)
	prompts []string
	opts    []provider.Options
}

func (p *fakeProvider) Execute(_ context.Context, prompt string, opts provider.Options) (any, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.opts = append(p.opts, opts)
	respond := p.respond
	p.mu.Unlock()
	if respond != nil {
		return respond(prompt, opts)
	}
	return "ok:" + prompt, nil
}

func (p *fakeProvider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// fakeCommands replays queued results per command; the last queued result
// repeats. Unknown commands succeed and echo themselves.
type fakeCommands struct {
	mu      sync.Mutex
	results map[string][]actions.CommandResult
	calls   []string
}

func newFakeCommands() *fakeCommands {
	return &fakeCommands{results: map[string][]actions.CommandResult{}}
}

func (f *fakeCommands) On(command string, results ...actions.CommandResult) *fakeCommands {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[command] = results
	return f
}

func (f *fakeCommands) Run(_ context.Context, command string) (actions.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	q, ok := f.results[command]
	if !ok || len(q) == 0 {
		return actions.CommandResult{Stdout: command + "\n"}, nil
	}
	r := q[0]
	if len(q) > 1 {
		f.results[command] = q[1:]
	}
	return r, nil
}

func (f *fakeCommands) Calls(command string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == command {
			n++
		}
	}
	return n
}

// fakePrompter hands out answers in order, then reports no more input.
type fakePrompter struct {
	mu       sync.Mutex
	answers  []string
	requests []input.Request
	block    bool
}

func (p *fakePrompter) Ask(ctx context.Context, req input.Request) (string, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	block := p.block
	var answer string
	ok := len(p.answers) > 0
	if ok {
		answer, p.answers = p.answers[0], p.answers[1:]
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if !ok {
		return "", input.ErrNoInput
	}
	return answer, nil
}

// namedRunner is a custom step object that counts its calls.
type namedRunner struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(call int) (any, error)
}

func (r *namedRunner) Name() string { return r.name }

func (r *namedRunner) Run(context.Context) (any, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	return r.fn(call)
}

func (r *namedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// --- Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestEngine(t *testing.T, deps Deps) *Engine {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = discardLogger()
	}
	if deps.Sleep == nil {
		deps.Sleep = noSleep
	}
	e, err := New(deps)
	require.NoError(t, err)
	return e
}

func runOpts() RunOptions {
	return RunOptions{SessionID: testSession, Timestamp: testTimestamp}
}

func literal(text string) schema.Step { return schema.Step{Kind: schema.StepKindLiteral, Text: text} }

func command(text string) schema.Step { return schema.Step{Kind: schema.StepKindCommand, Text: text} }

func boolPtr(b bool) *bool { return &b }

func outputOf(t *testing.T, state *schema.WorkflowState, key string) any {
	t.Helper()
	v, ok := state.GetOutput(key)
	require.True(t, ok, "output %q not set", key)
	return v
}

func named(name string, nested schema.Step) schema.Step {
	return schema.Step{Kind: schema.StepKindNamed, Name: name, Steps: []schema.Step{nested}}
}
