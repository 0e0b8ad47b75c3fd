package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/internal/steps"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// --- Literal and agent steps ---

type literalExecutor struct{ c Coordinator }

func newLiteralExecutor(c Coordinator) StepExecutor { return &literalExecutor{c: c} }

// Execute runs a registered custom step of that name, or sends the prompt
// (or the prompt file it names) to the action provider.
func (x *literalExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	text := x.c.Interpolate(ctx, ec, step.Text)

	if lookup := x.c.Deps().Steps; lookup != nil && isToken(text) {
		if runner, ok := lookup.Lookup(text); ok {
			return runCustom(ctx, ec, step, runner)
		}
	}
	if prompt, ok := loadPromptFile(ec.ContextPath, text); ok {
		text = x.c.Interpolate(ctx, ec, prompt)
	}
	return ask(ctx, x.c, ec, step, text, false)
}

type agentExecutor struct{ c Coordinator }

func newAgentExecutor(c Coordinator) StepExecutor { return &agentExecutor{c: c} }

func (x *agentExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	text := strings.TrimSpace(strings.TrimPrefix(step.Text, "^"))
	text = x.c.Interpolate(ctx, ec, text)
	if prompt, ok := loadPromptFile(ec.ContextPath, text); ok {
		text = x.c.Interpolate(ctx, ec, prompt)
	}
	return ask(ctx, x.c, ec, step, text, true)
}

// ask sends prompt to the action provider and records the exchange in the
// transcript.
func ask(ctx context.Context, c Coordinator, ec *ExecutionContext, step *schema.Step, prompt string, agent bool) (any, error) {
	id := step.ID()
	p := c.Deps().Provider
	if p == nil {
		return nil, schema.ConfigurationError("step needs an action provider but none is configured").WithStep(id)
	}
	key := ec.ConfigID(step)
	cfg := ec.StepConfig(key)
	opts := provider.Options{
		StepName:   id,
		Model:      ec.Model(key),
		Agent:      agent,
		JSON:       cfg.JSON,
		Transcript: append([]schema.Message(nil), ec.State.Transcript...),
	}

	res, err := p.Execute(ctx, prompt, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, schema.StepExecutionError(id, err)
	}

	ec.State.AppendTranscript(
		schema.Message{Role: schema.RoleUser, Content: prompt},
		schema.Message{Role: schema.RoleAssistant, Content: expressions.Stringify(res)},
	)

	if cfg.JSON {
		if s, ok := res.(string); ok {
			parsed, err := parseJSONResponse(s)
			if err != nil {
				return nil, schema.StepExecutionError(id, fmt.Errorf("response is not valid JSON: %w", err))
			}
			res = parsed
		}
	}
	if cfg.PrintResponse {
		ec.State.AppendFinalOutput(expressions.Stringify(res))
	}
	return res, nil
}

var jsonFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// parseJSONResponse decodes a provider reply, tolerating a markdown fence.
func parseJSONResponse(s string) (any, error) {
	s = strings.TrimSpace(s)
	if m := jsonFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, " \t\r\n")
}

// loadPromptFile reads <dir>/<name>/prompt.md or <dir>/<name>.md.
func loadPromptFile(dir, name string) (string, bool) {
	if !isToken(name) || strings.Contains(name, "..") {
		return "", false
	}
	for _, path := range []string{
		filepath.Join(dir, name, "prompt.md"),
		filepath.Join(dir, name+".md"),
	} {
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), true
		}
	}
	return "", false
}

// --- Command steps ---

type commandExecutor struct{ c Coordinator }

func newCommandExecutor(c Coordinator) StepExecutor { return &commandExecutor{c: c} }

// Execute runs the command. A non-zero exit is a CommandExecutionError
// unless exit_on_error is false, in which case the exit status is appended
// to the output and execution continues.
func (x *commandExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	id := step.ID()
	runner := x.c.Deps().Commands
	if runner == nil {
		return nil, schema.ConfigurationError("command step needs a command runner but none is configured").WithStep(id)
	}
	command := steps.UnwrapCommand(strings.TrimSpace(x.c.Interpolate(ctx, ec, step.Text)))
	cfg := ec.StepConfig(ec.ConfigID(step))

	res, err := runner.Run(ctx, command)
	if err == nil && res.Success() {
		out := strings.TrimRight(res.Stdout, "\n")
		if cfg.PrintResponse {
			ec.State.AppendFinalOutput(out)
		}
		return out, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	status := res.ExitStatus
	if err != nil && status == 0 {
		status = -1
	}
	if cfg.ExitsOnError() {
		var cmdErr *schema.CommandExecutionError
		if errors.As(err, &cmdErr) {
			return nil, cmdErr
		}
		return nil, &schema.CommandExecutionError{Command: command, ExitStatus: status, Output: res.Stdout, Cause: err}
	}

	x.c.Logger(ctx).Warn("command failed; continuing because exit_on_error is false",
		"command", command, "exit_status", status)
	out := strings.TrimRight(res.Stdout, "\n")
	if out != "" {
		out += "\n"
	}
	out += fmt.Sprintf("[Exit status: %d]", status)
	if cfg.PrintResponse {
		ec.State.AppendFinalOutput(out)
	}
	return out, nil
}

// --- Glob steps ---

type globExecutor struct{ c Coordinator }

func newGlobExecutor(c Coordinator) StepExecutor { return &globExecutor{c: c} }

// Execute returns the matching paths joined by newlines, or the pattern
// itself when nothing matches.
func (x *globExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	pattern := x.c.Interpolate(ctx, ec, step.Text)
	matches, err := expandGlob(pattern)
	if err != nil {
		return nil, schema.StepExecutionError(step.ID(), err)
	}
	if len(matches) == 0 {
		return pattern, nil
	}
	return strings.Join(matches, "\n"), nil
}

// expandGlob matches pattern against the filesystem. It understands "**"
// for any number of directories and {a,b} alternatives.
func expandGlob(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// --- Named steps ---

type namedExecutor struct{ c Coordinator }

func newNamedExecutor(c Coordinator) StepExecutor { return &namedExecutor{c: c} }

// Execute runs the nested step (or list) and binds the result under the
// interpolated name. A single nested step takes its options from the name.
func (x *namedExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	var (
		res any
		err error
	)
	switch {
	case step.Sequence:
		res, err = x.c.ExecuteSteps(ctx, ec, step.Steps)
	case len(step.Steps) == 1:
		nested := step.Steps[0]
		nested.ConfigKey = step.Name
		res, err = x.c.ExecuteStep(ctx, ec, &nested)
	default:
		return nil, schema.ConfigurationError("named step %q has no nested step", step.Name).WithStep(step.Name)
	}
	if err != nil {
		return nil, err
	}
	ec.State.SetOutput(x.c.Interpolate(ctx, ec, step.Name), res)
	return res, nil
}

// --- Custom step objects ---

type customExecutor struct{ c Coordinator }

func newCustomExecutor(c Coordinator) StepExecutor { return &customExecutor{c: c} }

func (x *customExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	id := step.ID()
	var runner schema.Runner
	switch v := step.Custom.(type) {
	case schema.Runner:
		runner = v
	case schema.StepRef:
		runner = x.lookup(v.Name)
	case *schema.StepRef:
		runner = x.lookup(v.Name)
	default:
		return nil, schema.UnknownStepTypeError(step.Kind, id)
	}
	if runner == nil {
		return nil, schema.StepNotFoundError(id)
	}
	return runCustom(ctx, ec, step, runner)
}

func (x *customExecutor) lookup(name string) schema.Runner {
	registry := x.c.Deps().Steps
	if registry == nil {
		return nil
	}
	r, _ := registry.Lookup(name)
	return r
}

// runCustom calls the runner's entry point. Any failure, panics included,
// becomes a StepExecutionError wrapping the original.
func runCustom(ctx context.Context, ec *ExecutionContext, step *schema.Step, runner schema.Runner) (res any, err error) {
	id := step.ID()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, schema.StepExecutionError(id, fmt.Errorf("panic: %v", r))
		}
	}()
	res, err = runner.Run(ctx)
	if err != nil {
		return nil, schema.StepExecutionError(id, err)
	}
	if ec.StepConfig(ec.ConfigID(step)).PrintResponse {
		ec.State.AppendFinalOutput(expressions.Stringify(res))
	}
	return res, nil
}
