package engine

import (
	"context"

	"github.com/martinemde/roast-sub000/internal/actions"
	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/internal/input"
	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// ActionProvider executes prompt and agent steps.
type ActionProvider interface {
	Execute(ctx context.Context, prompt string, opts provider.Options) (any, error)
}

// CommandRunner executes shell commands. A non-zero exit is reported in the
// result; an error means the command could not be run at all.
type CommandRunner interface {
	Run(ctx context.Context, command string) (actions.CommandResult, error)
}

// Prompter asks a human for input.
type Prompter interface {
	Ask(ctx context.Context, req input.Request) (string, error)
}

// StepLookup resolves named custom step objects.
type StepLookup interface {
	Lookup(name string) (schema.Runner, bool)
}

// ExecutionContext is what a step executes against. It is never modified
// after construction; WithVar and Fork return derived copies. State is the
// one mutable reference it carries.
type ExecutionContext struct {
	Workflow    *schema.Workflow
	State       *schema.WorkflowState
	Info        expressions.WorkflowInfo
	Vars        map[string]any
	ContextPath string

	retries     map[string]int
	exitOnError map[string]bool
}

// NewExecutionContext creates the root context of a run. A nil state starts empty.
func NewExecutionContext(wf *schema.Workflow, state *schema.WorkflowState, info expressions.WorkflowInfo) *ExecutionContext {
	if wf == nil {
		wf = &schema.Workflow{}
	}
	if state == nil {
		state = schema.NewWorkflowState()
	}
	return &ExecutionContext{
		Workflow:    wf,
		State:       state,
		Info:        info,
		Vars:        map[string]any{},
		ContextPath: wf.ContextPath,
	}
}

// WithOverrides returns a copy whose step options are overridden per step ID.
func (ec *ExecutionContext) WithOverrides(retries map[string]int, exitOnError map[string]bool) *ExecutionContext {
	cp := *ec
	cp.retries = retries
	cp.exitOnError = exitOnError
	return &cp
}

// WithVar returns a copy with one more loop variable bound.
func (ec *ExecutionContext) WithVar(name string, value any) *ExecutionContext {
	cp := *ec
	vars := make(map[string]any, len(ec.Vars)+1)
	for k, v := range ec.Vars {
		vars[k] = v
	}
	vars[name] = value
	cp.Vars = vars
	return &cp
}

// Fork returns a copy working on a private clone of the state.
func (ec *ExecutionContext) Fork() *ExecutionContext {
	cp := *ec
	cp.State = ec.State.Clone()
	return &cp
}

// Scope is the expression scope for this context.
func (ec *ExecutionContext) Scope() expressions.Scope {
	return expressions.Scope{State: ec.State, Workflow: ec.Info, Vars: ec.Vars}
}

// StepConfig returns the options for a step ID with run overrides applied.
func (ec *ExecutionContext) StepConfig(id string) schema.StepConfig {
	cfg := ec.Workflow.StepConfig(id)
	if n, ok := ec.retries[id]; ok {
		cfg.Retries = n
	}
	if v, ok := ec.exitOnError[id]; ok {
		cfg.ExitOnError = &v
	}
	return cfg
}

// ConfigID is the key a step's options are read from: the key of its named
// wrapper when options are set under it, else the step's own ID.
func (ec *ExecutionContext) ConfigID(step *schema.Step) string {
	if key := step.ConfigKey; key != "" && ec.configured(key) {
		return key
	}
	return step.ID()
}

func (ec *ExecutionContext) configured(key string) bool {
	if _, ok := ec.Workflow.Config[key]; ok {
		return true
	}
	if _, ok := ec.retries[key]; ok {
		return true
	}
	_, ok := ec.exitOnError[key]
	return ok
}

// Model is the model for a step: its own setting, else the workflow's.
func (ec *ExecutionContext) Model(id string) string {
	if m := ec.StepConfig(id).Model; m != "" {
		return m
	}
	return ec.Workflow.Model
}
