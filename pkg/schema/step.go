package schema

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StepKind tags the variant of a step descriptor.
type StepKind string

const (
	StepKindLiteral     StepKind = "literal"
	StepKindCommand     StepKind = "command"
	StepKindAgent       StepKind = "agent"
	StepKindGlob        StepKind = "glob"
	StepKindNamed       StepKind = "named"
	StepKindParallel    StepKind = "parallel"
	StepKindConditional StepKind = "conditional"
	StepKindCase        StepKind = "case"
	StepKindIteration   StepKind = "iteration"
	StepKindInput       StepKind = "input"
	StepKindCustom      StepKind = "custom"
)

// IsLeaf reports kinds whose result is bound into output under the step's ID
// when executed as a member of a step list.
func (k StepKind) IsLeaf() bool {
	switch k {
	case StepKindLiteral, StepKindCommand, StepKindAgent, StepKindGlob, StepKindCustom:
		return true
	}
	return false
}

// Step is a typed step descriptor. Exactly the fields relevant to Kind are set.
type Step struct {
	Kind StepKind `json:"kind"`

	// Text is the raw string for literal, command, agent and glob steps.
	Text string `json:"text,omitempty"`

	// Name is the output key of a named step.
	Name string `json:"name,omitempty"`

	// Steps holds the nested steps of a named step or the branches of a parallel step.
	Steps []Step `json:"steps,omitempty"`

	// Sequence marks a named step whose value was a list.
	Sequence bool `json:"sequence,omitempty"`

	Conditional *ConditionalStep `json:"conditional,omitempty"`
	Case        *CaseStep        `json:"case,omitempty"`
	Iteration   *IterationStep   `json:"iteration,omitempty"`
	Input       *InputStep       `json:"input,omitempty"`

	// Custom is a Runner or a StepRef.
	Custom any `json:"-"`

	// ConfigKey is the key of the named step wrapping this one. Options
	// configured under that key apply to this step.
	ConfigKey string `json:"-"`
}

// ConditionalStep is an if/unless step.
type ConditionalStep struct {
	Negate    bool   `json:"negate,omitempty"`
	Condition string `json:"condition"`
	Then      []Step `json:"then,omitempty"`
	Else      []Step `json:"else,omitempty"`
	HasElse   bool   `json:"has_else,omitempty"`
}

// CaseStep selects a branch by exact match of an evaluated expression.
type CaseStep struct {
	Expression string            `json:"expression"`
	When       map[string][]Step `json:"when,omitempty"`
	WhenOrder  []string          `json:"when_order,omitempty"`
	Else       []Step            `json:"else,omitempty"`
	HasElse    bool              `json:"has_else,omitempty"`
}

// IterationMode distinguishes repeat loops from each loops.
type IterationMode string

const (
	IterationRepeat IterationMode = "repeat"
	IterationEach   IterationMode = "each"
)

// IterationStep is a repeat/until loop or an each/as loop.
type IterationStep struct {
	Mode          IterationMode `json:"mode"`
	Until         string        `json:"until,omitempty"`
	MaxIterations int           `json:"max_iterations,omitempty"`
	Each          string        `json:"each,omitempty"`
	As            string        `json:"as,omitempty"`
	Steps         []Step        `json:"steps"`
}

// Input types.
const (
	InputText     = "text"
	InputBoolean  = "boolean"
	InputChoice   = "choice"
	InputPassword = "password"
)

// InputStep asks a human for a value.
type InputStep struct {
	Prompt     string        `json:"prompt"`
	Name       string        `json:"name,omitempty"`
	Type       string        `json:"type,omitempty"`
	Required   bool          `json:"required,omitempty"`
	Default    any           `json:"default,omitempty"`
	HasDefault bool          `json:"has_default,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	Options    []string      `json:"options,omitempty"`
}

// Runner is a custom step object with a single execution entry point.
type Runner interface {
	Run(ctx context.Context) (any, error)
}

// StepRef names a custom step object registered with the engine.
type StepRef struct {
	Name string `json:"name"`
}

// ID returns the name a step is known by for configuration lookup, output
// binding, snapshots and replay.
func (s *Step) ID() string {
	switch s.Kind {
	case StepKindLiteral, StepKindCommand, StepKindAgent, StepKindGlob:
		return s.Text
	case StepKindNamed:
		return s.Name
	case StepKindConditional:
		if s.Conditional == nil {
			return "if"
		}
		if s.Conditional.Negate {
			return "unless:" + s.Conditional.Condition
		}
		return "if:" + s.Conditional.Condition
	case StepKindCase:
		if s.Case == nil {
			return "case"
		}
		return "case:" + s.Case.Expression
	case StepKindIteration:
		if s.Iteration == nil {
			return "iteration"
		}
		if s.Iteration.Mode == IterationEach {
			return "each:" + s.Iteration.Each
		}
		return "repeat:" + s.Iteration.Until
	case StepKindInput:
		if s.Input == nil {
			return "input"
		}
		if s.Input.Name != "" {
			return s.Input.Name
		}
		return "input:" + s.Input.Prompt
	case StepKindParallel:
		ids := make([]string, len(s.Steps))
		for i := range s.Steps {
			ids[i] = s.Steps[i].ID()
		}
		return "parallel:[" + strings.Join(ids, ",") + "]"
	case StepKindCustom:
		switch c := s.Custom.(type) {
		case StepRef:
			return c.Name
		case *StepRef:
			return c.Name
		case interface{ Name() string }:
			return c.Name()
		case fmt.Stringer:
			return c.String()
		}
		return fmt.Sprintf("custom:%T", s.Custom)
	}
	return string(s.Kind)
}
