package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/internal/steps"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// condition sources, for logs and result records.
const (
	sourceTemplate = "template"
	sourceCommand  = "command"
	sourceLiteral  = "literal"
	sourceOutput   = "output"
	sourceCEL      = "cel"
	sourcePrompt   = "prompt"
)

// evaluateCondition turns a condition into a boolean. Forms, tried in order:
// a single {{ }} template (typed result), a $(command) (exit status 0 is
// true unless coerce_to asks for the output), true/false, the name of an
// output key, a CEL expression, and finally a prompt for the action
// provider read as a yes/no answer.
func evaluateCondition(ctx context.Context, c Coordinator, ec *ExecutionContext, id, condition string) (bool, string, error) {
	coerceTo := ec.StepConfig(id).CoerceTo

	if body, ok := expressions.TemplateBody(condition); ok {
		v, err := c.Evaluate(ctx, ec, body)
		if err != nil {
			return false, sourceTemplate, schema.StepExecutionError(id, err)
		}
		b, err := coerceBool(v, coerceTo)
		return b, sourceTemplate, err
	}

	text := strings.TrimSpace(c.Interpolate(ctx, ec, condition))
	if steps.IsCommand(text) {
		res, err := runConditionCommand(ctx, c, steps.UnwrapCommand(text))
		if err != nil {
			return false, sourceCommand, schema.StepExecutionError(id, err)
		}
		if coerceTo == "" {
			return res.exit == 0, sourceCommand, nil
		}
		b, err := coerceBool(res.stdout, coerceTo)
		return b, sourceCommand, err
	}

	switch strings.ToLower(text) {
	case "true":
		return true, sourceLiteral, nil
	case "false":
		return false, sourceLiteral, nil
	}

	if v, ok := ec.State.GetOutput(text); ok {
		b, err := coerceBool(v, coerceTo)
		return b, sourceOutput, err
	}

	if c.CEL().Compiles(text) {
		v, err := c.CEL().Evaluate(ctx, text, ec.Scope().CELData())
		if err != nil {
			return false, sourceCEL, schema.StepExecutionError(id, err)
		}
		b, err := coerceBool(v, coerceTo)
		return b, sourceCEL, err
	}

	answer, err := ask(ctx, c, ec, &schema.Step{Kind: schema.StepKindLiteral, Text: id}, text, false)
	if err != nil {
		return false, sourcePrompt, err
	}
	if coerceTo == "" {
		coerceTo = schema.CoerceLLMBoolean
	}
	b, err := coerceBool(answer, coerceTo)
	return b, sourcePrompt, err
}

// evaluateValue turns a case or each expression into a value: a template
// (typed), a $(command) (its output), an output key (its value), a CEL
// expression, or otherwise the interpolated text itself.
func evaluateValue(ctx context.Context, c Coordinator, ec *ExecutionContext, id, expression string) (any, error) {
	if body, ok := expressions.TemplateBody(expression); ok {
		v, err := c.Evaluate(ctx, ec, body)
		if err != nil {
			return nil, schema.StepExecutionError(id, err)
		}
		return v, nil
	}

	text := strings.TrimSpace(c.Interpolate(ctx, ec, expression))
	if steps.IsCommand(text) {
		res, err := runConditionCommand(ctx, c, steps.UnwrapCommand(text))
		if err != nil {
			return nil, schema.StepExecutionError(id, err)
		}
		if res.exit != 0 {
			return nil, &schema.CommandExecutionError{Command: steps.UnwrapCommand(text), ExitStatus: res.exit, Output: res.stdout}
		}
		return res.stdout, nil
	}

	if v, ok := ec.State.GetOutput(text); ok {
		return v, nil
	}
	if c.CEL().Compiles(text) {
		v, err := c.CEL().Evaluate(ctx, text, ec.Scope().CELData())
		if err != nil {
			return nil, schema.StepExecutionError(id, err)
		}
		return v, nil
	}
	return text, nil
}

type commandOutcome struct {
	stdout string
	exit   int
}

func runConditionCommand(ctx context.Context, c Coordinator, command string) (commandOutcome, error) {
	runner := c.Deps().Commands
	if runner == nil {
		return commandOutcome{}, errors.New("no command runner configured")
	}
	res, err := runner.Run(ctx, command)
	if err != nil {
		return commandOutcome{}, err
	}
	return commandOutcome{stdout: strings.TrimRight(res.Stdout, "\n"), exit: res.ExitStatus}, nil
}
