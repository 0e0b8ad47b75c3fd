package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/martinemde/roast-sub000/internal/input"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

type inputExecutor struct{ c Coordinator }

func newInputExecutor(c Coordinator) StepExecutor { return &inputExecutor{c: c} }

// Execute asks until the input machine resolves. The step's timeout bounds
// the whole exchange; when it expires, or no more input can be read, the
// machine's timeout rules decide the value.
func (x *inputExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	in := step.Input
	id := step.ID()
	if in == nil {
		return nil, schema.ConfigurationError("input step has no prompt").WithStep(id)
	}
	prompter := x.c.Deps().Prompter
	if prompter == nil {
		return nil, schema.ConfigurationError("input step needs a prompter but none is configured").WithStep(id)
	}

	waitCtx := ctx
	if in.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, in.Timeout)
		defer cancel()
	}

	req := input.Request{
		Prompt:     x.c.Interpolate(ctx, ec, in.Prompt),
		Name:       in.Name,
		Type:       in.Type,
		Options:    in.Options,
		Default:    in.Default,
		HasDefault: in.HasDefault,
		Required:   in.Required,
	}
	m := NewInputMachine(in)
	log := x.c.Logger(ctx)

	for m.State() != InputResolved {
		raw, err := prompter.Ask(waitCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, input.ErrNoInput) {
				log.Debug("input timed out", slog.String("input", id))
				if err := m.Timeout(); err != nil {
					if re, ok := err.(*schema.RoastError); ok {
						return nil, re.WithStep(id)
					}
					return nil, err
				}
				break
			}
			return nil, schema.StepExecutionError(id, err)
		}
		if err := m.Receive(raw); err != nil {
			return nil, err
		}
		if m.State() == InputPrompting {
			log.Info("input rejected", slog.String("input", id), slog.String("reason", m.Reason()))
		}
	}

	value, _ := m.Value()
	if in.Name != "" {
		ec.State.SetOutput(in.Name, value)
	}
	return value, nil
}
