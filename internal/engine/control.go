package engine

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Branch names recorded for conditional and case steps.
const (
	BranchThen = "then"
	BranchElse = "else"
	BranchNone = "none"
)

// --- Conditional steps ---

type conditionalExecutor struct{ c Coordinator }

func newConditionalExecutor(c Coordinator) StepExecutor { return &conditionalExecutor{c: c} }

// Execute runs exactly one of then/else. When the selected branch is
// absent the record says branch "none".
func (x *conditionalExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	cs := step.Conditional
	id := step.ID()
	if cs == nil {
		return nil, schema.ConfigurationError("conditional step has no condition").WithStep(id)
	}

	ok, source, err := evaluateCondition(ctx, x.c, ec, ec.ConfigID(step), cs.Condition)
	if err != nil {
		return nil, err
	}
	if cs.Negate {
		ok = !ok
	}

	branch, body := BranchThen, cs.Then
	if !ok {
		branch, body = BranchElse, cs.Else
	}
	if len(body) == 0 {
		branch = BranchNone
	}
	x.c.Logger(ctx).Debug("condition evaluated",
		slog.String("source", source), slog.Bool("result", ok), slog.String("branch", branch))

	results := []any{}
	if len(body) > 0 {
		if results, err = x.c.ExecuteSteps(ctx, ec, body); err != nil {
			return nil, err
		}
	}
	record := map[string]any{
		"condition": cs.Condition,
		"result":    ok,
		"branch":    branch,
		"results":   results,
	}
	ec.State.SetMetadata(id, record)
	return record, nil
}

// --- Case steps ---

type caseExecutor struct{ c Coordinator }

func newCaseExecutor(c Coordinator) StepExecutor { return &caseExecutor{c: c} }

// Execute runs the when branch whose key equals the evaluated value, else
// the else branch, else nothing. The record holds the value and the branch.
func (x *caseExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	cs := step.Case
	id := step.ID()
	if cs == nil {
		return nil, schema.ConfigurationError("case step has no expression").WithStep(id)
	}

	v, err := evaluateValue(ctx, x.c, ec, id, cs.Expression)
	if err != nil {
		return nil, err
	}
	value := expressions.Stringify(v)

	branch := BranchNone
	var body []schema.Step
	if when, ok := cs.When[value]; ok {
		branch, body = value, when
	} else if cs.HasElse {
		branch, body = BranchElse, cs.Else
	}

	results := []any{}
	if len(body) > 0 {
		if results, err = x.c.ExecuteSteps(ctx, ec, body); err != nil {
			return nil, err
		}
	}
	record := map[string]any{
		"value":   value,
		"branch":  branch,
		"results": results,
	}
	ec.State.SetMetadata(id, record)
	return record, nil
}

// --- Iteration steps ---

type iterationExecutor struct{ c Coordinator }

func newIterationExecutor(c Coordinator) StepExecutor { return &iterationExecutor{c: c} }

// Execute runs a repeat or each loop and returns one entry per iteration,
// each the list of that iteration's step results.
func (x *iterationExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	it := step.Iteration
	id := step.ID()
	if it == nil {
		return nil, schema.ConfigurationError("iteration step has no loop").WithStep(id)
	}
	if it.Mode == schema.IterationEach {
		return x.each(ctx, ec, id, it)
	}
	return x.repeat(ctx, ec, id, it)
}

func (x *iterationExecutor) repeat(ctx context.Context, ec *ExecutionContext, id string, it *schema.IterationStep) (any, error) {
	max := it.MaxIterations
	if max <= 0 {
		max = x.c.Deps().MaxIterations
	}

	results := []any{}
	done := false
	for i := 0; i < max && !done; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := x.c.ExecuteSteps(ctx, ec, it.Steps)
		if err != nil {
			return nil, err
		}
		results = append(results, res)

		if it.Until != "" {
			if done, _, err = evaluateCondition(ctx, x.c, ec, id, it.Until); err != nil {
				return nil, err
			}
		}
	}
	if !done && it.Until != "" {
		x.c.Logger(ctx).Warn("repeat loop reached max_iterations before its until condition held",
			slog.Int("max_iterations", max))
	}

	ec.State.SetMetadata(id, map[string]any{
		"mode":       string(schema.IterationRepeat),
		"iterations": len(results),
		"completed":  done || it.Until == "",
	})
	return results, nil
}

func (x *iterationExecutor) each(ctx context.Context, ec *ExecutionContext, id string, it *schema.IterationStep) (any, error) {
	v, err := evaluateValue(ctx, x.c, ec, id, it.Each)
	if err != nil {
		return nil, err
	}
	items := ToList(v)

	results := make([]any, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := x.c.ExecuteSteps(ctx, ec.WithVar(it.As, item), it.Steps)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}

	ec.State.SetMetadata(id, map[string]any{
		"mode":       string(schema.IterationEach),
		"iterations": len(results),
		"as":         it.As,
	})
	return results, nil
}

// --- Parallel steps ---

type parallelExecutor struct{ c Coordinator }

func newParallelExecutor(c Coordinator) StepExecutor { return &parallelExecutor{c: c} }

// Execute runs every branch concurrently on a private copy of the state and
// merges the branches' changes back in branch order once all have finished.
// The first error in completion order is returned after the join.
func (x *parallelExecutor) Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error) {
	branches := step.Steps
	forks := make([]*ExecutionContext, len(branches))
	tasks := make([]Task, len(branches))
	for i := range branches {
		fork := ec.Fork()
		forks[i] = fork
		branch := branches[i : i+1]
		tasks[i] = func(ctx context.Context) (any, error) {
			res, err := x.c.ExecuteSteps(ctx, fork, branch)
			if err != nil {
				return nil, err
			}
			return res[0], nil
		}
	}

	results, err := NewParallel().Run(ctx, tasks)

	base := ec.State.Clone()
	for _, fork := range forks {
		mergeFork(ec.State, base, fork.State)
	}
	ec.State.SetMetadata(step.ID(), map[string]any{
		"branches": len(branches),
		"failed":   err != nil,
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// mergeFork copies into dst what a branch changed relative to base: output
// and metadata keys it set, and transcript and final output entries it
// appended.
func mergeFork(dst, base, fork *schema.WorkflowState) {
	fork.EachOutput(func(k string, v any) {
		if old, ok := base.GetOutput(k); !ok || !reflect.DeepEqual(old, v) {
			dst.SetOutput(k, v)
		}
	})
	fork.EachMetadata(func(k string, v map[string]any) {
		if old, ok := base.GetMetadata(k); !ok || !reflect.DeepEqual(old, v) {
			dst.SetMetadata(k, v)
		}
	})
	if len(fork.Transcript) > len(base.Transcript) {
		dst.AppendTranscript(fork.Transcript[len(base.Transcript):]...)
	}
	if len(fork.FinalOutput) > len(base.FinalOutput) {
		dst.AppendFinalOutput(fork.FinalOutput[len(base.FinalOutput):]...)
	}
}
