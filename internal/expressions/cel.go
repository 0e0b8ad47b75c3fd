package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Variables declared in the CEL environment.
const (
	CELOutput      = "output"
	CELMetadata    = "metadata"
	CELWorkflow    = "workflow"
	CELVars        = "vars"
	CELTranscript  = "transcript"
	CELFinalOutput = "final_output"
)

var celMapVars = []string{CELOutput, CELMetadata, CELWorkflow, CELVars}
var celListVars = []string{CELTranscript, CELFinalOutput}

// CELEngine evaluates bare condition expressions such as
// `output.count > 3` with Google's Common Expression Language.
// Compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine whose environment exposes:
//   - output, metadata, workflow, vars: map(string, dyn)
//   - transcript, final_output: list(dyn)
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	listType := cel.ListType(cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celMapVars)+len(celListVars))
	for _, name := range celMapVars {
		opts = append(opts, cel.Variable(name, mapType))
	}
	for _, name := range celListVars {
		opts = append(opts, cel.Variable(name, listType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compiles reports whether expression is valid CEL in this environment.
func (e *CELEngine) Compiles(expression string) bool {
	if expression == "" {
		return false
	}
	_, err := e.getOrCompile(expression)
	return err == nil
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against data. Missing variables default to empty values.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, buildActivation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation fills missing variables with empty containers so that
// CEL never sees an unbound declared variable.
func buildActivation(data map[string]any) map[string]any {
	activation := make(map[string]any, len(celMapVars)+len(celListVars))
	for _, key := range celMapVars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	for _, key := range celListVars {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = []any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
