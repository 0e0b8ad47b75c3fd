package expressions

import (
	"context"
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// ExprEngine evaluates the bodies of {{ }} template markers with
// expr-lang/expr. Compilation is strict: a reference to a name that is not in
// the environment is a compile error, which callers use to leave the marker
// unexpanded. Programs are compiled per call because the environment's shape
// changes as the workflow state grows.
//
// Two functions are available besides the scope variables:
//   - jq(query, value): runs a jq query over value
//   - env(name): reads a process environment variable
type ExprEngine struct {
	jq *GoJQEngine
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{jq: NewGoJQEngine()}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate compiles an Expr expression against data and runs it. All keys of
// data are top-level variables.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty expression")
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	prg, err := e.compile(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *ExprEngine) compile(ctx context.Context, expression string, env map[string]any) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(env),
		expr.Function("jq", func(params ...any) (any, error) {
			query, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("jq: query must be a string, got %T", params[0])
			}
			return e.jq.Query(ctx, query, params[1])
		}, new(func(string, any) any)),
		expr.Function("env", func(params ...any) (any, error) {
			name, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("env: name must be a string, got %T", params[0])
			}
			return os.Getenv(name), nil
		}, new(func(string) string)),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
