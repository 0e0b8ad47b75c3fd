package expressions

import "context"

// Engine evaluates expressions against a data map.
// Three implementations: Expr (templates), CEL (bare conditions), GoJQ (jq queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
