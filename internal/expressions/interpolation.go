package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/martinemde/roast-sub000/internal/logging"
)

const (
	openMarker  = "{{"
	closeMarker = "}}"
)

// Interpolator expands {{ expression }} markers in step text.
//
// Each marker body is evaluated by the Expr engine against the scope. A
// marker that fails to evaluate is left in the text exactly as written and a
// warning is logged; interpolation itself never fails.
type Interpolator struct {
	engine *ExprEngine
	logger *slog.Logger
}

// NewInterpolator creates an Interpolator. A nil logger uses the default.
func NewInterpolator(logger *slog.Logger) *Interpolator {
	return &Interpolator{
		engine: NewExprEngine(),
		logger: logging.OrDefault(logger),
	}
}

// Interpolate returns text with every marker replaced by its rendered value.
// When the whole text is a shell wrapper `$(...)`, rendered values are
// escaped for a double-quoted shell context.
func (interp *Interpolator) Interpolate(ctx context.Context, text string, scope Scope) string {
	if !strings.Contains(text, openMarker) {
		return text
	}

	shell := IsShellWrapper(text)
	var env map[string]any

	var result strings.Builder
	result.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], openMarker)
		if idx == -1 {
			result.WriteString(text[i:])
			break
		}
		result.WriteString(text[i : i+idx])
		start := i + idx + len(openMarker)

		end := strings.Index(text[start:], closeMarker)
		if end == -1 {
			result.WriteString(text[i+idx:])
			break
		}
		end += start
		marker := text[i+idx : end+len(closeMarker)]
		body := strings.TrimSpace(text[start:end])

		if env == nil {
			env = scope.TemplateEnv()
		}
		val, err := interp.engine.Evaluate(ctx, body, env)
		if err != nil {
			logging.LogWith(ctx, interp.logger).Warn("interpolation failed; leaving marker unexpanded",
				"expression", body, "error", err)
			result.WriteString(marker)
		} else {
			rendered := Stringify(val)
			if shell {
				rendered = ShellEscape(rendered)
			}
			result.WriteString(rendered)
		}
		i = end + len(closeMarker)
	}

	return result.String()
}

// Evaluate runs a single expression against the scope and returns its typed
// value. Unlike Interpolate, failures are returned to the caller.
func (interp *Interpolator) Evaluate(ctx context.Context, expression string, scope Scope) (any, error) {
	return interp.engine.Evaluate(ctx, strings.TrimSpace(expression), scope.TemplateEnv())
}

// TemplateBody reports whether s consists of exactly one {{ }} marker and
// returns the marker's body.
func TemplateBody(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, openMarker) || !strings.HasSuffix(t, closeMarker) {
		return "", false
	}
	body := t[len(openMarker) : len(t)-len(closeMarker)]
	if strings.Contains(body, openMarker) || strings.Contains(body, closeMarker) {
		return "", false
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	return body, true
}

// IsTemplate reports whether s is a single {{ }} marker.
func IsTemplate(s string) bool {
	_, ok := TemplateBody(s)
	return ok
}

// IsShellWrapper reports whether s is entirely a `$(...)` command.
func IsShellWrapper(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "$(") && strings.HasSuffix(t, ")")
}

// ShellEscape escapes s for use inside a double-quoted shell string.
// Backslashes are escaped first so the later escapes are not doubled.
func ShellEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "`", "\\`")
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, `$`, `\$`)
	return s
}

// Stringify renders a value for inline substitution. Strings are used as is,
// nil renders empty, scalars use their natural form and containers are
// rendered as JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case json.RawMessage:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
