package steps

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Context carries what classification may depend on.
type Context struct {
	// HasResource is true when the workflow has a bound target resource.
	// Glob-looking strings are then plain prompts.
	HasResource bool
}

// Resolve classifies a raw step descriptor. It is a pure function of its
// inputs; only the glob/literal split looks at ctx, and a nil ctx means no
// resource is bound.
func Resolve(step any, ctx *Context) schema.StepKind {
	switch s := step.(type) {
	case string:
		return resolveString(s, ctx)
	case map[string]any:
		return resolveMap(keysOf(s))
	case map[any]any:
		keys := make([]string, 0, len(s))
		for k := range s {
			ks, ok := k.(string)
			if !ok {
				return schema.StepKindCustom
			}
			keys = append(keys, ks)
		}
		return resolveMap(keys)
	case []any:
		return schema.StepKindParallel
	}
	return schema.StepKindCustom
}

// IsCommand reports a "$(...)" shell-command wrapper.
func IsCommand(s string) bool {
	return len(s) >= 3 && strings.HasPrefix(s, "$(") && strings.HasSuffix(s, ")")
}

// UnwrapCommand strips the "$(" and ")" of a command wrapper.
func UnwrapCommand(s string) string {
	if !IsCommand(s) {
		return s
	}
	return s[2 : len(s)-1]
}

// IsGlob reports a string that looks like a filesystem glob. "*" always
// counts. "?" and "[...]" count only in a single path-like token, so a
// prompt such as "ready?" stays a prompt.
func IsGlob(s string) bool {
	if strings.Contains(s, "*") {
		return true
	}
	if !strings.ContainsAny(s, "?[") || !strings.ContainsAny(s, "/.") {
		return false
	}
	if strings.ContainsAny(s, " \t\r\n") || strings.Contains(s, "{{") {
		return false
	}
	return doublestar.ValidatePattern(s)
}

func resolveString(s string, ctx *Context) schema.StepKind {
	switch {
	case IsCommand(s):
		return schema.StepKindCommand
	case strings.HasPrefix(s, "^"):
		return schema.StepKindAgent
	case IsGlob(s) && (ctx == nil || !ctx.HasResource):
		return schema.StepKindGlob
	}
	return schema.StepKindLiteral
}

func resolveMap(keys []string) schema.StepKind {
	has := make(map[string]bool, len(keys))
	for _, k := range keys {
		has[k] = true
	}
	switch {
	case has["if"] || has["unless"]:
		return schema.StepKindConditional
	case has["case"]:
		return schema.StepKindCase
	case has["repeat"] || has["each"]:
		return schema.StepKindIteration
	case has["input"]:
		return schema.StepKindInput
	case len(keys) == 1:
		return schema.StepKindNamed
	}
	return schema.StepKindCustom
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
