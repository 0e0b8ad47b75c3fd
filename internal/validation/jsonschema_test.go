package validation

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

func newJSV(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func hasIssueAt(r *schema.ValidationResult, prefix string) bool {
	for _, e := range r.Errors {
		if strings.HasPrefix(e.Path, prefix) {
			return true
		}
	}
	return false
}

func fullDocument() map[string]any {
	return map[string]any{
		"name":   "review",
		"model":  "claude-sonnet-4",
		"target": "src/**/*.go",
		"steps": []any{
			"Summarize the target",
			"$(git diff --stat)",
			"^Fix the failing tests",
			map[string]any{"summary": "Summarize {{output.diff}}"},
			map[string]any{"group": []any{"a", "b"}},
			[]any{"left", "right"},
			map[string]any{"if": "{{output.count > 3}}", "then": []any{"a"}, "else": "b"},
			map[string]any{"unless": true, "then": nil},
			map[string]any{"case": "{{output.kind}}", "when": map[string]any{"bug": []any{"fix"}, "feature": "build"}, "else": "skip"},
			map[string]any{"each": "{{output.files}}", "as": "file_name", "steps": []any{"review {{file_name}}"}},
			map[string]any{"repeat": map[string]any{"until": "done", "max_iterations": 3, "steps": []any{"poll"}}},
			map[string]any{"repeat": true, "until": "{{output.poll}}", "steps": "poll"},
			map[string]any{"input": "What is your name?", "name": "user", "required": true, "timeout": 30},
			map[string]any{"input": map[string]any{"prompt": "Pick", "type": "choice", "options": []any{"a", "b"}, "name": "pick"}},
			schema.StepRef{Name: "lint"},
		},
		"summary": map[string]any{
			"print_response": true,
			"retries":        2,
			"coerce_to":      "string",
			"retry": map[string]any{
				"strategy": "linear",
				"matcher":  map[string]any{"type": "error_type", "errors": []any{"CommandExecutionError"}},
				"handlers": []any{"logging"},
			},
		},
		"$(git diff --stat)": map[string]any{"exit_on_error": false},
	}
}

func TestJSONSchemaValidator_FullDocument(t *testing.T) {
	r := newJSV(t).ValidateDocument(fullDocument())
	assert.True(t, r.Valid(), "unexpected errors: %+v", r.Errors)
}

func TestJSONSchemaValidator_Violations(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		path string
	}{
		{"missing steps", map[string]any{"name": "x"}, "/"},
		{"steps not a list", map[string]any{"steps": "a"}, "/steps"},
		{"empty string step", map[string]any{"steps": []any{""}}, "/steps/0"},
		{"named step with two keys", map[string]any{"steps": []any{map[string]any{"a": "x", "b": "y"}}}, "/steps/0"},
		{"named step without value", map[string]any{"steps": []any{map[string]any{"a": nil}}}, "/steps/0"},
		{"if and unless together", map[string]any{"steps": []any{map[string]any{"if": "x", "unless": "y"}}}, "/steps/0"},
		{"unknown conditional key", map[string]any{"steps": []any{map[string]any{"if": "x", "otherwise": "y"}}}, "/steps/0"},
		{"each without as", map[string]any{"steps": []any{map[string]any{"each": "x", "steps": []any{"a"}}}}, "/steps/0"},
		{"negative max_iterations", map[string]any{"steps": []any{map[string]any{"repeat": map[string]any{"max_iterations": -1, "steps": []any{"a"}}}}}, "/steps/0"},
		{"flat repeat without steps", map[string]any{"steps": []any{map[string]any{"repeat": true, "until": "x"}}}, "/steps/0"},
		{"unknown input type", map[string]any{"steps": []any{map[string]any{"input": map[string]any{"prompt": "p", "type": "number"}}}}, "/steps/0"},
		{"choice without options", map[string]any{"steps": []any{map[string]any{"input": "p", "type": "choice"}}}, "/steps/0"},
		{"nested input without prompt", map[string]any{"steps": []any{map[string]any{"input": map[string]any{"name": "n"}}}}, "/steps/0"},
		{"bad coerce_to", map[string]any{"steps": []any{"a"}, "a": map[string]any{"coerce_to": "number"}}, "/a"},
		{"negative retries", map[string]any{"steps": []any{"a"}, "a": map[string]any{"retries": -1}}, "/a"},
		{"unknown config key", map[string]any{"steps": []any{"a"}, "a": map[string]any{"retrys": 2}}, "/a"},
		{"config not a map", map[string]any{"steps": []any{"a"}, "a": "oops"}, "/a"},
		{"zero max_attempts", map[string]any{"steps": []any{"a"}, "a": map[string]any{"retry": map[string]any{"max_attempts": 0}}}, "/a"},
	}

	v := newJSV(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.ValidateDocument(tt.doc)
			require.False(t, r.Valid())
			assert.True(t, hasIssueAt(r, tt.path), "no issue under %s: %+v", tt.path, r.Errors)
			for _, e := range r.Errors {
				assert.Equal(t, IssueSchema, e.Code)
			}
		})
	}
}

func TestJSONSchemaValidator_NilDocument(t *testing.T) {
	r := newJSV(t).ValidateDocument(nil)
	require.Len(t, r.Errors, 1)
	assert.Contains(t, r.Errors[0].Message, "empty")
}

func TestJSONSchemaValidator_ToErrorIsConfigurationError(t *testing.T) {
	r := newJSV(t).ValidateDocument(map[string]any{"name": "x"})
	err := r.ToError()
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestToSchemaValue_StepRefs(t *testing.T) {
	got := toSchemaValue([]any{schema.StepRef{Name: "a"}, &schema.StepRef{Name: "b"}, "c"})
	assert.Equal(t, []any{
		map[string]any{"!step": "a"},
		map[string]any{"!step": "b"},
		"c",
	}, got)
}

func TestJSONSchemaValidator_ConcurrentUse(t *testing.T) {
	v := newJSV(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, v.ValidateDocument(fullDocument()).Valid())
		}()
	}
	wg.Wait()
}
