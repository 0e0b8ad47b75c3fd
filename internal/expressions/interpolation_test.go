package expressions

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

func newTestInterpolator() (*Interpolator, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewInterpolator(logger), &buf
}

func scopeWithOutput(kv ...any) Scope {
	st := schema.NewWorkflowState()
	for i := 0; i+1 < len(kv); i += 2 {
		st.SetOutput(kv[i].(string), kv[i+1])
	}
	return Scope{State: st, Workflow: WorkflowInfo{Name: "review", SessionID: "review_00000000", Target: "main.go"}}
}

func TestInterpolate_PlainTextUnchanged(t *testing.T) {
	interp, _ := newTestInterpolator()
	assert.Equal(t, "no markers here", interp.Interpolate(context.Background(), "no markers here", Scope{}))
}

func TestInterpolate_OutputAndTopLevelKeys(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("summary", "looks good", "count", 3)

	got := interp.Interpolate(context.Background(), "{{summary}} ({{output.count}} issues)", scope)
	assert.Equal(t, "looks good (3 issues)", got)
}

func TestInterpolate_UnknownLeavesMarkerAndWarns(t *testing.T) {
	interp, buf := newTestInterpolator()
	got := interp.Interpolate(context.Background(), "value: {{unknown}}", scopeWithOutput())
	assert.Equal(t, "value: {{unknown}}", got)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "unknown")
}

func TestInterpolate_UnclosedMarker(t *testing.T) {
	interp, _ := newTestInterpolator()
	assert.Equal(t, "a {{ b", interp.Interpolate(context.Background(), "a {{ b", Scope{}))
}

func TestInterpolate_WorkflowBindings(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput()
	got := interp.Interpolate(context.Background(), "{{workflow.name}}/{{file}}/{{resource}}", scope)
	assert.Equal(t, "review/main.go/main.go", got)
}

func TestInterpolate_LoopVariablesWin(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("file_name", "from-output").WithVar("file_name", "from-loop")
	assert.Equal(t, "from-loop", interp.Interpolate(context.Background(), "{{file_name}}", scope))
}

func TestInterpolate_ContainersRenderAsJSON(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("files", []any{"a.go", "b.go"})
	assert.Equal(t, `["a.go","b.go"]`, interp.Interpolate(context.Background(), "{{files}}", scope))
}

func TestInterpolate_ShellEscapingOnlyInsideWrapper(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("msg", "run `rm` $HOME \"now\"")

	inShell := interp.Interpolate(context.Background(), `$(echo "{{msg}}")`, scope)
	assert.Equal(t, `$(echo "run \`+"`"+`rm\`+"`"+` \$HOME \"now\"")`, inShell)

	plain := interp.Interpolate(context.Background(), "say {{msg}}", scope)
	assert.Equal(t, "say run `rm` $HOME \"now\"", plain)
}

func TestInterpolate_JQBuiltin(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("data", map[string]any{"items": []any{"x", "y"}})
	assert.Equal(t, "2", interp.Interpolate(context.Background(), `{{ jq(".items | length", data) }}`, scope))
}

func TestInterpolator_Evaluate(t *testing.T) {
	interp, _ := newTestInterpolator()
	scope := scopeWithOutput("count", 4)

	v, err := interp.Evaluate(context.Background(), "count > 3", scope)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = interp.Evaluate(context.Background(), "nope", scope)
	assert.Error(t, err)
}

func TestTemplateBody(t *testing.T) {
	body, ok := TemplateBody("  {{ output.x }} ")
	assert.True(t, ok)
	assert.Equal(t, "output.x", body)

	for _, s := range []string{"{{a}} and {{b}}", "text {{a}}", "{{ }}", "plain"} {
		_, ok := TemplateBody(s)
		assert.False(t, ok, s)
	}
	assert.True(t, IsTemplate("{{x}}"))
}

func TestShellEscape(t *testing.T) {
	assert.Equal(t, `a\\b`, ShellEscape(`a\b`))
	assert.Equal(t, "\\`x\\`", ShellEscape("`x`"))
	assert.Equal(t, `\"q\"`, ShellEscape(`"q"`))
	assert.Equal(t, `\$PATH`, ShellEscape(`$PATH`))
	assert.Equal(t, `\\\$`, ShellEscape(`\$`))
}

func TestIsShellWrapper(t *testing.T) {
	assert.True(t, IsShellWrapper("$(ls -la)"))
	assert.False(t, IsShellWrapper("echo $(ls)"))
	assert.False(t, IsShellWrapper("ls"))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "s", Stringify("s"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "1.5", Stringify(1.5))
	assert.Equal(t, "7", Stringify(7))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}
