package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

const greetWorkflow = `name: greet
steps:
  - $(echo hello)
  - $(echo world)
"$(echo world)":
  print_response: true
`

func testApp(t *testing.T) (*app, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	cfg := defaultConfig()
	cfg.StateBackend = store.BackendMemory
	cfg.LogLevel = "error"
	var stdout, stderr bytes.Buffer
	a := newApp(cfg, strings.NewReader(""), &stdout, &stderr)
	t.Cleanup(a.Close)
	return a, &stdout, &stderr
}

func runCLI(t *testing.T, a *app, args ...string) error {
	t.Helper()
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func writeWorkflow(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greet.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExecute_PrintsFinalOutput(t *testing.T) {
	a, stdout, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1"))
	assert.Equal(t, "world\n", stdout.String())
}

func TestExecute_JSONResult(t *testing.T) {
	a, stdout, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1", "--json"))

	var res struct {
		SessionID string `json:"session_id"`
		Status    string `json:"status"`
		StepsRun  int    `json:"steps_run"`
		State     struct {
			Output      map[string]any `json:"output"`
			FinalOutput []string       `json:"final_output"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, 2, res.StepsRun)
	assert.Equal(t, "hello", res.State.Output["$(echo hello)"])
	assert.Equal(t, []string{"world"}, res.State.FinalOutput)
}

func TestExecute_WritesOutputFile(t *testing.T) {
	a, _, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)
	out := filepath.Join(t.TempDir(), "out.txt")

	require.NoError(t, runCLI(t, a, "execute", path, "-o", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(data))
}

func TestExecute_ThenSnapshots(t *testing.T) {
	a, stdout, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1"))
	stdout.Reset()

	require.NoError(t, runCLI(t, a, "snapshots", "s1", "--json"))
	var recs []*schema.StateRecord
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "$(echo hello)", recs[0].StepName)
	assert.Equal(t, "$(echo world)", recs[1].StepName)
	assert.Less(t, recs[0].Order, recs[1].Order)

	stdout.Reset()
	require.NoError(t, runCLI(t, a, "snapshots", "s1"))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ORDER"))
	assert.Contains(t, lines[2], "$(echo world)")
}

func TestSnapshots_UnknownSession(t *testing.T) {
	a, stdout, _ := testApp(t)

	require.NoError(t, runCLI(t, a, "snapshots", "nobody"))
	assert.Equal(t, "no snapshots for session nobody\n", stdout.String())
}

func TestExecute_Replay(t *testing.T) {
	a, stdout, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1"))
	stdout.Reset()

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1", "--replay", "$(echo world)", "--json"))
	var res struct {
		ReplayedFrom string `json:"replayed_from"`
		StepsRun     int    `json:"steps_run"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
	assert.Equal(t, "$(echo world)", res.ReplayedFrom)
	assert.Equal(t, 1, res.StepsRun)
}

func TestExecute_CommandFailure(t *testing.T) {
	a, _, stderr := testApp(t)
	path := writeWorkflow(t, "name: failing\nsteps:\n  - $(exit 3)\n")

	err := runCLI(t, a, "execute", path, "--session-id", "s1")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCommandExecution))
	assert.Contains(t, stderr.String(), "session s1")
}

func TestExecute_ExitOnErrorOverride(t *testing.T) {
	a, _, _ := testApp(t)
	path := writeWorkflow(t, "name: failing\nsteps:\n  - $(exit 3)\n")

	require.NoError(t, runCLI(t, a, "execute", path, "--exit-on-error", "$(exit 3)=false"))
}

func TestExecute_BadExitOnErrorValue(t *testing.T) {
	a, _, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	err := runCLI(t, a, "execute", path, "--exit-on-error", "$(echo hello)=maybe")
	require.Error(t, err)
	assert.True(t, schema.IsFatal(err))
}

func TestExecute_InvalidWorkflow(t *testing.T) {
	a, _, _ := testApp(t)
	path := writeWorkflow(t, "name: empty\n")

	err := runCLI(t, a, "execute", path)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestExecute_RequiresWorkflowArg(t *testing.T) {
	a, _, _ := testApp(t)
	assert.Error(t, runCLI(t, a, "execute"))
}

func TestValidate(t *testing.T) {
	a, stdout, _ := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "validate", path))
	assert.Equal(t, "greet: 2 steps, valid\n", stdout.String())

	bad := writeWorkflow(t, "steps: 42\n")
	assert.Error(t, runCLI(t, a, "validate", bad))
}

func TestVersion(t *testing.T) {
	a, stdout, _ := testApp(t)

	require.NoError(t, runCLI(t, a, "version"))
	assert.True(t, strings.HasPrefix(stdout.String(), "roast dev ("))
}

func TestParseExitOnError(t *testing.T) {
	got, err := parseExitOnError(map[string]string{"lint": "false", "test": "TRUE"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"lint": false, "test": true}, got)

	got, err = parseExitOnError(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseExitOnError(map[string]string{"lint": "sometimes"})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestExecute_StreamsEvents(t *testing.T) {
	a, _, stderr := testApp(t)
	path := writeWorkflow(t, greetWorkflow)

	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1", "--events"))

	var types []string
	dec := json.NewDecoder(strings.NewReader(stderr.String()))
	for dec.More() {
		var ev schema.Event
		require.NoError(t, dec.Decode(&ev))
		assert.Equal(t, "s1", ev.SessionID)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		schema.EventWorkflowStarted,
		schema.EventStepCompleted,
		schema.EventStepCompleted,
		schema.EventWorkflowCompleted,
	}, types)
}

func TestExecute_InputReadsFromStdin(t *testing.T) {
	cfg := defaultConfig()
	cfg.StateBackend = store.BackendMemory
	cfg.LogLevel = "error"
	var stdout, stderr bytes.Buffer
	a := newApp(cfg, strings.NewReader("ada\n"), &stdout, &stderr)
	t.Cleanup(a.Close)

	path := writeWorkflow(t, `name: ask
steps:
  - input:
      prompt: Who reviews?
      name: reviewer
  - $(echo reviewer {{ reviewer }})
"$(echo reviewer {{ reviewer }})":
  print_response: true
`)
	require.NoError(t, runCLI(t, a, "execute", path, "--session-id", "s1"))
	assert.Equal(t, "reviewer ada\n", stdout.String())
}
