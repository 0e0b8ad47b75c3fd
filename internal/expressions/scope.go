package expressions

import (
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Names bound by every scope. Output keys never shadow them.
const (
	ScopeOutput      = "output"
	ScopeMetadata    = "metadata"
	ScopeTranscript  = "transcript"
	ScopeFinalOutput = "final_output"
	ScopeWorkflow    = "workflow"
	ScopeFile        = "file"
	ScopeResource    = "resource"
	ScopeVars        = "vars"
)

var reserved = map[string]bool{
	ScopeOutput:      true,
	ScopeMetadata:    true,
	ScopeTranscript:  true,
	ScopeFinalOutput: true,
	ScopeWorkflow:    true,
	ScopeFile:        true,
	ScopeResource:    true,
	ScopeVars:        true,
	"jq":             true,
	"env":            true,
}

// WorkflowInfo is the read-only run identity exposed as `workflow`.
type WorkflowInfo struct {
	Name      string
	SessionID string
	Timestamp string
	Target    string
}

func (w WorkflowInfo) asMap() map[string]any {
	return map[string]any{
		"name":       w.Name,
		"session_id": w.SessionID,
		"timestamp":  w.Timestamp,
		"target":     w.Target,
	}
}

// Scope is everything an expression can see: the workflow state, the run
// identity and the loop variables of every enclosing iteration.
type Scope struct {
	State    *schema.WorkflowState
	Workflow WorkflowInfo
	Vars     map[string]any
}

// WithVar returns a copy of the scope with one more loop variable bound.
// The receiver's Vars map is not modified.
func (s Scope) WithVar(name string, value any) Scope {
	vars := make(map[string]any, len(s.Vars)+1)
	for k, v := range s.Vars {
		vars[k] = v
	}
	vars[name] = value
	s.Vars = vars
	return s
}

// TemplateEnv builds the environment for {{ }} markers. Precedence, from
// lowest to highest: output keys, builtins, loop variables.
func (s Scope) TemplateEnv() map[string]any {
	env := make(map[string]any)
	output := map[string]any{}
	metadata := map[string]any{}
	var transcript, finalOutput []any

	if s.State != nil {
		output = s.State.OutputMap()
		metadata = s.State.MetadataMap()
		transcript = transcriptList(s.State.Transcript)
		finalOutput = stringList(s.State.FinalOutput)
	}

	for k, v := range output {
		if !reserved[k] {
			env[k] = v
		}
	}

	env[ScopeOutput] = output
	env[ScopeMetadata] = metadata
	env[ScopeTranscript] = orEmpty(transcript)
	env[ScopeFinalOutput] = orEmpty(finalOutput)
	env[ScopeWorkflow] = s.Workflow.asMap()
	env[ScopeFile] = s.Workflow.Target
	env[ScopeResource] = s.Workflow.Target
	env[ScopeVars] = s.varsCopy()

	for k, v := range s.Vars {
		if k == "jq" || k == "env" {
			continue
		}
		env[k] = v
	}
	return env
}

// CELData builds the activation for bare CEL conditions.
func (s Scope) CELData() map[string]any {
	data := map[string]any{
		CELOutput:      map[string]any{},
		CELMetadata:    map[string]any{},
		CELWorkflow:    s.Workflow.asMap(),
		CELVars:        s.varsCopy(),
		CELTranscript:  []any{},
		CELFinalOutput: []any{},
	}
	if s.State != nil {
		data[CELOutput] = s.State.OutputMap()
		data[CELMetadata] = s.State.MetadataMap()
		data[CELTranscript] = orEmpty(transcriptList(s.State.Transcript))
		data[CELFinalOutput] = orEmpty(stringList(s.State.FinalOutput))
	}
	return data
}

func (s Scope) varsCopy() map[string]any {
	out := make(map[string]any, len(s.Vars))
	for k, v := range s.Vars {
		out[k] = schema.DeepCopy(v)
	}
	return out
}

func transcriptList(msgs []schema.Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	return out
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}
