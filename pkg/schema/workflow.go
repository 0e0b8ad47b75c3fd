package schema

// Workflow is a loaded, typed workflow definition.
type Workflow struct {
	Name   string `json:"name"`
	Model  string `json:"model,omitempty"`
	Target string `json:"target,omitempty"`
	Steps  []Step `json:"steps"`

	// Config holds per-step options keyed by step ID.
	Config map[string]StepConfig `json:"config,omitempty"`

	// ContextPath is the directory prompt files are resolved against,
	// normally the directory holding the workflow file.
	ContextPath string `json:"context_path,omitempty"`
}

// Coercions accepted by coerce_to.
const (
	CoerceBoolean    = "boolean"
	CoerceLLMBoolean = "llm_boolean"
	CoerceIterable   = "iterable"
	CoerceString     = "string"
)

// StepConfig holds per-step execution options.
type StepConfig struct {
	Retries       int            `json:"retries,omitempty" yaml:"retries"`
	ExitOnError   *bool          `json:"exit_on_error,omitempty" yaml:"exit_on_error"`
	Model         string         `json:"model,omitempty" yaml:"model"`
	PrintResponse bool           `json:"print_response,omitempty" yaml:"print_response"`
	JSON          bool           `json:"json,omitempty" yaml:"json"`
	CoerceTo      string         `json:"coerce_to,omitempty" yaml:"coerce_to"`
	Retry         map[string]any `json:"retry,omitempty" yaml:"retry"`
}

// ExitsOnError reports the effective exit_on_error flag, which defaults to true.
func (c StepConfig) ExitsOnError() bool {
	return c.ExitOnError == nil || *c.ExitOnError
}

// StepConfig returns the options configured for a step ID.
func (w *Workflow) StepConfig(id string) StepConfig {
	if w == nil || w.Config == nil {
		return StepConfig{}
	}
	return w.Config[id]
}
