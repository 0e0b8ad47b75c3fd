package engine

import (
	"strings"
	"sync"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// InputState is a state of the input step machine.
type InputState string

const (
	InputPrompting  InputState = "prompting"
	InputValidating InputState = "validating"
	InputTimedOut   InputState = "timed_out"
	InputResolved   InputState = "resolved"
)

// ValidInputTransitions defines the allowed state transitions for input steps.
var ValidInputTransitions = map[InputState][]InputState{
	InputPrompting:  {InputValidating, InputPrompting, InputTimedOut},
	InputValidating: {InputResolved, InputPrompting},
	InputTimedOut:   {InputResolved},
	InputResolved:   {},
}

func isValidInputTransition(from, to InputState) bool {
	allowed, ok := ValidInputTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// InputMachine tracks one input step from the first prompt to its value.
// Resolved always carries exactly one value.
type InputMachine struct {
	mu      sync.Mutex
	in      *schema.InputStep
	state   InputState
	value   any
	history []InputState
	// reason is why the last answer was sent back to prompting.
	reason string
}

// NewInputMachine starts in Prompting.
func NewInputMachine(in *schema.InputStep) *InputMachine {
	return &InputMachine{in: in, state: InputPrompting, history: []InputState{InputPrompting}}
}

// State returns the current state.
func (m *InputMachine) State() InputState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state entered, in order.
func (m *InputMachine) History() []InputState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]InputState(nil), m.history...)
}

// Value returns the resolved value and whether the machine is resolved.
func (m *InputMachine) Value() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.state == InputResolved
}

// Reason explains why the last answer was rejected.
func (m *InputMachine) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Receive handles one answer. An empty answer to a required question, or
// one that fails type validation, returns the machine to Prompting. An empty
// answer to an optional question with a default resolves to the default.
func (m *InputMachine) Receive(raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw = strings.TrimSpace(raw)
	if raw == "" && m.in.Required {
		m.reason = "a value is required"
		return m.transition(InputPrompting)
	}
	if err := m.transition(InputValidating); err != nil {
		return err
	}

	if raw == "" {
		m.reason = ""
		if m.in.HasDefault {
			m.value = m.in.Default
		} else {
			m.value = ""
		}
		return m.transition(InputResolved)
	}

	v, reason := m.validate(raw)
	if reason != "" {
		m.reason = reason
		return m.transition(InputPrompting)
	}
	m.reason = ""
	m.value = v
	return m.transition(InputResolved)
}

// Timeout handles the wait expiring while prompting. The default wins, else
// a required question fails, else the value is empty.
func (m *InputMachine) Timeout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transition(InputTimedOut); err != nil {
		return err
	}
	switch {
	case m.in.HasDefault:
		m.value = m.in.Default
	case m.in.Required:
		return schema.ConfigurationError("required input %q timed out without a default", m.label()).
			WithCause(schema.NewError(schema.ErrCodeInputTimeout, "input timed out"))
	default:
		m.value = ""
	}
	return m.transition(InputResolved)
}

func (m *InputMachine) transition(to InputState) error {
	if !isValidInputTransition(m.state, to) {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"invalid input transition: %s -> %s", m.state, to).
			WithDetails(map[string]any{"input": m.label(), "from": string(m.state), "to": string(to)})
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}

func (m *InputMachine) validate(raw string) (any, string) {
	switch m.in.Type {
	case schema.InputBoolean:
		switch strings.ToLower(raw) {
		case "y", "yes", "true", "t", "1":
			return true, ""
		case "n", "no", "false", "f", "0":
			return false, ""
		}
		return nil, "answer yes or no"
	case schema.InputChoice:
		for _, opt := range m.in.Options {
			if strings.EqualFold(opt, raw) {
				return opt, ""
			}
		}
		return nil, "choose one of: " + strings.Join(m.in.Options, ", ")
	}
	return raw, ""
}

func (m *InputMachine) label() string {
	if m.in.Name != "" {
		return m.in.Name
	}
	return m.in.Prompt
}
