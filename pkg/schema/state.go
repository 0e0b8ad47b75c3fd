package schema

import (
	"encoding/json"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Message is one transcript entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// WorkflowState is the mutable state of one workflow run.
type WorkflowState struct {
	Output         *orderedmap.OrderedMap[string, any]            `json:"output"`
	Metadata       *orderedmap.OrderedMap[string, map[string]any] `json:"metadata"`
	Transcript     []Message                                      `json:"transcript"`
	FinalOutput    []string                                       `json:"final_output"`
	ExecutionOrder []string                                       `json:"execution_order"`
}

// NewWorkflowState returns an empty state.
func NewWorkflowState() *WorkflowState {
	return &WorkflowState{
		Output:         orderedmap.New[string, any](),
		Metadata:       orderedmap.New[string, map[string]any](),
		Transcript:     []Message{},
		FinalOutput:    []string{},
		ExecutionOrder: []string{},
	}
}

// UnmarshalJSON decodes a state and fills in any missing collections.
func (s *WorkflowState) UnmarshalJSON(data []byte) error {
	type plain WorkflowState
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = WorkflowState(p)
	s.ensure()
	return nil
}

func (s *WorkflowState) ensure() {
	if s.Output == nil {
		s.Output = orderedmap.New[string, any]()
	}
	if s.Metadata == nil {
		s.Metadata = orderedmap.New[string, map[string]any]()
	}
	if s.Transcript == nil {
		s.Transcript = []Message{}
	}
	if s.FinalOutput == nil {
		s.FinalOutput = []string{}
	}
	if s.ExecutionOrder == nil {
		s.ExecutionOrder = []string{}
	}
}

// SetOutput binds value under key, overwriting any earlier value in place.
func (s *WorkflowState) SetOutput(key string, value any) {
	s.Output.Set(key, value)
}

// GetOutput returns the value bound under key.
func (s *WorkflowState) GetOutput(key string) (any, bool) {
	return s.Output.Get(key)
}

// EachOutput visits output entries in insertion order.
func (s *WorkflowState) EachOutput(fn func(key string, value any)) {
	for pair := s.Output.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// OutputMap returns a deep copy of output as a plain map.
func (s *WorkflowState) OutputMap() map[string]any {
	m := make(map[string]any, s.Output.Len())
	s.EachOutput(func(k string, v any) { m[k] = DeepCopy(v) })
	return m
}

// SetMetadata replaces the metadata entry for key.
func (s *WorkflowState) SetMetadata(key string, value map[string]any) {
	s.Metadata.Set(key, value)
}

// GetMetadata returns the metadata entry for key.
func (s *WorkflowState) GetMetadata(key string) (map[string]any, bool) {
	return s.Metadata.Get(key)
}

// EachMetadata visits metadata entries in insertion order.
func (s *WorkflowState) EachMetadata(fn func(key string, value map[string]any)) {
	for pair := s.Metadata.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// MetadataMap returns a deep copy of metadata as a plain map.
func (s *WorkflowState) MetadataMap() map[string]any {
	m := make(map[string]any, s.Metadata.Len())
	s.EachMetadata(func(k string, v map[string]any) { m[k] = deepCopyMap(v) })
	return m
}

// AppendTranscript appends messages in order.
func (s *WorkflowState) AppendTranscript(msgs ...Message) {
	s.Transcript = append(s.Transcript, msgs...)
}

// AppendFinalOutput appends lines to the final output.
func (s *WorkflowState) AppendFinalOutput(lines ...string) {
	s.FinalOutput = append(s.FinalOutput, lines...)
}

// OrderOf returns the first-occurrence index of step in the execution order,
// or the length of the execution order when the step has not run yet.
func (s *WorkflowState) OrderOf(step string) int {
	for i, name := range s.ExecutionOrder {
		if name == step {
			return i
		}
	}
	return len(s.ExecutionOrder)
}

// RecordExecution returns the step's order and appends it to the execution
// order on first occurrence.
func (s *WorkflowState) RecordExecution(step string) int {
	order := s.OrderOf(step)
	if order == len(s.ExecutionOrder) {
		s.ExecutionOrder = append(s.ExecutionOrder, step)
	}
	return order
}

// Clone returns a deep copy.
func (s *WorkflowState) Clone() *WorkflowState {
	c := NewWorkflowState()
	s.EachOutput(func(k string, v any) { c.Output.Set(k, DeepCopy(v)) })
	s.EachMetadata(func(k string, v map[string]any) { c.Metadata.Set(k, deepCopyMap(v)) })
	c.Transcript = append(c.Transcript, s.Transcript...)
	c.FinalOutput = append(c.FinalOutput, s.FinalOutput...)
	c.ExecutionOrder = append(c.ExecutionOrder, s.ExecutionOrder...)
	return c
}

// Restore replaces this state's contents with a copy of from. Output,
// metadata, final output and execution order are overwritten wholesale; the
// transcript is cleared and re-appended entry by entry.
func (s *WorkflowState) Restore(from *WorkflowState) {
	src := from.Clone()
	s.Output = src.Output
	s.Metadata = src.Metadata
	s.FinalOutput = src.FinalOutput
	s.ExecutionOrder = src.ExecutionOrder
	s.Transcript = s.Transcript[:0]
	for _, m := range src.Transcript {
		s.AppendTranscript(m)
	}
}

// StateRecord is a persisted snapshot of a WorkflowState taken after a step.
type StateRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	StepName  string         `json:"step_name"`
	Order     int            `json:"order"`
	State     *WorkflowState `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
}

// DeepCopy recursively copies maps and slices; other values are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	case map[string]string:
		cp := make(map[string]string, len(val))
		for k, s := range val {
			cp[k] = s
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopy(v)
	}
	return cp
}
