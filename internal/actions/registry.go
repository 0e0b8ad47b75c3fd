package actions

import (
	"sort"
	"sync"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

type registeredStep struct {
	runner      schema.Runner
	description string
}

// StepRegistry is the thread-safe registry of named custom step objects.
// Workflows reference entries with `!step name` or by using the bare name as
// a step.
type StepRegistry struct {
	mu    sync.RWMutex
	steps map[string]registeredStep
}

// NewStepRegistry creates an empty StepRegistry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make(map[string]registeredStep),
	}
}

// Register adds a custom step. Returns an error on a duplicate name.
func (r *StepRegistry) Register(name string, runner schema.Runner, description string) error {
	if runner == nil {
		return schema.ConfigurationError("custom step %q: runner is nil", name)
	}
	if name == "" {
		return schema.ConfigurationError("custom step name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[name]; exists {
		return schema.ConfigurationError("custom step %q already registered", name)
	}
	r.steps[name] = registeredStep{runner: runner, description: description}
	return nil
}

// Lookup returns the runner registered under name.
func (r *StepRegistry) Lookup(name string) (schema.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.steps[name]
	if !ok {
		return nil, false
	}
	return s.runner, true
}

// Has checks if a custom step is registered.
func (r *StepRegistry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// List returns all registered custom steps, sorted by name.
func (r *StepRegistry) List() []StepInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]StepInfo, 0, len(r.steps))
	for name, s := range r.steps {
		infos = append(infos, StepInfo{Name: name, Description: s.description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered custom steps.
func (r *StepRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.steps)
}
