package engine

import (
	"context"
	"reflect"
	"sync"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// StepExecutor runs one kind of step.
type StepExecutor interface {
	Execute(ctx context.Context, ec *ExecutionContext, step *schema.Step) (any, error)
}

// Constructor builds an executor bound to the coordinator, which it calls
// back into for nested steps.
type Constructor func(c Coordinator) StepExecutor

// Predicate selects steps for a predicate registration.
type Predicate func(step *schema.Step) bool

type predicateEntry struct {
	match Predicate
	ctor  Constructor
}

// Registry maps steps to executor constructors. Lookup order: the Go type of
// a custom step value (following pointers), then the step kind, then
// predicates in registration order.
type Registry struct {
	mu         sync.RWMutex
	byKind     map[schema.StepKind]Constructor
	byType     map[reflect.Type]Constructor
	predicates []predicateEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[schema.StepKind]Constructor),
		byType: make(map[reflect.Type]Constructor),
	}
}

// DefaultRegistry has an executor for every built-in step kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(schema.StepKindLiteral, newLiteralExecutor)
	r.Register(schema.StepKindCommand, newCommandExecutor)
	r.Register(schema.StepKindAgent, newAgentExecutor)
	r.Register(schema.StepKindGlob, newGlobExecutor)
	r.Register(schema.StepKindNamed, newNamedExecutor)
	r.Register(schema.StepKindParallel, newParallelExecutor)
	r.Register(schema.StepKindConditional, newConditionalExecutor)
	r.Register(schema.StepKindCase, newCaseExecutor)
	r.Register(schema.StepKindIteration, newIterationExecutor)
	r.Register(schema.StepKindInput, newInputExecutor)
	r.Register(schema.StepKindCustom, newCustomExecutor)
	return r
}

// Register sets the constructor for a step kind, replacing any earlier one.
func (r *Registry) Register(kind schema.StepKind, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = ctor
}

// RegisterType sets the constructor for custom steps whose value has the
// same Go type as sample, replacing any earlier one.
func (r *Registry) RegisterType(sample any, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[reflect.TypeOf(sample)] = ctor
}

// RegisterPredicate appends a predicate registration.
func (r *Registry) RegisterPredicate(match Predicate, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.predicates = append(r.predicates, predicateEntry{match: match, ctor: ctor})
}

// Lookup finds the constructor for step or fails with UNKNOWN_STEP_TYPE.
func (r *Registry) Lookup(step *schema.Step) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if step.Kind == schema.StepKindCustom && step.Custom != nil {
		t := reflect.TypeOf(step.Custom)
		for t != nil {
			if ctor, ok := r.byType[t]; ok {
				return ctor, nil
			}
			if t.Kind() != reflect.Pointer {
				break
			}
			t = t.Elem()
		}
	}
	if ctor, ok := r.byKind[step.Kind]; ok {
		return ctor, nil
	}
	for _, p := range r.predicates {
		if p.match(step) {
			return p.ctor, nil
		}
	}
	return nil, schema.UnknownStepTypeError(step.Kind, step.ID())
}
