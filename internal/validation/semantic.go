package validation

import (
	"fmt"
	"sort"

	"github.com/martinemde/roast-sub000/internal/retry"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// reservedBindings are the template names a loop variable must not hide.
var reservedBindings = map[string]bool{
	"output":       true,
	"metadata":     true,
	"transcript":   true,
	"final_output": true,
	"workflow":     true,
	"file":         true,
	"resource":     true,
	"jq":           true,
	"env":          true,
}

// validateSemantic checks a decoded workflow for problems the schema cannot
// see: config that matches no step, retry maps the factory rejects, loop
// variables that hide template bindings, duplicate step IDs and custom step
// references nobody registered.
func validateSemantic(wf *schema.Workflow, lookup StepLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool)
	walkSteps(wf.Steps, "/steps", func(step *schema.Step, path string) {
		ids[step.ID()] = true

		switch step.Kind {
		case schema.StepKindIteration:
			it := step.Iteration
			if it.Mode == schema.IterationEach && reservedBindings[it.As] {
				result.AddWarning(path+"/as", IssueShadowedBinding,
					fmt.Sprintf("loop variable %q hides the built-in template binding of the same name", it.As))
			}
		case schema.StepKindCustom:
			ref, ok := step.Custom.(schema.StepRef)
			if ok && lookup != nil && !lookup.Has(ref.Name) {
				result.AddWarning(path, IssueUnregisteredStep,
					fmt.Sprintf("custom step %q is not registered; running it will fail", ref.Name))
			}
		}
	})

	seen := make(map[string]int, len(wf.Steps))
	for i := range wf.Steps {
		id := wf.Steps[i].ID()
		if first, dup := seen[id]; dup {
			result.AddWarning(fmt.Sprintf("/steps/%d", i), IssueDuplicateStep,
				fmt.Sprintf("step %q also appears at /steps/%d; its output is overwritten and replay targets the first occurrence", id, first))
			continue
		}
		seen[id] = i
	}

	keys := make([]string, 0, len(wf.Config))
	for k := range wf.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, id := range keys {
		cfg := wf.Config[id]
		path := "/" + id
		if !ids[id] {
			result.AddWarning(path, IssueUnusedConfig,
				fmt.Sprintf("configuration for %q matches no step", id))
		}
		if cfg.Retry != nil {
			if _, err := retry.FromConfig(cfg.Retry, retry.FactoryOptions{}); err != nil {
				result.AddError(path+"/retry", IssueRetryPolicy, err.Error())
			}
		}
	}

	return result
}

// walkSteps visits every step in the tree depth-first, parents before
// children, with a JSON-pointer-like path.
func walkSteps(steps []schema.Step, path string, visit func(*schema.Step, string)) {
	for i := range steps {
		walkStep(&steps[i], fmt.Sprintf("%s/%d", path, i), visit)
	}
}

func walkStep(step *schema.Step, path string, visit func(*schema.Step, string)) {
	visit(step, path)
	switch step.Kind {
	case schema.StepKindNamed:
		if step.Sequence {
			walkSteps(step.Steps, path+"/"+step.Name, visit)
		} else if len(step.Steps) == 1 {
			walkStep(&step.Steps[0], path+"/"+step.Name, visit)
		}
	case schema.StepKindParallel:
		walkSteps(step.Steps, path, visit)
	case schema.StepKindConditional:
		walkSteps(step.Conditional.Then, path+"/then", visit)
		walkSteps(step.Conditional.Else, path+"/else", visit)
	case schema.StepKindCase:
		for _, k := range step.Case.WhenOrder {
			walkSteps(step.Case.When[k], path+"/when/"+k, visit)
		}
		walkSteps(step.Case.Else, path+"/else", visit)
	case schema.StepKindIteration:
		walkSteps(step.Iteration.Steps, path+"/steps", visit)
	}
}
