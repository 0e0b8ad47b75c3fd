package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// validateParallel warns when two branches of a parallel step bind the same
// output or metadata key. Branches run on forked state and are merged in
// branch order, so the later branch silently wins.
func validateParallel(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	walkSteps(wf.Steps, "/steps", func(step *schema.Step, path string) {
		if step.Kind != schema.StepKindParallel {
			return
		}
		owner := make(map[string]int)
		clashes := make(map[string][]int)
		for i := range step.Steps {
			for _, key := range bindings(&step.Steps[i]) {
				first, taken := owner[key]
				if !taken {
					owner[key] = i
					continue
				}
				if first != i {
					if len(clashes[key]) == 0 {
						clashes[key] = append(clashes[key], first)
					}
					clashes[key] = append(clashes[key], i)
				}
			}
		}
		keys := make([]string, 0, len(clashes))
		for k := range clashes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			branches := make([]string, 0, len(clashes[key]))
			for _, b := range clashes[key] {
				branches = append(branches, fmt.Sprint(b))
			}
			result.AddWarning(path, IssueParallelOverlap,
				fmt.Sprintf("parallel branches %s all bind %q; the last branch wins", strings.Join(branches, ", "), key))
		}
	})
	return result
}

// bindings lists the state keys a step may write, without duplicates.
func bindings(step *schema.Step) []string {
	seen := make(map[string]bool)
	var out []string
	walkStep(step, "", func(s *schema.Step, _ string) {
		key := s.ID()
		if s.Kind == schema.StepKindInput && s.Input.Name != "" {
			key = s.Input.Name
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	})
	return out
}
