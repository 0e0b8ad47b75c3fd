package validation

import "github.com/martinemde/roast-sub000/pkg/schema"

// Issue codes reported in ValidationIssue.Code.
const (
	IssueSchema           = "SCHEMA_VIOLATION"
	IssueDecode           = "INVALID_STEP"
	IssueRetryPolicy      = "INVALID_RETRY_POLICY"
	IssueUnusedConfig     = "UNUSED_CONFIG"
	IssueShadowedBinding  = "SHADOWED_BINDING"
	IssueDuplicateStep    = "DUPLICATE_STEP"
	IssueUnregisteredStep = "UNREGISTERED_STEP"
	IssueParallelOverlap  = "PARALLEL_OVERLAP"
)

// StepLookup reports whether a custom step name is registered.
type StepLookup interface {
	Has(name string) bool
}

// WorkflowValidator runs the two validation stages a workflow goes through
// while loading:
//  1. Structural: the raw document against the workflow JSON Schema.
//  2. Semantic: the decoded workflow (config, retry maps, loop variables,
//     duplicate IDs, custom step references, parallel bindings).
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepLookup
}

// NewWorkflowValidator creates a WorkflowValidator. lookup may be nil to skip
// custom step registration checks.
func NewWorkflowValidator(lookup StepLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, steps: lookup}, nil
}

// ValidateDocument runs the structural stage over a raw document.
func (wv *WorkflowValidator) ValidateDocument(doc map[string]any) *schema.ValidationResult {
	return wv.jsonSchema.ValidateDocument(doc)
}

// ValidateWorkflow runs the semantic stage over a decoded workflow.
func (wv *WorkflowValidator) ValidateWorkflow(wf *schema.Workflow) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", IssueSchema, "workflow is nil")
		return r
	}
	result := validateSemantic(wf, wv.steps)
	result.Merge(validateParallel(wf))
	return result
}
