package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

const workflowSchemaURL = "https://roast.dev/schemas/workflow.json"

// workflowSchemaJSON describes a workflow document as read from YAML. Every
// top-level key other than the reserved ones is a per-step config map.
// Step objects are matched in the order the step resolver classifies them:
// if/unless, case, repeat/each, input, then single-key named steps.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://roast.dev/schemas/workflow.json",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "model": {"type": "string"},
    "target": {"type": "string"},
    "steps": {
      "type": "array",
      "items": {"$ref": "#/$defs/step"}
    }
  },
  "additionalProperties": {"$ref": "#/$defs/stepConfig"},
  "$defs": {
    "stepConfig": {
      "type": "object",
      "properties": {
        "retries": {"type": "integer", "minimum": 0},
        "exit_on_error": {"type": "boolean"},
        "model": {"type": "string"},
        "print_response": {"type": "boolean"},
        "json": {"type": "boolean"},
        "coerce_to": {"enum": ["boolean", "llm_boolean", "iterable", "string"]},
        "retry": {"$ref": "#/$defs/retry"}
      },
      "additionalProperties": false
    },
    "retry": {
      "type": "object",
      "properties": {
        "strategy": {"type": "string"},
        "max_attempts": {"type": "integer", "minimum": 1},
        "base_delay": {"type": ["number", "string"]},
        "max_delay": {"type": ["number", "string"]},
        "jitter": {"type": "boolean"},
        "matcher": {"type": ["string", "object"]},
        "handlers": {"type": "array"}
      },
      "additionalProperties": false
    },
    "condition": {"type": ["string", "boolean", "number"]},
    "body": {
      "anyOf": [{"type": "null"}, {"$ref": "#/$defs/step"}]
    },
    "step": {
      "type": ["string", "array", "object"],
      "minLength": 1,
      "items": {"$ref": "#/$defs/step"},
      "allOf": [
        {
          "if": {"type": "object", "anyOf": [{"required": ["if"]}, {"required": ["unless"]}]},
          "then": {"$ref": "#/$defs/conditional"}
        },
        {
          "if": {"type": "object", "required": ["case"], "not": {"$ref": "#/$defs/hasConditional"}},
          "then": {"$ref": "#/$defs/case"}
        },
        {
          "if": {
            "type": "object",
            "required": ["each"],
            "not": {"anyOf": [{"$ref": "#/$defs/hasConditional"}, {"required": ["case"]}]}
          },
          "then": {"$ref": "#/$defs/each"}
        },
        {
          "if": {
            "type": "object",
            "required": ["repeat"],
            "not": {"anyOf": [{"$ref": "#/$defs/hasConditional"}, {"required": ["case"]}, {"required": ["each"]}]}
          },
          "then": {"$ref": "#/$defs/repeat"}
        },
        {
          "if": {
            "type": "object",
            "required": ["input"],
            "not": {"anyOf": [{"$ref": "#/$defs/hasConditional"}, {"required": ["case"]}, {"required": ["each"]}, {"required": ["repeat"]}]}
          },
          "then": {"$ref": "#/$defs/input"}
        },
        {
          "if": {
            "type": "object",
            "not": {"anyOf": [
              {"$ref": "#/$defs/hasConditional"},
              {"required": ["case"]},
              {"required": ["each"]},
              {"required": ["repeat"]},
              {"required": ["input"]}
            ]}
          },
          "then": {"$ref": "#/$defs/named"}
        }
      ]
    },
    "hasConditional": {
      "anyOf": [{"required": ["if"]}, {"required": ["unless"]}]
    },
    "named": {
      "type": "object",
      "minProperties": 1,
      "maxProperties": 1,
      "additionalProperties": {"$ref": "#/$defs/step"}
    },
    "conditional": {
      "type": "object",
      "properties": {
        "if": {"$ref": "#/$defs/condition"},
        "unless": {"$ref": "#/$defs/condition"},
        "then": {"$ref": "#/$defs/body"},
        "else": {"$ref": "#/$defs/body"}
      },
      "not": {"required": ["if", "unless"]},
      "additionalProperties": false
    },
    "case": {
      "type": "object",
      "required": ["case"],
      "properties": {
        "case": {"$ref": "#/$defs/condition"},
        "when": {
          "type": ["object", "null"],
          "additionalProperties": {"$ref": "#/$defs/body"}
        },
        "else": {"$ref": "#/$defs/body"}
      },
      "additionalProperties": false
    },
    "each": {
      "type": "object",
      "required": ["each", "as", "steps"],
      "properties": {
        "each": {"$ref": "#/$defs/condition"},
        "as": {"type": "string", "minLength": 1},
        "steps": {"$ref": "#/$defs/step"}
      },
      "additionalProperties": false
    },
    "repeatFields": {
      "properties": {
        "until": {"$ref": "#/$defs/condition"},
        "max_iterations": {"type": "integer", "minimum": 0},
        "steps": {"$ref": "#/$defs/step"}
      }
    },
    "repeat": {
      "type": "object",
      "$ref": "#/$defs/repeatFields",
      "properties": {
        "repeat": {
          "anyOf": [
            {"type": ["string", "boolean", "integer", "null"]},
            {"type": "object", "$ref": "#/$defs/repeatFields", "required": ["steps"], "unevaluatedProperties": false}
          ]
        }
      },
      "if": {"properties": {"repeat": {"type": ["string", "boolean", "integer", "null"]}}},
      "then": {"required": ["steps"]},
      "unevaluatedProperties": false
    },
    "inputFields": {
      "properties": {
        "prompt": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "type": {"enum": ["text", "password", "boolean", "choice"]},
        "required": {"type": "boolean"},
        "default": true,
        "timeout": {"type": ["number", "string"]},
        "options": {
          "type": "array",
          "items": {"type": ["string", "number", "boolean"]}
        }
      },
      "if": {"required": ["type"], "properties": {"type": {"const": "choice"}}},
      "then": {"required": ["options"]}
    },
    "input": {
      "type": "object",
      "$ref": "#/$defs/inputFields",
      "properties": {
        "input": {
          "anyOf": [
            {"type": "string", "minLength": 1},
            {"type": "object", "$ref": "#/$defs/inputFields", "required": ["prompt"], "unevaluatedProperties": false}
          ]
        }
      },
      "unevaluatedProperties": false
    }
  }
}`

// JSONSchemaValidator checks raw workflow documents against the workflow
// JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDocument checks a decoded workflow document and returns one issue
// per schema violation.
func (v *JSONSchemaValidator) ValidateDocument(doc map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if doc == nil {
		result.AddError("/", IssueSchema, "workflow document is empty")
		return result
	}

	value, err := toJSONValue(toSchemaValue(doc))
	if err != nil {
		result.AddError("/", IssueSchema, fmt.Sprintf("workflow document is not serializable: %v", err))
		return result
	}

	err = v.workflowSchema.Validate(value)
	if err == nil {
		return result
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		result.AddError("/", IssueSchema, err.Error())
		return result
	}
	for _, viol := range collectViolations(verr) {
		result.AddError(viol.path, IssueSchema, viol.message)
	}
	if result.Valid() {
		result.AddError("/", IssueSchema, verr.Error())
	}
	return result
}

// toSchemaValue replaces values JSON cannot represent. Custom step
// references become {"!step": name} so they validate as named steps.
func toSchemaValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = toSchemaValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toSchemaValue(item)
		}
		return out
	case schema.StepRef:
		return map[string]any{"!step": t.Name}
	case *schema.StepRef:
		return map[string]any{"!step": t.Name}
	case schema.Runner:
		return map[string]any{"!step": fmt.Sprintf("%T", t)}
	}
	return v
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, which the schema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

type violation struct {
	path    string
	message string
}

// collectViolations flattens a ValidationError tree into its leaves.
func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{path: pointer(verr.InstanceLocation), message: verr.Error()}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}
