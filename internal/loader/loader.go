// Package loader reads workflow YAML files into typed workflows.
package loader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/roast-sub000/internal/logging"
	"github.com/martinemde/roast-sub000/internal/steps"
	"github.com/martinemde/roast-sub000/internal/validation"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// StepTag marks a scalar naming a registered custom step: `- !step lint`.
const StepTag = "!step"

// Top-level keys that are not per-step configuration.
var reservedKeys = map[string]bool{
	"name":        true,
	"description": true,
	"model":       true,
	"target":      true,
	"steps":       true,
}

// Options controls how a workflow is loaded.
type Options struct {
	// Validator checks the document and the decoded workflow. When nil a
	// validator without custom step checks is built.
	Validator *validation.WorkflowValidator

	// Target replaces the workflow's own target when set.
	Target string

	Logger *slog.Logger
}

// Load reads and parses the workflow file at path. Prompt files resolve
// relative to the file's directory. A workflow without a name is named after
// its file, or after its directory when the file is workflow.yml.
func Load(path string, opts Options) (*schema.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.ConfigurationError("read workflow %s: %v", path, err).WithCause(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	wf, err := Parse(data, filepath.Dir(abs), opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if wf.Name == "" {
		wf.Name = nameFromPath(abs)
	}
	return wf, nil
}

// Parse decodes a workflow document. dir becomes the workflow's context path.
func Parse(data []byte, dir string, opts Options) (*schema.Workflow, error) {
	logger := logging.OrDefault(opts.Logger)
	v := opts.Validator
	if v == nil {
		var err error
		if v, err = validation.NewWorkflowValidator(nil); err != nil {
			return nil, err
		}
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, schema.ConfigurationError("parse workflow: %v", err).WithCause(err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, schema.ConfigurationError("workflow document is empty")
	}
	docNode := resolveAlias(root.Content[0])
	if docNode.Kind != yaml.MappingNode {
		return nil, schema.ConfigurationError("workflow must be a mapping (line %d)", docNode.Line)
	}

	raw, err := nodeValue(docNode)
	if err != nil {
		return nil, err
	}
	doc := raw.(map[string]any)

	structural := v.ValidateDocument(doc)
	logWarnings(logger, structural)
	if err := structural.ToError(); err != nil {
		return nil, err
	}

	wf := &schema.Workflow{ContextPath: dir, Config: map[string]schema.StepConfig{}}
	wf.Name, _ = doc["name"].(string)
	wf.Model, _ = doc["model"].(string)
	wf.Target, _ = doc["target"].(string)
	if opts.Target != "" {
		wf.Target = opts.Target
	}

	if err := decodeConfig(docNode, wf); err != nil {
		return nil, err
	}

	list, _ := doc["steps"].([]any)
	wf.Steps, err = steps.DecodeList(list, &steps.Context{HasResource: wf.Target != ""})
	if err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}

	semantic := v.ValidateWorkflow(wf)
	logWarnings(logger, semantic)
	if err := semantic.ToError(); err != nil {
		return nil, err
	}
	return wf, nil
}

// decodeConfig decodes every non-reserved top-level key into a StepConfig.
func decodeConfig(docNode *yaml.Node, wf *schema.Workflow) error {
	pairs, err := mappingPairs(docNode)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if reservedKeys[p.key] {
			continue
		}
		var cfg schema.StepConfig
		if err := p.value.Decode(&cfg); err != nil {
			return schema.ConfigurationError("configuration for %q (line %d): %v", p.key, p.value.Line, err).WithCause(err)
		}
		wf.Config[p.key] = cfg
	}
	return nil
}

func logWarnings(logger *slog.Logger, r *schema.ValidationResult) {
	for _, w := range r.Warnings {
		logger.Warn("workflow validation warning",
			slog.String("path", w.Path),
			slog.String("code", w.Code),
			slog.String("message", w.Message))
	}
}

func nameFromPath(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "workflow" {
		if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) {
			return dir
		}
	}
	return stem
}
