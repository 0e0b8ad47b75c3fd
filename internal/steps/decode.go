package steps

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Decode turns a raw descriptor tree (strings, single-key maps, lists, custom
// step objects) into a typed step.
func Decode(raw any, ctx *Context) (schema.Step, error) {
	kind := Resolve(raw, ctx)
	switch kind {
	case schema.StepKindLiteral, schema.StepKindCommand, schema.StepKindAgent, schema.StepKindGlob:
		return schema.Step{Kind: kind, Text: raw.(string)}, nil
	case schema.StepKindParallel:
		branches, err := DecodeList(raw.([]any), ctx)
		if err != nil {
			return schema.Step{}, err
		}
		return schema.Step{Kind: kind, Steps: branches}, nil
	case schema.StepKindCustom:
		return decodeCustom(raw)
	}

	m, err := normalizeMap(raw)
	if err != nil {
		return schema.Step{}, err
	}
	switch kind {
	case schema.StepKindNamed:
		return decodeNamed(m, ctx)
	case schema.StepKindConditional:
		return decodeConditional(m, ctx)
	case schema.StepKindCase:
		return decodeCase(m, ctx)
	case schema.StepKindIteration:
		return decodeIteration(m, ctx)
	case schema.StepKindInput:
		return decodeInput(m)
	}
	return schema.Step{}, schema.UnknownStepTypeError(kind, fmt.Sprint(raw))
}

// DecodeList decodes each element of a step list in order.
func DecodeList(raw []any, ctx *Context) ([]schema.Step, error) {
	out := make([]schema.Step, 0, len(raw))
	for i, item := range raw {
		s, err := Decode(item, ctx)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// DecodeSteps decodes a value that is either a step list or a single step.
// A nil value decodes to no steps.
func DecodeSteps(raw any, ctx *Context) ([]schema.Step, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		return DecodeList(v, ctx)
	}
	s, err := Decode(raw, ctx)
	if err != nil {
		return nil, err
	}
	return []schema.Step{s}, nil
}

func decodeCustom(raw any) (schema.Step, error) {
	switch v := raw.(type) {
	case schema.Runner:
		return schema.Step{Kind: schema.StepKindCustom, Custom: v}, nil
	case schema.StepRef:
		return schema.Step{Kind: schema.StepKindCustom, Custom: v}, nil
	case *schema.StepRef:
		return schema.Step{Kind: schema.StepKindCustom, Custom: *v}, nil
	case map[string]any:
		return schema.Step{}, schema.ConfigurationError("unrecognized step structure with keys %v", sortedKeys(v))
	}
	return schema.Step{}, schema.ConfigurationError("unrecognized step value %v (%T)", raw, raw)
}

func decodeNamed(m map[string]any, ctx *Context) (schema.Step, error) {
	var name string
	var value any
	for k, v := range m {
		name, value = k, v
	}
	if value == nil {
		return schema.Step{}, schema.ConfigurationError("named step %q has no value", name)
	}
	step := schema.Step{Kind: schema.StepKindNamed, Name: name}
	if list, ok := value.([]any); ok {
		nested, err := DecodeList(list, ctx)
		if err != nil {
			return schema.Step{}, fmt.Errorf("named step %q: %w", name, err)
		}
		step.Sequence = true
		step.Steps = nested
		return step, nil
	}
	nested, err := Decode(value, ctx)
	if err != nil {
		return schema.Step{}, fmt.Errorf("named step %q: %w", name, err)
	}
	step.Steps = []schema.Step{nested}
	return step, nil
}

func decodeConditional(m map[string]any, ctx *Context) (schema.Step, error) {
	key := "if"
	if _, ok := m["if"]; !ok {
		key = "unless"
	}
	cond, err := conditionString(m[key])
	if err != nil {
		return schema.Step{}, schema.ConfigurationError("%s: %v", key, err)
	}
	then, err := DecodeSteps(m["then"], ctx)
	if err != nil {
		return schema.Step{}, fmt.Errorf("%s then: %w", key, err)
	}
	elseRaw, hasElse := m["else"]
	elseSteps, err := DecodeSteps(elseRaw, ctx)
	if err != nil {
		return schema.Step{}, fmt.Errorf("%s else: %w", key, err)
	}
	return schema.Step{
		Kind: schema.StepKindConditional,
		Conditional: &schema.ConditionalStep{
			Negate:    key == "unless",
			Condition: cond,
			Then:      then,
			Else:      elseSteps,
			HasElse:   hasElse,
		},
	}, nil
}

func decodeCase(m map[string]any, ctx *Context) (schema.Step, error) {
	expr, err := conditionString(m["case"])
	if err != nil {
		return schema.Step{}, schema.ConfigurationError("case: %v", err)
	}
	cs := &schema.CaseStep{Expression: expr, When: map[string][]schema.Step{}}
	if rawWhen, ok := m["when"]; ok && rawWhen != nil {
		when, err := normalizeMap(rawWhen)
		if err != nil {
			return schema.Step{}, schema.ConfigurationError("case when must be a map")
		}
		for _, k := range sortedKeys(when) {
			branch, err := DecodeSteps(when[k], ctx)
			if err != nil {
				return schema.Step{}, fmt.Errorf("case when %q: %w", k, err)
			}
			cs.When[k] = branch
			cs.WhenOrder = append(cs.WhenOrder, k)
		}
	}
	if rawElse, ok := m["else"]; ok {
		cs.HasElse = true
		cs.Else, err = DecodeSteps(rawElse, ctx)
		if err != nil {
			return schema.Step{}, fmt.Errorf("case else: %w", err)
		}
	}
	return schema.Step{Kind: schema.StepKindCase, Case: cs}, nil
}

func decodeIteration(m map[string]any, ctx *Context) (schema.Step, error) {
	if _, ok := m["each"]; ok {
		each, err := conditionString(m["each"])
		if err != nil {
			return schema.Step{}, schema.ConfigurationError("each: %v", err)
		}
		as, _ := m["as"].(string)
		if strings.TrimSpace(as) == "" {
			return schema.Step{}, schema.ConfigurationError("each loop over %q requires 'as'", each)
		}
		body, err := loopBody(m, ctx, "each")
		if err != nil {
			return schema.Step{}, err
		}
		return schema.Step{
			Kind:      schema.StepKindIteration,
			Iteration: &schema.IterationStep{Mode: schema.IterationEach, Each: each, As: as, Steps: body},
		}, nil
	}

	fields := m
	if nested, err := normalizeMap(m["repeat"]); err == nil {
		fields = nested
	}
	until := ""
	if raw, ok := fields["until"]; ok && raw != nil {
		u, err := conditionString(raw)
		if err != nil {
			return schema.Step{}, schema.ConfigurationError("repeat until: %v", err)
		}
		until = u
	}
	maxIter := 0
	if raw, ok := fields["max_iterations"]; ok {
		n, err := toInt(raw)
		if err != nil || n < 0 {
			return schema.Step{}, schema.ConfigurationError("repeat max_iterations must be a non-negative integer, got %v", raw)
		}
		maxIter = n
	}
	body, err := loopBody(fields, ctx, "repeat")
	if err != nil {
		return schema.Step{}, err
	}
	return schema.Step{
		Kind: schema.StepKindIteration,
		Iteration: &schema.IterationStep{
			Mode:          schema.IterationRepeat,
			Until:         until,
			MaxIterations: maxIter,
			Steps:         body,
		},
	}, nil
}

func loopBody(m map[string]any, ctx *Context, kind string) ([]schema.Step, error) {
	raw, ok := m["steps"]
	if !ok || raw == nil {
		return nil, schema.ConfigurationError("%s loop requires 'steps'", kind)
	}
	body, err := DecodeSteps(raw, ctx)
	if err != nil {
		return nil, fmt.Errorf("%s steps: %w", kind, err)
	}
	return body, nil
}

func decodeInput(m map[string]any) (schema.Step, error) {
	fields := m
	if nested, err := normalizeMap(m["input"]); err == nil {
		fields = nested
	} else if prompt, ok := m["input"].(string); ok {
		fields = make(map[string]any, len(m))
		for k, v := range m {
			fields[k] = v
		}
		fields["prompt"] = prompt
	}

	in := &schema.InputStep{Type: schema.InputText}
	in.Prompt, _ = fields["prompt"].(string)
	if strings.TrimSpace(in.Prompt) == "" {
		return schema.Step{}, schema.ConfigurationError("input step requires a prompt")
	}
	in.Name, _ = fields["name"].(string)
	if t, ok := fields["type"].(string); ok && t != "" {
		in.Type = t
	}
	if r, ok := fields["required"].(bool); ok {
		in.Required = r
	}
	if d, ok := fields["default"]; ok {
		in.Default = d
		in.HasDefault = true
	}
	if raw, ok := fields["timeout"]; ok && raw != nil {
		d, err := toDuration(raw)
		if err != nil || d < 0 {
			return schema.Step{}, schema.ConfigurationError("input timeout must be a non-negative duration, got %v", raw)
		}
		in.Timeout = d
	}
	if raw, ok := fields["options"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return schema.Step{}, schema.ConfigurationError("input options must be a list")
		}
		for _, o := range list {
			in.Options = append(in.Options, fmt.Sprint(o))
		}
	}

	switch in.Type {
	case schema.InputText, schema.InputPassword, schema.InputBoolean:
		if len(in.Options) > 0 {
			return schema.Step{}, schema.ConfigurationError("input type %q does not take options", in.Type)
		}
	case schema.InputChoice:
		if len(in.Options) == 0 {
			return schema.Step{}, schema.ConfigurationError("input type choice requires options")
		}
	default:
		return schema.Step{}, schema.ConfigurationError("unknown input type %q", in.Type)
	}
	return schema.Step{Kind: schema.StepKindInput, Input: in}, nil
}

func conditionString(v any) (string, error) {
	switch c := v.(type) {
	case string:
		if strings.TrimSpace(c) == "" {
			return "", fmt.Errorf("expression is empty")
		}
		return c, nil
	case bool:
		return strconv.FormatBool(c), nil
	case int, int64, float64:
		return fmt.Sprint(c), nil
	case nil:
		return "", fmt.Errorf("expression is missing")
	}
	return "", fmt.Errorf("expression must be a string, got %T", v)
}

func normalizeMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a map, got %T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := keysOf(m)
	sort.Strings(keys)
	return keys
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

// toDuration accepts seconds as a number or a Go duration string.
func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(d, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(d)
	}
	return 0, fmt.Errorf("not a duration: %v", v)
}
