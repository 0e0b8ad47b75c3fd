package expressions

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// GoJQEngine runs jq queries over step results. It backs the jq() template
// function. Compiled queries are kept per query text and shared.
type GoJQEngine struct {
	codes sync.Map // query text -> *gojq.Code
}

func NewGoJQEngine() *GoJQEngine { return &GoJQEngine{} }

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression with data as its input object.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if data == nil {
		return e.Query(ctx, expression, map[string]any{})
	}
	return e.Query(ctx, expression, data)
}

// Query runs query against input. Provider replies arrive as strings, so a
// string holding a JSON object or array is decoded first. One result is
// returned as is, several are collected into []any and none yields nil.
func (e *GoJQEngine) Query(ctx context.Context, query string, input any) (any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty jq expression")
	}
	code, err := e.compile(query)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, jqValue(input))
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, jqError("evaluation failed", query, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	}
	return results, nil
}

func (e *GoJQEngine) compile(query string) (*gojq.Code, error) {
	if code, ok := e.codes.Load(query); ok {
		return code.(*gojq.Code), nil
	}
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, jqError("parse error", query, err)
	}
	// $ENV stays empty: workflows read the environment through env().
	code, err := gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, jqError("compile error", query, err)
	}
	actual, _ := e.codes.LoadOrStore(query, code)
	return actual.(*gojq.Code), nil
}

func jqError(stage, query string, err error) error {
	return schema.NewErrorf(schema.ErrCodeInterpolation, "jq %s in %q: %s", stage, query, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": query})
}

// jqValue converts a step result into the value types gojq understands.
// Anything it cannot take directly goes through a JSON round trip.
func jqValue(v any) any {
	switch val := v.(type) {
	case nil, bool, float64, int:
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			var decoded any
			if json.Unmarshal([]byte(trimmed), &decoded) == nil {
				return decoded
			}
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jqValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jqValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded any
	if json.Unmarshal(data, &decoded) != nil {
		return v
	}
	return decoded
}

var _ Engine = (*GoJQEngine)(nil)
