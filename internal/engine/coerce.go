package engine

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/martinemde/roast-sub000/internal/expressions"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Coerce converts a condition or collection value as coerce_to asks.
func Coerce(v any, to string) (any, error) {
	switch to {
	case "", schema.CoerceBoolean:
		return ToBool(v), nil
	case schema.CoerceLLMBoolean:
		return LLMBool(expressions.Stringify(v)), nil
	case schema.CoerceIterable:
		return ToList(v), nil
	case schema.CoerceString:
		return expressions.Stringify(v), nil
	}
	return nil, schema.ConfigurationError("unknown coerce_to %q", to)
}

var falseWords = map[string]bool{"": true, "false": true, "no": true, "0": true, "nil": true, "null": true}

// ToBool is plain boolean coercion: nil, false, zero, empty collections and
// the strings "", "false", "no", "0", "nil" and "null" are false.
func ToBool(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		return !falseWords[strings.ToLower(strings.TrimSpace(b))]
	case int:
		return b != 0
	case int64:
		return b != 0
	case float64:
		return b != 0
	case []any:
		return len(b) > 0
	case []string:
		return len(b) > 0
	case map[string]any:
		return len(b) > 0
	}
	return true
}

var (
	yesPattern = regexp.MustCompile(`\b(yes|y|true|t|1|correct|affirmative)\b`)
	noPattern  = regexp.MustCompile(`\b(no|n|false|f|0|incorrect|negative)\b`)
)

// LLMBool reads a yes/no answer out of free text. Text that says both or
// neither is false.
func LLMBool(text string) bool {
	t := strings.ToLower(text)
	yes := yesPattern.MatchString(t)
	no := noPattern.MatchString(t)
	return yes && !no
}

// ToList turns a value into the elements of an each loop. Strings holding a
// JSON array are decoded; other strings split into non-empty lines. Maps
// become {key, value} pairs sorted by key. Scalars become one element.
func ToList(v any) []any {
	switch val := v.(type) {
	case nil:
		return []any{}
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if strings.HasPrefix(s, "[") {
			var arr []any
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return arr
			}
		}
		out := []any{}
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = map[string]any{"key": k, "value": val[k]}
		}
		return out
	}
	return []any{v}
}

func coerceBool(v any, to string) (bool, error) {
	switch to {
	case "", schema.CoerceBoolean, schema.CoerceLLMBoolean:
		c, err := Coerce(v, to)
		if err != nil {
			return false, err
		}
		return c.(bool), nil
	}
	return false, schema.ConfigurationError("coerce_to %q does not yield a boolean", to)
}
