package retry

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/martinemde/roast-sub000/internal/metrics"
	"github.com/martinemde/roast-sub000/pkg/schema"
)

// FactoryOptions supplies the collaborators named handlers need.
type FactoryOptions struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (o FactoryOptions) defaultHandlers() []Handler {
	return []Handler{NewLoggingHandler(o.Logger), NewMetricsHandler(o.Metrics)}
}

// Default is the policy for `retries: n` without a retry map: n re-runs
// with exponential backoff from 1s capped at 60s, no jitter, any error.
func Default(retries int, opts FactoryOptions) (*Policy, error) {
	return NewPolicy(PolicyConfig{
		Strategy:    ExponentialBackoff{},
		MaxAttempts: retries + 1,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Matcher:     AlwaysMatcher{},
		Handlers:    opts.defaultHandlers(),
	})
}

// FromConfig builds a policy from a declarative map:
//
//	strategy: exponential | linear | fixed
//	max_attempts: 3
//	base_delay: 1        # seconds, or a duration string such as "500ms"
//	max_delay: 60
//	jitter: true
//	matcher: {type: error_type, errors: [CommandExecutionError]}
//	handlers: [logging, metrics]
//
// Unknown strategy, matcher or handler names are configuration errors.
func FromConfig(cfg map[string]any, opts FactoryOptions) (*Policy, error) {
	pc := PolicyConfig{
		Strategy:    ExponentialBackoff{},
		MaxAttempts: 3,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Matcher:     AlwaysMatcher{},
	}

	if v, ok := cfg["strategy"]; ok {
		name, _ := v.(string)
		s, found := StrategyByName(strings.ToLower(strings.TrimSpace(name)))
		if !found {
			return nil, schema.ConfigurationError("unknown retry strategy %v", v)
		}
		pc.Strategy = s
	}

	if v, ok := cfg["max_attempts"]; ok {
		n, err := intValue(v)
		if err != nil {
			return nil, schema.ConfigurationError("retry max_attempts: %v", err)
		}
		pc.MaxAttempts = n
	}

	for key, dst := range map[string]*time.Duration{"base_delay": &pc.BaseDelay, "max_delay": &pc.MaxDelay} {
		if v, ok := cfg[key]; ok {
			d, err := durationValue(v)
			if err != nil {
				return nil, schema.ConfigurationError("retry %s: %v", key, err)
			}
			*dst = d
		}
	}
	if _, ok := cfg["max_delay"]; !ok && pc.MaxDelay < pc.BaseDelay {
		pc.MaxDelay = pc.BaseDelay
	}

	if v, ok := cfg["jitter"]; ok {
		b, isBool := v.(bool)
		if !isBool {
			return nil, schema.ConfigurationError("retry jitter must be a boolean, got %T", v)
		}
		pc.Jitter = b
	}

	if v, ok := cfg["matcher"]; ok {
		m, err := BuildMatcher(v)
		if err != nil {
			return nil, err
		}
		pc.Matcher = m
	}

	if v, ok := cfg["handlers"]; ok {
		hs, err := buildHandlers(v, opts)
		if err != nil {
			return nil, err
		}
		pc.Handlers = hs
	} else {
		pc.Handlers = opts.defaultHandlers()
	}

	return NewPolicy(pc)
}

// BuildMatcher builds a Matcher from a string type name or a map with a
// "type" key.
func BuildMatcher(raw any) (Matcher, error) {
	var cfg map[string]any
	switch v := raw.(type) {
	case string:
		cfg = map[string]any{"type": v}
	case map[string]any:
		cfg = v
	default:
		return nil, schema.ConfigurationError("retry matcher must be a name or a map, got %T", raw)
	}

	typ, _ := cfg["type"].(string)
	switch strings.ToLower(typ) {
	case "always", "all_errors":
		return AlwaysMatcher{}, nil

	case "error_type":
		names, err := stringList(firstOf(cfg, "errors", "error_types", "error"))
		if err != nil || len(names) == 0 {
			return nil, schema.ConfigurationError("error_type matcher needs a non-empty errors list")
		}
		codes := make([]string, 0, len(names))
		for _, n := range names {
			if strings.EqualFold(n, TimeoutCode) {
				codes = append(codes, TimeoutCode)
				continue
			}
			code, ok := schema.CodeForName(n)
			if !ok {
				return nil, schema.ConfigurationError("unknown error type %q", n)
			}
			codes = append(codes, code)
		}
		return ErrorTypeMatcher{Codes: codes}, nil

	case "error_message":
		if p, ok := cfg["pattern"].(string); ok && p != "" {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, schema.ConfigurationError("error_message pattern %q: %v", p, err)
			}
			return ErrorMessageMatcher{Pattern: re}, nil
		}
		if s, ok := cfg["message"].(string); ok && s != "" {
			return ErrorMessageMatcher{Substring: s}, nil
		}
		return nil, schema.ConfigurationError("error_message matcher needs a pattern or message")

	case "http_status":
		raw, ok := cfg["statuses"].([]any)
		if !ok || len(raw) == 0 {
			return nil, schema.ConfigurationError("http_status matcher needs a non-empty statuses list")
		}
		statuses := make([]int, 0, len(raw))
		for _, s := range raw {
			n, err := intValue(s)
			if err != nil {
				return nil, schema.ConfigurationError("http_status matcher: %v", err)
			}
			statuses = append(statuses, n)
		}
		return HTTPStatusMatcher{Statuses: statuses}, nil

	case "rate_limit":
		return NewRateLimitMatcher(), nil

	case "composite":
		op, _ := cfg["operator"].(string)
		mode := CompositeMode(strings.ToLower(op))
		if mode == "" {
			mode = CompositeAll
		}
		if mode != CompositeAll && mode != CompositeAny {
			return nil, schema.ConfigurationError("composite matcher operator must be all or any, got %q", op)
		}
		children, ok := cfg["matchers"].([]any)
		if !ok || len(children) == 0 {
			return nil, schema.ConfigurationError("composite matcher needs a non-empty matchers list")
		}
		built := make([]Matcher, 0, len(children))
		for _, c := range children {
			m, err := BuildMatcher(c)
			if err != nil {
				return nil, err
			}
			built = append(built, m)
		}
		return CompositeMatcher{Mode: mode, Matchers: built}, nil
	}

	return nil, schema.ConfigurationError("unknown retry matcher type %q", typ)
}

func buildHandlers(raw any, opts FactoryOptions) ([]Handler, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, schema.ConfigurationError("retry handlers must be a list, got %T", raw)
	}
	out := make([]Handler, 0, len(list))
	for _, item := range list {
		var typ string
		switch v := item.(type) {
		case string:
			typ = v
		case map[string]any:
			typ, _ = v["type"].(string)
		}
		switch strings.ToLower(typ) {
		case "logging", "log":
			out = append(out, NewLoggingHandler(opts.Logger))
		case "metrics":
			out = append(out, NewMetricsHandler(opts.Metrics))
		case "none", "noop":
			out = append(out, NopHandler{})
		default:
			return nil, schema.ConfigurationError("unknown retry handler type %v", item)
		}
	}
	return out, nil
}

func firstOf(cfg map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := cfg[k]; ok {
			return v
		}
	}
	return nil
}

func stringList(v any) ([]string, error) {
	switch val := v.(type) {
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list of strings, got %T", v)
}

func intValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("expected an integer, got %T", v)
}

func durationValue(v any) (time.Duration, error) {
	switch d := v.(type) {
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case string:
		return time.ParseDuration(d)
	}
	return 0, fmt.Errorf("expected seconds or a duration string, got %T", v)
}
