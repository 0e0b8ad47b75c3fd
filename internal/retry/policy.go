package retry

import (
	"time"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Defaults applied when a step asks for retries without a retry map.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second
)

// PolicyConfig is the input to NewPolicy. Zero Strategy and Matcher fall
// back to exponential backoff and AlwaysMatcher.
type PolicyConfig struct {
	Strategy    Strategy
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	Matcher     Matcher
	Handlers    []Handler
}

// Policy is an immutable retry policy.
type Policy struct {
	strategy    Strategy
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	jitter      bool
	matcher     Matcher
	handlers    []Handler
}

// NewPolicy validates cfg and builds a Policy.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.MaxAttempts < 1 {
		return nil, schema.ConfigurationError("retry max_attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay <= 0 {
		return nil, schema.ConfigurationError("retry base_delay must be positive, got %s", cfg.BaseDelay)
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, schema.ConfigurationError("retry max_delay %s is less than base_delay %s", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.Strategy == nil {
		cfg.Strategy = ExponentialBackoff{}
	}
	if cfg.Matcher == nil {
		cfg.Matcher = AlwaysMatcher{}
	}
	handlers := make([]Handler, len(cfg.Handlers))
	copy(handlers, cfg.Handlers)

	return &Policy{
		strategy:    cfg.Strategy,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
		matcher:     cfg.Matcher,
		handlers:    handlers,
	}, nil
}

// ShouldRetry reports whether a failure at attempt warrants another try.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxAttempts && p.matcher.Matches(err)
}

// DelayFor returns the wait after the given failed attempt.
func (p *Policy) DelayFor(attempt int) time.Duration {
	d := p.strategy.Calculate(attempt, p.baseDelay, p.maxDelay)
	if p.jitter {
		d = Jitter(d)
	}
	return d
}

// MaxAttempts returns the attempt limit.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Strategy returns the backoff strategy.
func (p *Policy) Strategy() Strategy { return p.strategy }

// Matcher returns the policy's matcher.
func (p *Policy) Matcher() Matcher { return p.matcher }

// Handlers returns a copy of the handler list.
func (p *Policy) Handlers() []Handler {
	out := make([]Handler, len(p.handlers))
	copy(out, p.handlers)
	return out
}

// WithMatcher returns a copy of the policy using m.
func (p *Policy) WithMatcher(m Matcher) *Policy {
	cp := *p
	cp.matcher = m
	return &cp
}
