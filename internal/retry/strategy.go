// Package retry runs operations with a configurable backoff policy.
//
// A Policy combines a Strategy (how long to wait), a Matcher (which errors are
// worth another attempt) and Handlers (observers of the retry lifecycle).
// Retryable drives one operation under a policy.
package retry

import (
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before the next attempt. attempt is the
// 1-based number of the attempt that just failed.
type Strategy interface {
	Name() string
	Calculate(attempt int, base, max time.Duration) time.Duration
}

// ExponentialBackoff waits base * 2^(attempt-1), capped at max.
type ExponentialBackoff struct{}

func (ExponentialBackoff) Name() string { return "exponential" }

func (ExponentialBackoff) Calculate(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	return capDelay(delay, max)
}

// LinearBackoff waits base * attempt, capped at max.
type LinearBackoff struct{}

func (LinearBackoff) Name() string { return "linear" }

func (LinearBackoff) Calculate(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capDelay(base*time.Duration(attempt), max)
}

// FixedDelay always waits base, capped at max.
type FixedDelay struct{}

func (FixedDelay) Name() string { return "fixed" }

func (FixedDelay) Calculate(_ int, base, max time.Duration) time.Duration {
	return capDelay(base, max)
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// Jitter scales d by a uniform factor in [0.9, 1.1].
func Jitter(d time.Duration) time.Duration {
	factor := 0.9 + rand.Float64()*0.2
	return time.Duration(float64(d) * factor)
}

// StrategyByName maps a declarative strategy name to its implementation.
func StrategyByName(name string) (Strategy, bool) {
	switch name {
	case "exponential", "exponential_backoff":
		return ExponentialBackoff{}, true
	case "linear", "linear_backoff":
		return LinearBackoff{}, true
	case "fixed", "fixed_delay", "constant":
		return FixedDelay{}, true
	}
	return nil, false
}
