package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/martinemde/roast-sub000/internal/logging"
)

// Metrics are the counters of the most recent Retryable.Execute call.
type Metrics struct {
	Attempts  int
	Retries   int
	Successes int
	Failures  int
	Duration  time.Duration
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Retryable.
type Option func(*Retryable)

// WithSleep replaces the sleep between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(r *Retryable) { r.sleep = fn }
}

// WithLogger sets the logger used for handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retryable) { r.logger = logger }
}

// Retryable runs operations under a Policy.
type Retryable struct {
	policy *Policy
	sleep  SleepFunc
	logger *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// NewRetryable creates a Retryable for policy.
func NewRetryable(policy *Policy, opts ...Option) *Retryable {
	r := &Retryable{policy: policy, sleep: Sleep}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Execute runs fn until it succeeds or the policy stops retrying. The last
// error is returned unwrapped.
func (r *Retryable) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	m := Metrics{}
	start := time.Now()
	defer func() {
		m.Duration = time.Since(start)
		r.mu.Lock()
		r.metrics = m
		r.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		m.Attempts = attempt
		r.each(ctx, func(h Handler) { h.BeforeAttempt(ctx, attempt) })

		val, err := fn(ctx)
		if err == nil {
			m.Successes++
			r.each(ctx, func(h Handler) { h.OnSuccess(ctx, attempt) })
			return val, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			m.Failures++
			r.each(ctx, func(h Handler) { h.OnFailure(ctx, err) })
			return nil, err
		}

		r.each(ctx, func(h Handler) { h.OnRetry(ctx, err, attempt) })
		m.Retries++
		if serr := r.sleep(ctx, r.policy.DelayFor(attempt)); serr != nil {
			m.Failures++
			r.each(ctx, func(h Handler) { h.OnFailure(ctx, err) })
			return nil, serr
		}
	}
}

// Metrics returns the counters of the last Execute call.
func (r *Retryable) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metrics
}

func (r *Retryable) each(ctx context.Context, call func(Handler)) {
	for _, h := range r.policy.handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logging.LogWith(ctx, r.logger).Warn("retry handler panicked", "handler", fmt.Sprintf("%T", h), "panic", p)
				}
			}()
			call(h)
		}()
	}
}
