package retry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events []string
}

func (h *recordingHandler) BeforeAttempt(_ context.Context, n int) {
	h.events = append(h.events, "before")
}
func (h *recordingHandler) OnRetry(_ context.Context, _ error, n int) {
	h.events = append(h.events, "retry")
}
func (h *recordingHandler) OnSuccess(_ context.Context, n int) {
	h.events = append(h.events, "success")
}
func (h *recordingHandler) OnFailure(_ context.Context, _ error) {
	h.events = append(h.events, "failure")
}

type panickyHandler struct{ NopHandler }

func (panickyHandler) OnRetry(context.Context, error, int) { panic("handler bug") }

func noSleep(delays *[]time.Duration) SleepFunc {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func mustPolicy(t *testing.T, cfg PolicyConfig) *Policy {
	t.Helper()
	p, err := NewPolicy(cfg)
	require.NoError(t, err)
	return p
}

func TestRetryable_EventualSuccess(t *testing.T) {
	h := &recordingHandler{}
	var delays []time.Duration
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute, Handlers: []Handler{h}})
	r := NewRetryable(p, WithSleep(noSleep(&delays)))

	calls := 0
	out, err := r.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("flaky")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	m := r.Metrics()
	assert.Equal(t, 3, m.Attempts)
	assert.Equal(t, 2, m.Retries)
	assert.Equal(t, 1, m.Successes)
	assert.Equal(t, 0, m.Failures)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
	assert.Equal(t, []string{"before", "retry", "before", "retry", "before", "success"}, h.events)
}

func TestRetryable_ExhaustionReturnsOriginalError(t *testing.T) {
	original := errors.New("always fails")
	h := &recordingHandler{}
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute, Handlers: []Handler{h}})
	r := NewRetryable(p, WithSleep(noSleep(nil)))

	_, err := r.Execute(context.Background(), func(context.Context) (any, error) { return nil, original })
	assert.Same(t, original, err)

	m := r.Metrics()
	assert.Equal(t, 3, m.Attempts)
	assert.Equal(t, 0, m.Successes)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, "failure", h.events[len(h.events)-1])
}

func TestRetryable_MatcherRejects(t *testing.T) {
	p := mustPolicy(t, PolicyConfig{
		MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Minute,
		Matcher: ErrorMessageMatcher{Substring: "transient"},
	})
	r := NewRetryable(p, WithSleep(noSleep(nil)))

	calls := 0
	_, err := r.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		return nil, errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryable_HandlerPanicDoesNotStopRetry(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute, Handlers: []Handler{panickyHandler{}}})
	r := NewRetryable(p, WithSleep(noSleep(nil)), WithLogger(logger))

	calls := 0
	out, err := r.Execute(context.Background(), func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Contains(t, buf.String(), "retry handler panicked")
}

func TestRetryable_SleepCancelled(t *testing.T) {
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour})
	r := NewRetryable(p)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := r.Execute(ctx, func(context.Context) (any, error) {
		cancel()
		return nil, errors.New("x")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryable_MetricsResetPerExecute(t *testing.T) {
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute})
	r := NewRetryable(p, WithSleep(noSleep(nil)))

	_, _ = r.Execute(context.Background(), func(context.Context) (any, error) { return nil, errors.New("x") })
	_, _ = r.Execute(context.Background(), func(context.Context) (any, error) { return 1, nil })

	m := r.Metrics()
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, 0, m.Failures)
}

func TestNewPolicy_Validation(t *testing.T) {
	_, err := NewPolicy(PolicyConfig{MaxAttempts: 0, BaseDelay: time.Second, MaxDelay: time.Second})
	assert.Error(t, err)
	_, err = NewPolicy(PolicyConfig{MaxAttempts: 1, BaseDelay: 0, MaxDelay: time.Second})
	assert.Error(t, err)
	_, err = NewPolicy(PolicyConfig{MaxAttempts: 1, BaseDelay: 2 * time.Second, MaxDelay: time.Second})
	assert.Error(t, err)
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := mustPolicy(t, PolicyConfig{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute})
	assert.True(t, p.ShouldRetry(errors.New("x"), 1))
	assert.False(t, p.ShouldRetry(errors.New("x"), 2))
}
