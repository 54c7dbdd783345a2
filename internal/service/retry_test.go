package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/set-night/chatbroker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleep struct {
	delays []time.Duration
	err    error
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return r.err
}

func TestExecute_SuccessFirstTry(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	got, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Empty(t, rec.delays)
}

func TestExecute_RateLimitedTwiceReturnsOutcome(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", &StatusError{Provider: "fake", Status: http.StatusTooManyRequests}
		}
		return "late success", nil
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.OutcomeRateLimited, outcome.Kind)
	assert.Equal(t, 2*time.Second, outcome.RetryAfter)
	assert.Equal(t, 2, outcome.Attempts)
	assert.Equal(t, http.StatusTooManyRequests, outcome.HTTPStatus())
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, rec.delays)
}

func TestExecute_NonTransientDoesNotRetry(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		return "", &StatusError{Provider: "fake", Status: http.StatusBadRequest}
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
	assert.Equal(t, domain.OutcomeUpstreamError, outcome.Kind)
	assert.Equal(t, http.StatusBadRequest, outcome.HTTPStatus())
}

func TestExecute_HonoursRetryAfter(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	got, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &StatusError{Provider: "fake", Status: http.StatusServiceUnavailable, RetryAfter: 7 * time.Second}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []time.Duration{7 * time.Second}, rec.delays)
}

func TestExecute_RateLimitKeepsUpstreamHint(t *testing.T) {
	e := NewExecutor(WithSleep((&recordedSleep{}).sleep))

	_, err := Execute(context.Background(), e, "fake", func(context.Context) (int, error) {
		return 0, &StatusError{Provider: "fake", Status: http.StatusTooManyRequests, RetryAfter: 2500 * time.Millisecond}
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 2500*time.Millisecond, outcome.RetryAfter)
	assert.Equal(t, 3, outcome.RetryAfterSeconds())
}

func TestExecute_ExponentialDelays(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep), WithMaxAttempts(4))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		return "", &StatusError{Provider: "fake", Status: http.StatusBadGateway}
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 3 * time.Second, 6 * time.Second}, rec.delays)
	assert.Equal(t, http.StatusBadGateway, outcome.Status)
}

func TestExecute_TransportErrorMapsTo502(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		return "", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 2, calls)
	assert.Equal(t, domain.OutcomeUpstreamError, outcome.Kind)
	assert.Equal(t, http.StatusBadGateway, outcome.HTTPStatus())
}

func TestExecute_UnclassifiedErrorIsNotRetried(t *testing.T) {
	rec := &recordedSleep{}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		return "", errEmptyCompletion
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errEmptyCompletion)
	assert.Equal(t, http.StatusBadGateway, outcome.HTTPStatus())
}

func TestExecute_ConfigErrorPassesThrough(t *testing.T) {
	e := NewExecutor(WithSleep((&recordedSleep{}).sleep))

	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		return "", domain.ErrConfig
	})

	require.ErrorIs(t, err, domain.ErrConfig)
	var outcome *domain.Outcome
	assert.False(t, errors.As(err, &outcome))
}

func TestExecute_StopsWhenSleepIsInterrupted(t *testing.T) {
	rec := &recordedSleep{err: context.Canceled}
	e := NewExecutor(WithSleep(rec.sleep))

	calls := 0
	_, err := Execute(context.Background(), e, "fake", func(context.Context) (string, error) {
		calls++
		return "", &StatusError{Provider: "fake", Status: http.StatusServiceUnavailable}
	})

	var outcome *domain.Outcome
	require.ErrorAs(t, err, &outcome)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, http.StatusServiceUnavailable, outcome.HTTPStatus())
}

func TestTimerSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, timerSleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, timerSleep(context.Background(), time.Millisecond))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"-1", 0},
		{"soon", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-10 * time.Second).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.in, now), "input %q", tt.in)
	}
}
