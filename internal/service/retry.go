package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

const instrumentationName = "github.com/set-night/chatbroker/internal/service"

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func timerSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs upstream calls with bounded retry and translates failures into *domain.Outcome.
type Executor struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc

	tracer   trace.Tracer
	attempts metric.Int64Counter
	failures metric.Int64Counter
}

type ExecutorOption func(*Executor)

func WithMaxAttempts(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.baseDelay = d }
}

func WithSleep(fn SleepFunc) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		maxAttempts: config.MaxAttempts,
		baseDelay:   config.RetryBaseDelay,
		sleep:       timerSleep,
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if e.attempts, err = meter.Int64Counter("upstream.attempts",
		metric.WithDescription("Upstream provider calls, including retries")); err != nil {
		slog.Warn("create upstream attempts counter", "error", err)
		e.attempts, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("upstream.attempts")
	}
	if e.failures, err = meter.Int64Counter("upstream.failures",
		metric.WithDescription("Upstream turns that ended in a rate-limited or upstream-error outcome")); err != nil {
		slog.Warn("create upstream failures counter", "error", err)
		e.failures, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("upstream.failures")
	}
	return e
}

func (e *Executor) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = config.RetryMaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// failure is the classification of one failed attempt.
type failure struct {
	status     int
	retryAfter time.Duration
	transient  bool
}

func classify(err error) failure {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return failure{status: se.Status, retryAfter: se.RetryAfter, transient: true}
		}
		return failure{status: se.Status, retryAfter: se.RetryAfter}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return failure{status: http.StatusBadGateway, transient: true}
	}
	return failure{status: http.StatusBadGateway}
}

// Execute invokes call, retrying transient failures while attempts remain.
// Configuration errors pass through untouched; every other failure becomes a *domain.Outcome.
func Execute[T any](ctx context.Context, e *Executor, provider string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	b := e.newBackOff()

	var (
		lastErr error
		last    failure
		attempt int
	)
	for attempt = 1; attempt <= e.maxAttempts; attempt++ {
		var result T
		err := e.attempt(ctx, provider, attempt, func(ctx context.Context) error {
			var err error
			result, err = call(ctx)
			return err
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, domain.ErrConfig) {
			return zero, err
		}

		lastErr, last = err, classify(err)
		if !last.transient || attempt == e.maxAttempts {
			break
		}

		delay := last.retryAfter
		if delay <= 0 {
			delay = b.NextBackOff()
		}
		slog.WarnContext(ctx, "upstream call failed, retrying",
			"provider", provider,
			"attempt", attempt,
			"status", last.status,
			"delay", delay,
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			break
		}
	}
	outcome := &domain.Outcome{
		Kind:     domain.OutcomeUpstreamError,
		Provider: provider,
		Status:   last.status,
		Attempts: attempt,
		Cause:    lastErr,
	}
	if last.status == http.StatusTooManyRequests {
		outcome.Kind = domain.OutcomeRateLimited
		outcome.RetryAfter = last.retryAfter
		if outcome.RetryAfter <= 0 {
			outcome.RetryAfter = config.DefaultRetryAfter
		}
	}
	e.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", string(outcome.Kind)),
	))
	slog.ErrorContext(ctx, "upstream call gave up",
		"provider", provider,
		"attempts", outcome.Attempts,
		"outcome", outcome.Kind,
		"status", outcome.Status,
		"error", lastErr,
	)
	return zero, outcome
}

func (e *Executor) attempt(ctx context.Context, provider string, n int, call func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "upstream."+provider, trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.Int("attempt", n),
	))
	defer span.End()

	err := call(ctx)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	))
	return err
}
