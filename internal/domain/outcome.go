package domain

import (
	"fmt"
	"net/http"
	"time"
)

type OutcomeKind string

const (
	OutcomeRateLimited   OutcomeKind = "rate_limited"
	OutcomeUpstreamError OutcomeKind = "upstream_error"
)

// Outcome is the canonical result of an upstream call that produced no reply.
// It travels as an error value so callers can branch on it with errors.As.
type Outcome struct {
	Kind       OutcomeKind
	Provider   string
	Status     int
	RetryAfter time.Duration
	Attempts   int
	Cause      error
}

func (o *Outcome) Error() string {
	if o.Kind == OutcomeRateLimited {
		return fmt.Sprintf("%s: rate limited, retry after %s", o.Provider, o.RetryAfter)
	}
	return fmt.Sprintf("%s: upstream error (%d)", o.Provider, o.Status)
}

func (o *Outcome) Unwrap() error { return o.Cause }

// HTTPStatus is the status code the outcome should be reported with.
func (o *Outcome) HTTPStatus() int {
	if o.Kind == OutcomeRateLimited {
		return http.StatusTooManyRequests
	}
	if o.Status == 0 {
		return http.StatusBadGateway
	}
	return o.Status
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (o *Outcome) RetryAfterSeconds() int {
	secs := int(o.RetryAfter / time.Second)
	if o.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}
