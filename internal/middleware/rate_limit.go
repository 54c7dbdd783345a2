package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter counts turns per owner in fixed one-minute windows.
type RateLimiter struct {
	limit int
	now   func() time.Time

	mu     sync.Mutex
	window time.Time
	counts map[string]int
}

func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{limit: limit, now: time.Now, counts: make(map[string]int)}
}

// allow reports whether owner may start another turn, and otherwise how long to wait.
func (l *RateLimiter) allow(owner string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := now.Truncate(time.Minute)
	if !window.Equal(l.window) {
		l.window = window
		clear(l.counts)
	}
	l.counts[owner]++
	if l.counts[owner] > l.limit {
		return false, window.Add(time.Minute).Sub(now)
	}
	return true, 0
}

// Handler rejects owners over the limit with 429. It must run after Auth.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := GetOwner(r.Context())
		ok, wait := l.allow(owner)
		if !ok {
			secs := int((wait + time.Second - 1) / time.Second)
			slog.Debug("rate limited", "owner", owner, "limit", l.limit)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "Too many requests. Please wait a moment.",
				"retry_after": secs,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
