package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/set-night/chatbroker/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// writeServiceError maps a service error to its status code and a safe message.
// Upstream details and internal errors are logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var outcome *domain.Outcome
	switch {
	case errors.As(err, &outcome):
		if outcome.Kind == domain.OutcomeRateLimited {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "Rate limited",
				"retry_after": outcome.RetryAfterSeconds(),
			})
			return
		}
		status := outcome.HTTPStatus()
		writeError(w, status, fmt.Sprintf("Upstream error (%d)", status))
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrModeMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, domain.ErrConfig):
		slog.Error("provider not configured", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, domain.ErrObjectStore):
		slog.Error("object store upload", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusBadGateway, "Image upload failed")
	default:
		slog.Error("request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

// decodeJSON reads a JSON request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", domain.ErrValidation, err)
	}
	return nil
}
