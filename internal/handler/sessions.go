package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/set-night/chatbroker/internal/domain"
	"github.com/set-night/chatbroker/internal/middleware"
)

type createSessionRequest struct {
	Mode string `json:"mode"`
}

type sessionResponse struct {
	SessionID string      `json:"session_id"`
	Title     string      `json:"title"`
	Mode      domain.Mode `json:"mode"`
}

type sessionSummaryResponse struct {
	SessionID string      `json:"session_id"`
	Title     string      `json:"title"`
	Mode      domain.Mode `json:"mode"`
	LastTime  time.Time   `json:"last_time"`
}

type historyItem struct {
	Role        domain.Role         `json:"role"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
	Mode        domain.Mode         `json:"mode"`
}

// createSession handles POST /create-session. An empty body creates a regular session.
func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeServiceError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode, domain.ModeRegular)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := h.sessionService.Create(r.Context(), mode, middleware.GetOwner(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		Title:     session.DisplayTitle(),
		Mode:      session.Mode,
	})
}

// listSessions handles GET /sessions?mode=.
func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	var filter *domain.Mode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		mode, err := domain.ParseMode(raw, "")
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		filter = &mode
	}

	sessions, err := h.sessionService.List(r.Context(), middleware.GetOwner(r.Context()), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]sessionSummaryResponse, len(sessions))
	for i, s := range sessions {
		out[i] = sessionSummaryResponse{
			SessionID: s.ID,
			Title:     s.DisplayTitle(),
			Mode:      s.Mode,
			LastTime:  s.LastTime,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// history handles GET /history?session_id=&mode=.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"), domain.ModeRegular)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	msgs, err := h.sessionService.History(r.Context(), sessionID, mode, middleware.GetOwner(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	items := make([]historyItem, len(msgs))
	for i, m := range msgs {
		attachments := m.Attachments
		if attachments == nil {
			attachments = []domain.Attachment{}
		}
		items[i] = historyItem{Role: m.Role, Content: m.Content, Attachments: attachments, Mode: m.Mode}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": items})
}

// deleteSession handles DELETE /sessions/{sessionID}.
func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessionService.Delete(r.Context(), sessionID, middleware.GetOwner(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": sessionID})
}

type renameRequest struct {
	Title string `json:"title"`
}

// renameSession handles PUT /sessions/{sessionID}.
func (h *Handler) renameSession(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	session, err := h.sessionService.Rename(r.Context(), chi.URLParam(r, "sessionID"), req.Title, middleware.GetOwner(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.ID, "title": session.Title})
}
