package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
	"github.com/set-night/chatbroker/internal/middleware"
	"github.com/set-night/chatbroker/internal/service"
)

const maxMultipartBody = (config.MaxImages + 1) * config.MaxUploadSize

type chatRequest struct {
	Mode      string `json:"mode"`
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// chat handles POST /chat.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode, domain.ModeRegular)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	reply, err := h.dispatcher.Chat(r.Context(), service.ChatRequest{
		Owner:     middleware.GetOwner(r.Context()),
		SessionID: req.SessionID,
		Mode:      mode,
		Message:   req.Message,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response":   reply.Response,
		"session_id": reply.SessionID,
		"title":      reply.Title,
	})
}

// ocr handles POST /ocr: multipart "file" plus optional "session_id".
func (h *Handler) ocr(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer removeMultipart(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, config.MaxUploadSize+1))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(data) > config.MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}

	reply, err := h.dispatcher.ExtractDocument(r.Context(), service.DocumentRequest{
		Owner:     middleware.GetOwner(r.Context()),
		SessionID: r.FormValue("session_id"),
		Name:      header.Filename,
		MIME:      mime,
		Data:      data,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": reply.Text, "session_id": reply.SessionID})
}

type questionRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

// ocrQA handles POST /ocr-qa.
func (h *Handler) ocrQA(w http.ResponseWriter, r *http.Request) {
	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	reply, err := h.dispatcher.AskDocument(r.Context(), service.QuestionRequest{
		Owner:     middleware.GetOwner(r.Context()),
		SessionID: req.SessionID,
		Question:  req.Question,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"answer":     reply.Answer,
		"session_id": reply.SessionID,
		"source":     reply.Source,
	})
}

// geminiWithImages handles POST /gemini-with-images: multipart message, session_id, mode and images[].
// Images beyond the per-turn limit are ignored.
func (h *Handler) geminiWithImages(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}
	defer removeMultipart(r)

	mode, err := domain.ParseMode(r.FormValue("mode"), domain.ModeOCR)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No images provided")
		return
	}
	if len(files) > config.MaxImages {
		files = files[:config.MaxImages]
	}
	uploads := make([]service.Upload, len(files))
	for i, fh := range files {
		uploads[i] = service.Upload{
			Name: fh.Filename,
			MIME: fh.Header.Get("Content-Type"),
			Open: openPart(fh),
		}
	}

	reply, err := h.dispatcher.AnalyzeImages(r.Context(), service.ImageRequest{
		Owner:     middleware.GetOwner(r.Context()),
		SessionID: r.FormValue("session_id"),
		Mode:      mode,
		Message:   r.FormValue("message"),
		Images:    uploads,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":    reply.Response,
		"session_id":  reply.SessionID,
		"attachments": reply.Attachments,
	})
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

// parseMultipart writes the error response itself and reports whether the handler may continue.
func parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(config.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Expected multipart form data")
		return false
	}
	return true
}

// removeMultipart deletes temporary files spilled to disk while parsing the form.
func removeMultipart(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		slog.Warn("remove multipart temp files", "error", err)
	}
}

// healthz handles GET /healthz.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("store ping", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
