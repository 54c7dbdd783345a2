package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SourceDocument = "document"
	SourceGeneral  = "general"

	// NotFoundInDocument is the literal reply for questions the document cannot answer.
	NotFoundInDocument = "Not found in the document."
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatProvider is a chat-completion upstream.
type ChatProvider interface {
	Name() string
	SendChat(ctx context.Context, messages []ChatMessage) (string, error)
}

// TextExtractor returns the text of a document in reading order.
type TextExtractor interface {
	Name() string
	ExtractText(ctx context.Context, data []byte, mime string) (string, error)
}

// Document is previously extracted document text.
type Document struct {
	Text string
}

type Answer struct {
	Text   string
	Source string
}

// DocumentAnswerer answers strictly from doc when it is non-nil, generally otherwise.
type DocumentAnswerer interface {
	Name() string
	AnswerFromDocument(ctx context.Context, doc *Document, question string) (*Answer, error)
}

// FileHandle references a file already uploaded to a provider.
type FileHandle struct {
	Name string
	URI  string
	MIME string
}

// VisionProvider analyses free text together with uploaded images.
type VisionProvider interface {
	Name() string
	UploadFile(ctx context.Context, data []byte, name, mime string) (FileHandle, error)
	AnalyzeImages(ctx context.Context, prompt string, files []FileHandle) (string, error)
}

// readiness is implemented by providers whose credentials are checked lazily.
type readiness interface {
	Ready() error
}

func checkReady(p any) error {
	if r, ok := p.(readiness); ok {
		return r.Ready()
	}
	return nil
}

// StatusError is returned by adapters when the upstream answers with a non-2xx status.
type StatusError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.Status, e.Message)
}

const maxErrorBody = 4 << 10

// newStatusError builds a StatusError from a failed response. The body is read but not kept verbatim.
func newStatusError(provider string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Provider:   provider,
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Message:    errorMessage(body),
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts error.message from common JSON error envelopes.
func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return envelope.Message
}
