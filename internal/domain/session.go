package domain

import (
	"fmt"
	"time"
)

// DefaultTitle is shown for sessions that have not been titled yet.
const DefaultTitle = "New chat"

type Mode string

const (
	ModeRegular    Mode = "regular"
	ModeUncensored Mode = "uncensored"
	ModeOCR        Mode = "ocr"
)

// ParseMode validates a wire mode value. An empty value yields fallback.
func ParseMode(s string, fallback Mode) (Mode, error) {
	if s == "" {
		return fallback, nil
	}
	switch m := Mode(s); m {
	case ModeRegular, ModeUncensored, ModeOCR:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// SessionPrefix is prepended to freshly generated session ids.
func (m Mode) SessionPrefix() string {
	switch m {
	case ModeUncensored:
		return "uncensored-"
	case ModeOCR:
		return "ocr-"
	}
	return ""
}

// IsChat reports whether the mode is served by a chat-completion provider.
func (m Mode) IsChat() bool {
	return m == ModeRegular || m == ModeUncensored
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Session struct {
	ID        string
	OwnerID   *string // nil for sessions created before ownership existed
	Mode      Mode
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OwnedBy reports whether owner may see and mutate the session.
func (s *Session) OwnedBy(owner string) bool {
	return s.OwnerID != nil && *s.OwnerID == owner
}

func (s *Session) DisplayTitle() string {
	if s.Title == "" {
		return DefaultTitle
	}
	return s.Title
}

// SessionSummary is a session annotated with the time of its latest message.
type SessionSummary struct {
	Session
	LastTime time.Time
}

type Message struct {
	ID          string
	SessionID   string
	Mode        Mode
	Role        Role
	Content     string
	Attachments []Attachment
	CreatedAt   time.Time
}

// Attachment describes an uploaded file embedded in the user message that introduced it.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}
