package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/set-night/chatbroker/internal/config"
	"github.com/set-night/chatbroker/internal/domain"
)

const (
	maxTitleLen     = 200
	createIDRetries = 3
)

// SessionService enforces ownership on top of a SessionStore.
type SessionService struct {
	store    SessionStore
	now      func() time.Time
	newToken func() string
}

func NewSessionService(store SessionStore) *SessionService {
	return &SessionService{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: randomToken,
	}
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:config.SessionTokenLen]
}

// ResolveOrCreate returns the caller's session, or creates one when sessionID is empty.
// A session owned by someone else yields domain.ErrForbidden.
func (s *SessionService) ResolveOrCreate(ctx context.Context, sessionID string, mode domain.Mode, owner string) (*domain.Session, error) {
	if sessionID == "" {
		return s.Create(ctx, mode, owner)
	}
	session, err := s.Get(ctx, sessionID, owner)
	if err != nil {
		return nil, err
	}
	if session.Mode != mode {
		return nil, fmt.Errorf("%w: session is %s, request is %s", domain.ErrModeMismatch, session.Mode, mode)
	}
	return session, nil
}

func (s *SessionService) Create(ctx context.Context, mode domain.Mode, owner string) (*domain.Session, error) {
	if owner == "" {
		return nil, domain.ErrUnauthenticated
	}
	now := s.now()
	for i := 0; i < createIDRetries; i++ {
		session := &domain.Session{
			ID:        mode.SessionPrefix() + s.newToken(),
			OwnerID:   &owner,
			Mode:      mode,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := s.store.CreateSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, domain.ErrSessionExists) {
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	return nil, fmt.Errorf("create session: %w", domain.ErrSessionExists)
}

// Get fetches a session the owner is allowed to see.
func (s *SessionService) Get(ctx context.Context, sessionID, owner string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.OwnedBy(owner) {
		return nil, domain.ErrForbidden
	}
	return session, nil
}

// SetTitleIfAbsent titles an untitled session from candidate. Titled sessions are left alone.
func (s *SessionService) SetTitleIfAbsent(ctx context.Context, sessionID, candidate string) (bool, error) {
	changed, err := s.store.SetTitle(ctx, sessionID, TruncateTitle(candidate, config.TitleWords), true)
	if err != nil {
		return false, fmt.Errorf("set title: %w", err)
	}
	return changed, nil
}

func (s *SessionService) Rename(ctx context.Context, sessionID, title, owner string) (*domain.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title longer than %d characters", domain.ErrValidation, maxTitleLen)
	}
	session, err := s.Get(ctx, sessionID, owner)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetTitle(ctx, sessionID, title, false); err != nil {
		return nil, fmt.Errorf("rename session: %w", err)
	}
	session.Title = title
	return session, nil
}

// Delete removes the session together with all of its messages.
func (s *SessionService) Delete(ctx context.Context, sessionID, owner string) error {
	if _, err := s.Get(ctx, sessionID, owner); err != nil {
		return err
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// List returns the owner's sessions, most recently active first.
func (s *SessionService) List(ctx context.Context, owner string, mode *domain.Mode) ([]domain.SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx, owner, mode)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// History returns the full message history of a session in one mode, oldest first.
func (s *SessionService) History(ctx context.Context, sessionID string, mode domain.Mode, owner string) ([]domain.Message, error) {
	if _, err := s.Get(ctx, sessionID, owner); err != nil {
		return nil, err
	}
	msgs, err := s.store.Messages(ctx, sessionID, mode)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return msgs, nil
}

// BuildContext returns at most limit of the newest messages in chronological order.
// Older messages are dropped from the context but stay in the history.
func (s *SessionService) BuildContext(ctx context.Context, sessionID string, mode domain.Mode, limit int) ([]ChatMessage, error) {
	recent, err := s.store.RecentMessages(ctx, sessionID, mode, limit)
	if err != nil {
		return nil, fmt.Errorf("build context: %w", err)
	}
	if len(recent) > limit {
		recent = recent[:limit]
	}
	slices.Reverse(recent)

	out := make([]ChatMessage, len(recent))
	for i, m := range recent {
		out[i] = ChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return out, nil
}

func (s *SessionService) AppendMessage(ctx context.Context, sessionID string, mode domain.Mode, role domain.Role, content string, attachments []domain.Attachment) (*domain.Message, error) {
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	msg := &domain.Message{
		ID:          ulid.Make().String(),
		SessionID:   sessionID,
		Mode:        mode,
		Role:        role,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("add %s message: %w", role, err)
	}
	return msg, nil
}

// LatestDocument returns the most recent extracted document text of an OCR session, or nil.
func (s *SessionService) LatestDocument(ctx context.Context, sessionID string) (*Document, error) {
	msg, err := s.store.LatestMessage(ctx, sessionID, domain.ModeOCR, domain.RoleSystem)
	if err != nil {
		return nil, fmt.Errorf("latest document: %w", err)
	}
	if msg == nil {
		return nil, nil
	}
	return &Document{Text: msg.Content}, nil
}

// TruncateTitle keeps the first n words of text, marking a cut with an ellipsis.
func TruncateTitle(text string, n int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return domain.DefaultTitle
	}
	title := strings.Join(words, " ")
	if len(words) > n {
		title = strings.Join(words[:n], " ") + "…"
	}
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen-1]) + "…"
	}
	return title
}
