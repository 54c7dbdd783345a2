package service

import (
	"context"

	"github.com/set-night/chatbroker/internal/domain"
)

// SessionStore is the durable record of sessions and messages.
// repository.Store (Postgres) and repository.MemoryStore implement it.
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	SetTitle(ctx context.Context, id, title string, onlyIfEmpty bool) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, ownerID string, mode *domain.Mode) ([]domain.SessionSummary, error)
	AddMessage(ctx context.Context, m *domain.Message) error
	RecentMessages(ctx context.Context, sessionID string, mode domain.Mode, limit int) ([]domain.Message, error)
	Messages(ctx context.Context, sessionID string, mode domain.Mode) ([]domain.Message, error)
	LatestMessage(ctx context.Context, sessionID string, mode domain.Mode, role domain.Role) (*domain.Message, error)
	Ping(ctx context.Context) error
}
