package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/set-night/chatbroker/internal/domain"
)

// MemoryStore keeps sessions and messages in process memory.
// It is used when no database is configured and by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	messages map[string][]domain.Message // by session id, in insertion order
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]domain.Session),
		messages: make(map[string][]domain.Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domain.ErrSessionExists
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *MemoryStore) SetTitle(_ context.Context, id, title string, onlyIfEmpty bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		if onlyIfEmpty {
			return false, nil
		}
		return false, domain.ErrSessionNotFound
	}
	if onlyIfEmpty && session.Title != "" {
		return false, nil
	}
	session.Title = title
	session.UpdatedAt = s.now()
	s.sessions[id] = session
	return true, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context, ownerID string, mode *domain.Mode) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SessionSummary
	for _, session := range s.sessions {
		if !session.OwnedBy(ownerID) {
			continue
		}
		if mode != nil && session.Mode != *mode {
			continue
		}
		last := session.CreatedAt
		for _, m := range s.messages[session.ID] {
			if m.CreatedAt.After(last) {
				last = m.CreatedAt
			}
		}
		out = append(out, domain.SessionSummary{Session: session, LastTime: last})
	}
	slices.SortFunc(out, func(a, b domain.SessionSummary) int {
		if c := b.LastTime.Compare(a.LastTime); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := *m
	msg.Attachments = slices.Clone(m.Attachments)
	s.messages[m.SessionID] = append(s.messages[m.SessionID], msg)
	return nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, sessionID string, mode domain.Mode, limit int) ([]domain.Message, error) {
	msgs := s.filter(sessionID, mode, "")
	slices.Reverse(msgs)
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string, mode domain.Mode) ([]domain.Message, error) {
	return s.filter(sessionID, mode, ""), nil
}

func (s *MemoryStore) LatestMessage(_ context.Context, sessionID string, mode domain.Mode, role domain.Role) (*domain.Message, error) {
	msgs := s.filter(sessionID, mode, role)
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[len(msgs)-1], nil
}

// filter returns matching messages oldest first.
func (s *MemoryStore) filter(sessionID string, mode domain.Mode, role domain.Role) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, m := range s.messages[sessionID] {
		if m.Mode != mode || (role != "" && m.Role != role) {
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}
