package repository

import (
	"context"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	chatbroker "github.com/set-night/chatbroker"
	"github.com/set-night/chatbroker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sessionStore is the method set shared by Store and MemoryStore.
type sessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	SetTitle(ctx context.Context, id, title string, onlyIfEmpty bool) (bool, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, ownerID string, mode *domain.Mode) ([]domain.SessionSummary, error)
	AddMessage(ctx context.Context, m *domain.Message) error
	RecentMessages(ctx context.Context, sessionID string, mode domain.Mode, limit int) ([]domain.Message, error)
	Messages(ctx context.Context, sessionID string, mode domain.Mode) ([]domain.Message, error)
	LatestMessage(ctx context.Context, sessionID string, mode domain.Mode, role domain.Role) (*domain.Message, error)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres store test")
	}
	ctx := context.Background()

	migrations, err := fs.Sub(chatbroker.MigrationsFS, "migrations")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(dsn, migrations))

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `TRUNCATE messages, sessions`)
	require.NoError(t, err)

	runStoreSuite(t, NewStore(pool))
}

func newSession(id, owner string, mode domain.Mode, at time.Time) *domain.Session {
	return &domain.Session{ID: id, OwnerID: &owner, Mode: mode, CreatedAt: at, UpdatedAt: at}
}

func newMessage(sessionID string, mode domain.Mode, role domain.Role, content string, at time.Time) *domain.Message {
	return &domain.Message{
		ID:        ulid.Make().String(),
		SessionID: sessionID,
		Mode:      mode,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}
}

func runStoreSuite(t *testing.T, store sessionStore) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateSession(ctx, newSession("s1", "alice", domain.ModeRegular, base)))
	require.NoError(t, store.CreateSession(ctx, newSession("ocr-s2", "alice", domain.ModeOCR, base.Add(time.Minute))))
	require.NoError(t, store.CreateSession(ctx, newSession("s3", "bob", domain.ModeRegular, base)))

	t.Run("DuplicateID", func(t *testing.T) {
		err := store.CreateSession(ctx, newSession("s1", "bob", domain.ModeRegular, base))
		assert.ErrorIs(t, err, domain.ErrSessionExists)
	})

	t.Run("GetSession", func(t *testing.T) {
		s, err := store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.ModeRegular, s.Mode)
		assert.True(t, s.OwnedBy("alice"))
		assert.Empty(t, s.Title)

		_, err = store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("SetTitle", func(t *testing.T) {
		changed, err := store.SetTitle(ctx, "s1", "First", true)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = store.SetTitle(ctx, "s1", "Second", true)
		require.NoError(t, err)
		assert.False(t, changed)

		s, err := store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "First", s.Title)

		_, err = store.SetTitle(ctx, "missing", "x", false)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("MessagesOrdering", func(t *testing.T) {
		for i, content := range []string{"one", "two", "three", "four"} {
			role := domain.RoleUser
			if i%2 == 1 {
				role = domain.RoleAssistant
			}
			require.NoError(t, store.AddMessage(ctx, newMessage("s1", domain.ModeRegular, role, content, base.Add(time.Duration(i+1)*time.Second))))
		}
		// Same session, different mode: must not leak into regular history.
		require.NoError(t, store.AddMessage(ctx, newMessage("s1", domain.ModeOCR, domain.RoleSystem, "doc", base.Add(10*time.Second))))

		recent, err := store.RecentMessages(ctx, "s1", domain.ModeRegular, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "four", recent[0].Content)
		assert.Equal(t, "three", recent[1].Content)

		all, err := store.Messages(ctx, "s1", domain.ModeRegular)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "one", all[0].Content)
		assert.Equal(t, "four", all[3].Content)
	})

	t.Run("Attachments", func(t *testing.T) {
		m := newMessage("ocr-s2", domain.ModeOCR, domain.RoleUser, "look", base.Add(2*time.Minute))
		m.Attachments = []domain.Attachment{{URL: "https://cdn/x.png", Name: "x.png", MIME: "image/png"}}
		require.NoError(t, store.AddMessage(ctx, m))

		msgs, err := store.Messages(ctx, "ocr-s2", domain.ModeOCR)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, m.Attachments, msgs[0].Attachments)
	})

	t.Run("LatestMessage", func(t *testing.T) {
		require.NoError(t, store.AddMessage(ctx, newMessage("ocr-s2", domain.ModeOCR, domain.RoleSystem, "old text", base.Add(3*time.Minute))))
		require.NoError(t, store.AddMessage(ctx, newMessage("ocr-s2", domain.ModeOCR, domain.RoleSystem, "new text", base.Add(4*time.Minute))))

		latest, err := store.LatestMessage(ctx, "ocr-s2", domain.ModeOCR, domain.RoleSystem)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "new text", latest.Content)

		none, err := store.LatestMessage(ctx, "s3", domain.ModeRegular, domain.RoleSystem)
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("ListSessions", func(t *testing.T) {
		list, err := store.ListSessions(ctx, "alice", nil)
		require.NoError(t, err)
		require.Len(t, list, 2)
		// ocr-s2 has the most recent message.
		assert.Equal(t, "ocr-s2", list[0].ID)
		assert.True(t, list[0].LastTime.Equal(base.Add(4*time.Minute)))

		mode := domain.ModeRegular
		list, err = store.ListSessions(ctx, "alice", &mode)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "s1", list[0].ID)

		list, err = store.ListSessions(ctx, "bob", nil)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.True(t, list[0].LastTime.Equal(base), "falls back to creation time")
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		require.NoError(t, store.DeleteSession(ctx, "s1"))

		_, err := store.GetSession(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		msgs, err := store.Messages(ctx, "s1", domain.ModeRegular)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		assert.ErrorIs(t, store.DeleteSession(ctx, "s1"), domain.ErrSessionNotFound)
	})
}
