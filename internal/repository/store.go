package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/set-night/chatbroker/internal/domain"
)

const uniqueViolation = "23505"

// Store persists sessions and messages in Postgres.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO sessions (id, owner_id, mode, title, created_at, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		session.ID, session.OwnerID, string(session.Mode), session.Title,
		timeToPgTimestamptz(session.CreatedAt), timeToPgTimestamptz(session.UpdatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, owner_id, mode, title, created_at, updated_at FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// SetTitle overwrites the title, or only fills it in when onlyIfEmpty is set.
// It reports whether a row was changed.
func (s *Store) SetTitle(ctx context.Context, id, title string, onlyIfEmpty bool) (bool, error) {
	query := `UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`
	if onlyIfEmpty {
		query += ` AND (title IS NULL OR title = '')`
	}
	tag, err := s.db.Exec(ctx, query, id, title)
	if err != nil {
		return false, fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 && !onlyIfEmpty {
		return false, domain.ErrSessionNotFound
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE session_id = $1`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrSessionNotFound
		}
		return nil
	})
}

func (s *Store) ListSessions(ctx context.Context, ownerID string, mode *domain.Mode) ([]domain.SessionSummary, error) {
	var modeFilter *string
	if mode != nil {
		m := string(*mode)
		modeFilter = &m
	}
	rows, err := s.db.Query(ctx,
		`SELECT s.id, s.owner_id, s.mode, s.title, s.created_at, s.updated_at,
		        COALESCE(MAX(m.created_at), s.created_at) AS last_time
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.id
		 WHERE s.owner_id = $1 AND ($2::text IS NULL OR s.mode = $2)
		 GROUP BY s.id
		 ORDER BY last_time DESC, s.id`,
		ownerID, modeFilter,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var (
			sum      domain.SessionSummary
			owner    pgtype.Text
			title    pgtype.Text
			mode     string
			created  pgtype.Timestamptz
			updated  pgtype.Timestamptz
			lastTime pgtype.Timestamptz
		)
		if err := rows.Scan(&sum.ID, &owner, &mode, &title, &created, &updated, &lastTime); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.OwnerID = pgTextToStringPtr(owner)
		sum.Mode = domain.Mode(mode)
		sum.Title = pgTextToString(title)
		sum.CreatedAt = pgTimestamptzToTime(created)
		sum.UpdatedAt = pgTimestamptzToTime(updated)
		sum.LastTime = pgTimestamptzToTime(lastTime)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Store) AddMessage(ctx context.Context, m *domain.Message) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO messages (id, session_id, mode, role, content, attachments, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.SessionID, string(m.Mode), string(m.Role), m.Content, attachments,
		timeToPgTimestamptz(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, session_id, mode, role, content, attachments, created_at`

// RecentMessages returns up to limit messages, newest first.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, mode domain.Mode, limit int) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = $1 AND mode = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		sessionID, string(mode), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return collectMessages(rows)
}

// Messages returns the full history of a session in one mode, oldest first.
func (s *Store) Messages(ctx context.Context, sessionID string, mode domain.Mode) ([]domain.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = $1 AND mode = $2
		 ORDER BY created_at, id`,
		sessionID, string(mode),
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return collectMessages(rows)
}

// LatestMessage returns the newest message with the given role, or nil when there is none.
func (s *Store) LatestMessage(ctx context.Context, sessionID string, mode domain.Mode, role domain.Role) (*domain.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = $1 AND mode = $2 AND role = $3
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		sessionID, string(mode), string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session domain.Session
		owner   pgtype.Text
		title   pgtype.Text
		mode    string
		created pgtype.Timestamptz
		updated pgtype.Timestamptz
	)
	if err := row.Scan(&session.ID, &owner, &mode, &title, &created, &updated); err != nil {
		return nil, err
	}
	session.OwnerID = pgTextToStringPtr(owner)
	session.Mode = domain.Mode(mode)
	session.Title = pgTextToString(title)
	session.CreatedAt = pgTimestamptzToTime(created)
	session.UpdatedAt = pgTimestamptzToTime(updated)
	return &session, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m       domain.Message
			mode    string
			role    string
			created pgtype.Timestamptz
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &mode, &role, &m.Content, &m.Attachments, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Mode = domain.Mode(mode)
		m.Role = domain.Role(role)
		m.CreatedAt = pgTimestamptzToTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
