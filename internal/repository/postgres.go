package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-inbox/internal/domain"
)

const uniqueViolation = "23505"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL DEFAULT '',
	google_id     TEXT UNIQUE,
	picture       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
	thread_id     TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	agent_type    TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	messages      JSONB NOT NULL DEFAULT '[]'::jsonb,
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	version       INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner
	ON conversations (user_id, agent_type, updated_at DESC);
`

// PostgresStore keeps conversations and users in PostgreSQL. Messages are
// stored as a JSONB document per thread.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore connects, verifies the connection and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("repository: init schema: %w", err)
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const conversationColumns = `thread_id, user_id, agent_type, subject, messages, created_at, updated_at, version`

func (s *PostgresStore) GetConversation(ctx context.Context, threadID string) (domain.Conversation, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE thread_id = $1`, threadID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation: %w", err)
	}
	return conv, true, nil
}

func (s *PostgresStore) SaveConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if conv.ThreadID == "" || conv.UserID == "" || conv.AgentType == "" {
		return domain.Conversation{}, errors.New("repository: SaveConversation: thread, user and agent are required")
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	msgs, err := encodeMessages(conv.Messages)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: SaveConversation: %w", err)
	}

	var tag pgconn.CommandTag
	if conv.Version == 0 {
		tag, err = s.pool.Exec(ctx, `
			INSERT INTO conversations (thread_id, user_id, agent_type, subject, messages, message_count, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, 1)
			ON CONFLICT (thread_id) DO NOTHING
		`, conv.ThreadID, conv.UserID, conv.AgentType, conv.Subject, msgs, len(conv.Messages), conv.CreatedAt, conv.UpdatedAt)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE conversations
			SET subject = $2, messages = $3::jsonb, message_count = $4, updated_at = $5, version = version + 1
			WHERE thread_id = $1 AND version = $6
		`, conv.ThreadID, conv.Subject, msgs, len(conv.Messages), conv.UpdatedAt, conv.Version)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: SaveConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conversation{}, ErrConflict
	}
	conv.Version++
	return conv, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID, agentType string) ([]domain.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1 AND agent_type = $2
		ORDER BY updated_at DESC
	`, userID, agentType)
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations scan: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: ListConversations: %w", err)
	}
	return convs, nil
}

func (s *PostgresStore) CountMessages(ctx context.Context, userID, agentType string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(message_count), 0) FROM conversations
		WHERE user_id = $1 AND agent_type = $2
	`, userID, agentType).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("repository: CountMessages: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, agentType, threadID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conversations WHERE thread_id = $1 AND user_id = $2 AND agent_type = $3
	`, threadID, userID, agentType)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteConversations(ctx context.Context, userID, agentType string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conversations WHERE user_id = $1 AND agent_type = $2
	`, userID, agentType)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteConversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var u domain.User
	var googleID *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, google_id, picture, created_at
		FROM users WHERE email = $1
	`, normalizeEmail(email)).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &googleID, &u.Picture, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	if googleID != nil {
		u.GoogleID = *googleID
	}
	return u, true, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.ID == "" || normalizeEmail(u.Email) == "" {
		return errors.New("repository: CreateUser: id and email are required")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, email, password_hash, google_id, picture, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, u.ID, u.Username, normalizeEmail(u.Email), u.PasswordHash, u.GoogleID, u.Picture, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u domain.User) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $2, password_hash = $3, google_id = NULLIF($4, ''), picture = $5
		WHERE email = $1
	`, normalizeEmail(u.Email), u.Username, u.PasswordHash, u.GoogleID, u.Picture)
	if err != nil {
		return fmt.Errorf("repository: UpdateUser: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var conv domain.Conversation
	var raw []byte
	if err := row.Scan(&conv.ThreadID, &conv.UserID, &conv.AgentType, &conv.Subject, &raw, &conv.CreatedAt, &conv.UpdatedAt, &conv.Version); err != nil {
		return domain.Conversation{}, err
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.Messages = msgs
	return conv, nil
}

func encodeMessages(msgs []domain.Message) (string, error) {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	buf, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(buf), nil
}

func decodeMessages(raw []byte) ([]domain.Message, error) {
	var msgs []domain.Message
	if len(raw) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}
