package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	user_type TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name ON users (lower(name));

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	initiator_id TEXT NOT NULL REFERENCES users(id),
	participant_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_conversations_initiator ON conversations(initiator_id);
CREATE INDEX IF NOT EXISTS idx_conversations_participant ON conversations(participant_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	body TEXT NOT NULL,
	status TEXT NOT NULL,
	local_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(recipient_id) WHERE status <> 'seen';
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_local ON messages(conversation_id, sender_id, local_id) WHERE local_id <> '';
`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool and
// makes sure the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name string, userType models.UserType, passwordHash string) (*models.User, error) {
	defer observe("postgres", time.Now())
	u := &models.User{}
	var typ string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, user_type, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, user_type, password_hash, created_at
	`, ids.NewUserID(), name, string(userType), passwordHash).Scan(
		&u.ID,
		&u.Name,
		&typ,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	u.Type = models.UserType(typ)
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, user_type, password_hash, created_at FROM users WHERE id = $1`, id)
}

// GetUserByName retrieves a user by name, case-insensitively.
func (s *PostgresStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, user_type, password_hash, created_at FROM users WHERE lower(name) = lower($1)`, name)
}

func (s *PostgresStore) getUser(ctx context.Context, query, arg string) (*models.User, error) {
	u := &models.User{}
	var typ string
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Name,
		&typ,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Type = models.UserType(typ)
	return u, nil
}

// CountUsers returns the number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it if needed.
func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, initiatorID, participantID string) (*models.Conversation, error) {
	defer observe("postgres", time.Now())
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serialise creation for this pair.
	a, b := initiatorID, participantID
	if b < a {
		a, b = b, a
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a+":"+b); err != nil {
		return nil, err
	}

	c := &models.Conversation{}
	err = tx.QueryRow(ctx, `
		SELECT id, initiator_id, participant_id, created_at, updated_at
		FROM conversations
		WHERE (initiator_id = $1 AND participant_id = $2) OR (initiator_id = $2 AND participant_id = $1)
		LIMIT 1
	`, initiatorID, participantID).Scan(
		&c.ID,
		&c.InitiatorID,
		&c.ParticipantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, initiator_id, participant_id)
		VALUES ($1, $2, $3)
		RETURNING id, initiator_id, participant_id, created_at, updated_at
	`, ids.NewConversationID(), initiatorID, participantID).Scan(
		&c.ID,
		&c.InitiatorID,
		&c.ParticipantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, tx.Commit(ctx)
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, initiator_id, participant_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&c.ID,
		&c.InitiatorID,
		&c.ParticipantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListConversations returns userID's conversations with their last message.
func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	defer observe("postgres", time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.initiator_id, c.participant_id, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages u
			 WHERE u.conversation_id = c.id AND u.recipient_id = $1 AND u.status <> 'seen'),
			m.id, m.sender_id, m.recipient_id, m.body, m.status, m.local_id, m.created_at
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, sender_id, recipient_id, body, status, local_id, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) m ON true
		WHERE c.initiator_id = $1 OR c.participant_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		var unread int64
		var (
			msgID, senderID, recipientID, body, status, localID *string
			createdAt                                           *time.Time
		)
		if err := rows.Scan(
			&c.ID, &c.InitiatorID, &c.ParticipantID, &c.CreatedAt, &c.UpdatedAt, &unread,
			&msgID, &senderID, &recipientID, &body, &status, &localID, &createdAt,
		); err != nil {
			return nil, err
		}
		c.UnreadCount = int(unread)
		if msgID != nil {
			c.LastMessage = &models.Message{
				ID:             *msgID,
				ConversationID: c.ID,
				SenderID:       *senderID,
				RecipientID:    *recipientID,
				Body:           *body,
				Status:         models.MessageStatus(*status),
				LocalID:        *localID,
				CreatedAt:      *createdAt,
			}
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// CreateMessage stores a message.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observe("postgres", time.Now())
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, body, status, local_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Body, string(msg.Status), msg.LocalID, msg.CreatedAt)
	batch.Queue(`
		UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
	`, msg.ConversationID, msg.CreatedAt)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateMessage
	}
	return err
}

// GetMessageByLocalID finds the message senderID stored under localID.
func (s *PostgresStore) GetMessageByLocalID(ctx context.Context, conversationID, senderID, localID string) (*models.Message, error) {
	if localID == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, messageSelectPostgres+`
		WHERE conversation_id = $1 AND sender_id = $2 AND local_id = $3
	`, conversationID, senderID, localID)
	if err != nil {
		return nil, err
	}
	msgs, err := scanPostgresMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

const messageSelectPostgres = `
	SELECT id, conversation_id, sender_id, recipient_id, body, status, local_id, created_at
	FROM messages`

func scanPostgresMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	msgs := make([]models.Message, 0)
	for rows.Next() {
		var m models.Message
		var status string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.Body, &status, &m.LocalID, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Status = models.MessageStatus(status)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessages returns one page of a conversation.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit, page int) ([]models.Message, int, error) {
	defer observe("postgres", time.Now())
	limit, page = NormalizePage(limit, page)

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, messageSelectPostgres+`
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	msgs, err := scanPostgresMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	reverse(msgs)
	return msgs, total, nil
}

// MarkSeen sets the seen status on messages addressed to recipientID.
func (s *PostgresStore) MarkSeen(ctx context.Context, conversationID, recipientID string, messageIDs []string) ([]models.Message, error) {
	defer observe("postgres", time.Now())
	if len(messageIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET status = 'seen'
		WHERE conversation_id = $1 AND recipient_id = $2 AND status <> 'seen' AND id = ANY($3)
		RETURNING id, conversation_id, sender_id, recipient_id, body, status, local_id, created_at
	`, conversationID, recipientID, messageIDs)
	if err != nil {
		return nil, err
	}

	updated, err := scanPostgresMessages(rows)
	if err != nil {
		return nil, err
	}
	sortByCreated(updated)
	return updated, nil
}

// CountMessages returns the number of stored messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
