package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/coursechat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/coursechat.db"
	}

	// Ensure directory exists
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL COLLATE NOCASE UNIQUE,
		user_type TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		initiator_id TEXT NOT NULL REFERENCES users(id),
		participant_id TEXT NOT NULL REFERENCES users(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		body TEXT NOT NULL,
		status TEXT NOT NULL,
		local_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_initiator ON conversations(initiator_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_participant ON conversations(participant_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_unread ON messages(recipient_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_local ON messages(conversation_id, sender_id, local_id) WHERE local_id <> '';
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string, userType models.UserType, passwordHash string) (*models.User, error) {
	defer observe("sqlite", time.Now())
	u := &models.User{
		ID:           ids.NewUserID(),
		Name:         name,
		Type:         userType,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, user_type, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Name, string(u.Type), u.PasswordHash, u.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return u, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, user_type, password_hash, created_at FROM users WHERE id = ?`, id)
}

// GetUserByName retrieves a user by name.
func (s *SQLiteStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, name, user_type, password_hash, created_at FROM users WHERE name = ?`, name)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	u := &models.User{}
	var userType string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Name,
		&userType,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Type = models.UserType(userType)
	return u, nil
}

// CountUsers returns the number of users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it if needed.
func (s *SQLiteStore) GetOrCreateConversation(ctx context.Context, initiatorID, participantID string) (*models.Conversation, error) {
	defer observe("sqlite", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	c := &models.Conversation{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, initiator_id, participant_id, created_at, updated_at
		FROM conversations
		WHERE (initiator_id = ? AND participant_id = ?) OR (initiator_id = ? AND participant_id = ?)
		LIMIT 1
	`, initiatorID, participantID, participantID, initiatorID).Scan(
		&c.ID,
		&c.InitiatorID,
		&c.ParticipantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	c = &models.Conversation{
		ID:            ids.NewConversationID(),
		InitiatorID:   initiatorID,
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, initiator_id, participant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.InitiatorID, c.ParticipantID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, tx.Commit()
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	c := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, initiator_id, participant_id, created_at, updated_at
		FROM conversations WHERE id = ?
	`, id).Scan(
		&c.ID,
		&c.InitiatorID,
		&c.ParticipantID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListConversations returns userID's conversations.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	defer observe("sqlite", time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.initiator_id, c.participant_id, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.recipient_id = ? AND m.status != 'seen')
		FROM conversations c
		WHERE c.initiator_id = ? OR c.participant_id = ?
		ORDER BY c.updated_at DESC
	`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.InitiatorID, &c.ParticipantID, &c.CreatedAt, &c.UpdatedAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		last, err := s.lastMessage(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		convs[i].LastMessage = last
	}
	return convs, nil
}

func (s *SQLiteStore) lastMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelectSQLite+`
		WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT 1
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanSQLiteMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// CreateMessage stores a message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observe("sqlite", time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, body, status, local_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.RecipientID, msg.Body, string(msg.Status), msg.LocalID, msg.CreatedAt.UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateMessage
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?
	`, msg.CreatedAt.UTC(), msg.ConversationID, msg.CreatedAt.UTC())
	if err != nil {
		return err
	}
	return tx.Commit()
}

const messageSelectSQLite = `
	SELECT id, conversation_id, sender_id, recipient_id, body, status, local_id, created_at
	FROM messages`

func scanSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
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

// GetMessageByLocalID finds the message senderID stored under localID.
func (s *SQLiteStore) GetMessageByLocalID(ctx context.Context, conversationID, senderID, localID string) (*models.Message, error) {
	if localID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, messageSelectSQLite+`
		WHERE conversation_id = ? AND sender_id = ? AND local_id = ?
	`, conversationID, senderID, localID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs, err := scanSQLiteMessages(rows)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// ListMessages returns one page of a conversation.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, page int) ([]models.Message, int, error) {
	defer observe("sqlite", time.Now())
	limit, page = NormalizePage(limit, page)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, messageSelectSQLite+`
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	msgs, err := scanSQLiteMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	reverse(msgs)
	return msgs, total, nil
}

// MarkSeen sets the seen status on messages addressed to recipientID.
func (s *SQLiteStore) MarkSeen(ctx context.Context, conversationID, recipientID string, messageIDs []string) ([]models.Message, error) {
	defer observe("sqlite", time.Now())
	if len(messageIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]interface{}, 0, len(messageIDs)+2)
	args = append(args, conversationID, recipientID)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	where := ` WHERE conversation_id = ? AND recipient_id = ? AND status != 'seen' AND id IN (` + placeholders + `)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, messageSelectSQLite+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}
	updated, err := scanSQLiteMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = 'seen'`+where, args...); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range updated {
		updated[i].Status = models.StatusSeen
	}
	return updated, nil
}

// CountMessages returns the number of stored messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
