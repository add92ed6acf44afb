package store

import (
	"context"
	"sort"
	"time"

	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// Pagination bounds for ListMessages.
const (
	DefaultPageSize = 20
	MaxPageSize     = models.MaxPageSize
)

// DataStore defines the interface for persistent storage of users,
// conversations and messages. MemoryStore, SQLiteStore and PostgresStore
// implement it. Lookups of missing rows return nil without an error.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name string, userType models.UserType, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByName(ctx context.Context, name string) (*models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Conversation operations
	GetOrCreateConversation(ctx context.Context, initiatorID, participantID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversations returns userID's conversations, most recently active
	// first, with the last message and userID's unread count filled in.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)

	// Message operations
	// CreateMessage stores msg and bumps its conversation's activity time.
	// The caller assigns ID, CreatedAt and Status.
	// It returns ErrDuplicateMessage when the sender already stored a
	// message with the same non-empty LocalID in that conversation.
	CreateMessage(ctx context.Context, msg *models.Message) error
	// GetMessageByLocalID finds the message a sender stored under localID.
	GetMessageByLocalID(ctx context.Context, conversationID, senderID, localID string) (*models.Message, error)
	// ListMessages returns page of the conversation counted back from the
	// newest message, oldest first, together with the total count.
	ListMessages(ctx context.Context, conversationID string, limit, page int) ([]models.Message, int, error)
	// MarkSeen sets the seen status on the listed messages addressed to
	// recipientID and returns the ones that changed.
	MarkSeen(ctx context.Context, conversationID, recipientID string, messageIDs []string) ([]models.Message, error)
	CountMessages(ctx context.Context) (int64, error)
}

// NormalizePage clamps pagination parameters to sane values.
func NormalizePage(limit, page int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	return limit, page
}

// reverse flips a newest-first slice in place.
func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// observe records the latency of a store call.
func observe(backend string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func sortByCreated(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
