package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// ErrDuplicateUser is returned when a user name is already taken.
var ErrDuplicateUser = errors.New("user name already exists")

// ErrDuplicateMessage is returned when a sender reuses a local id within a
// conversation.
var ErrDuplicateMessage = errors.New("message with this local id already exists")

// MemoryStore keeps everything in process memory. It backs development runs
// and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	usersByName   map[string]string
	conversations map[string]*models.Conversation
	messages      map[string][]models.Message // by conversation, oldest first
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		usersByName:   make(map[string]string),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// CreateUser creates a new user record.
func (s *MemoryStore) CreateUser(ctx context.Context, name string, userType models.UserType, passwordHash string) (*models.User, error) {
	defer observe("memory", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(name)
	if _, ok := s.usersByName[key]; ok {
		return nil, ErrDuplicateUser
	}
	u := &models.User{
		ID:           ids.NewUserID(),
		Name:         name,
		Type:         userType,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.usersByName[key] = u.ID

	cp := *u
	return &cp, nil
}

// GetUserByID retrieves a user by ID.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// GetUserByName retrieves a user by name, case-insensitively.
func (s *MemoryStore) GetUserByName(ctx context.Context, name string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.usersByName[strings.ToLower(name)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s.GetUserByID(ctx, id)
}

// CountUsers returns the number of users.
func (s *MemoryStore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// GetOrCreateConversation returns the conversation between the two users,
// creating it if needed.
func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, initiatorID, participantID string) (*models.Conversation, error) {
	defer observe("memory", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conversations {
		if c.Includes(initiatorID) && c.Includes(participantID) {
			cp := *c
			return &cp, nil
		}
	}

	now := time.Now().UTC()
	c := &models.Conversation{
		ID:            ids.NewConversationID(),
		InitiatorID:   initiatorID,
		ParticipantID: participantID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// ListConversations returns userID's conversations.
func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	defer observe("memory", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if !c.Includes(userID) {
			continue
		}
		cp := *c
		msgs := s.messages[c.ID]
		if n := len(msgs); n > 0 {
			last := msgs[n-1]
			cp.LastMessage = &last
		}
		for i := range msgs {
			if msgs[i].RecipientID == userID && msgs[i].Status != models.StatusSeen {
				cp.UnreadCount++
			}
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity().After(out[j].LastActivity())
	})
	return out, nil
}

// CreateMessage stores a message.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	defer observe("memory", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		return errors.New("conversation not found")
	}
	if s.findLocalLocked(msg.ConversationID, msg.SenderID, msg.LocalID) != nil {
		return ErrDuplicateMessage
	}

	msgs := append(s.messages[msg.ConversationID], *msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	s.messages[msg.ConversationID] = msgs

	if msg.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = msg.CreatedAt
	}
	return nil
}

// GetMessageByLocalID finds the message senderID stored under localID.
func (s *MemoryStore) GetMessageByLocalID(ctx context.Context, conversationID, senderID, localID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.findLocalLocked(conversationID, senderID, localID); m != nil {
		found := *m
		return &found, nil
	}
	return nil, nil
}

func (s *MemoryStore) findLocalLocked(conversationID, senderID, localID string) *models.Message {
	if localID == "" {
		return nil
	}
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID == senderID && msgs[i].LocalID == localID {
			return &msgs[i]
		}
	}
	return nil
}

// ListMessages returns one page of a conversation.
func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string, limit, page int) ([]models.Message, int, error) {
	defer observe("memory", time.Now())
	limit, page = NormalizePage(limit, page)

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	total := len(all)
	end := total - (page-1)*limit
	if end <= 0 {
		return []models.Message{}, total, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]models.Message, end-start)
	copy(out, all[start:end])
	return out, total, nil
}

// MarkSeen sets the seen status on messages addressed to recipientID.
func (s *MemoryStore) MarkSeen(ctx context.Context, conversationID, recipientID string, messageIDs []string) ([]models.Message, error) {
	defer observe("memory", time.Now())
	want := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		want[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated []models.Message
	msgs := s.messages[conversationID]
	for i := range msgs {
		m := &msgs[i]
		if !want[m.ID] || m.RecipientID != recipientID || m.Status == models.StatusSeen {
			continue
		}
		m.Status = models.StatusSeen
		updated = append(updated, *m)
	}
	return updated, nil
}

// CountMessages returns the number of stored messages.
func (s *MemoryStore) CountMessages(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, msgs := range s.messages {
		n += int64(len(msgs))
	}
	return n, nil
}
