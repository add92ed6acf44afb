package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/eldtechnologies/coursechat/internal/models"
)

// ConversationLister loads the caller's conversations.
type ConversationLister interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

// ConversationList tracks last-message snapshots and unread badges for the
// conversation sidebar.
type ConversationList struct {
	mu     sync.Mutex
	userID string
	items  []models.Conversation
}

// NewConversationList creates an empty list for userID.
func NewConversationList(userID string) *ConversationList {
	return &ConversationList{userID: userID}
}

// Load replaces the list with the backend's.
func (l *ConversationList) Load(ctx context.Context, lister ConversationLister) error {
	convs, err := lister.ListConversations(ctx)
	if err != nil {
		return err
	}
	l.Replace(convs)
	return nil
}

// Replace sets the list contents.
func (l *ConversationList) Replace(convs []models.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make([]models.Conversation, len(convs))
	copy(l.items, convs)
	l.sortLocked()
}

// Apply records an inbound message. Received messages bump the unread badge
// unless their conversation is the one open on screen. It returns false if
// the message did not change the list.
func (l *ConversationList) Apply(msg models.Message, activeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(msg.ConversationID)
	if i < 0 {
		conv := models.Conversation{
			ID:            msg.ConversationID,
			InitiatorID:   msg.SenderID,
			ParticipantID: msg.RecipientID,
			CreatedAt:     msg.CreatedAt,
			UpdatedAt:     msg.CreatedAt,
		}
		l.items = append(l.items, conv)
		i = len(l.items) - 1
	}

	conv := &l.items[i]
	changed := false

	if conv.LastMessage == nil || conv.LastMessage.ID == msg.ID || !msg.CreatedAt.Before(conv.LastMessage.CreatedAt) {
		isNew := conv.LastMessage == nil || conv.LastMessage.ID != msg.ID
		m := msg
		conv.LastMessage = &m
		if msg.CreatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = msg.CreatedAt
		}
		changed = true

		if isNew && msg.ReceivedBy(l.userID) && msg.Status != models.StatusSeen && msg.ConversationID != activeID {
			conv.UnreadCount++
		}
	}

	l.sortLocked()
	return changed
}

// ResetUnread zeroes the badge of conversationID.
func (l *ConversationList) ResetUnread(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(conversationID); i >= 0 {
		l.items[i].UnreadCount = 0
	}
}

// Unread returns the badge of conversationID.
func (l *ConversationList) Unread(conversationID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(conversationID); i >= 0 {
		return l.items[i].UnreadCount
	}
	return 0
}

// TotalUnread sums every badge.
func (l *ConversationList) TotalUnread() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for i := range l.items {
		total += l.items[i].UnreadCount
	}
	return total
}

// Get returns conversationID's entry.
func (l *ConversationList) Get(conversationID string) (models.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(conversationID); i >= 0 {
		return l.items[i], true
	}
	return models.Conversation{}, false
}

// Snapshot returns the conversations, most recently active first.
func (l *ConversationList) Snapshot() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Conversation, len(l.items))
	copy(out, l.items)
	return out
}

func (l *ConversationList) indexLocked(id string) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *ConversationList) sortLocked() {
	sort.SliceStable(l.items, func(i, j int) bool {
		return l.items[i].LastActivity().After(l.items[j].LastActivity())
	})
}
