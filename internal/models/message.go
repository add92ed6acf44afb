package models

import (
	"time"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"

	// Client-only states for optimistic entries.
	StatusPending MessageStatus = "pending"
	StatusFailed  MessageStatus = "failed"
)

// Confirmed reports whether the status was assigned by the server.
func (s MessageStatus) Confirmed() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusSeen
}

// Message represents a chat message between the two participants of a
// conversation.
type Message struct {
	ID             string        `json:"id"` // ULID, or a local id while pending
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	RecipientID    string        `json:"recipient_id"`
	Body           string        `json:"body"`
	CreatedAt      time.Time     `json:"created_at"`
	Status         MessageStatus `json:"status"`
	LocalID        string        `json:"local_id,omitempty"` // echoed back for reconciliation
}

// ReceivedBy reports whether userID is the recipient rather than the author.
func (m *Message) ReceivedBy(userID string) bool {
	return m.SenderID != userID && m.RecipientID == userID
}
