package models

import (
	"time"
)

// Conversation is a chat thread between exactly two participants.
type Conversation struct {
	ID            string    `json:"id"`
	InitiatorID   string    `json:"initiator_id"`
	ParticipantID string    `json:"participant_id"`
	LastMessage   *Message  `json:"last_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Includes reports whether userID is one of the two participants.
func (c *Conversation) Includes(userID string) bool {
	return c.InitiatorID == userID || c.ParticipantID == userID
}

// Peer returns the other participant from userID's point of view.
func (c *Conversation) Peer(userID string) string {
	if c.InitiatorID == userID {
		return c.ParticipantID
	}
	return c.InitiatorID
}

// LastActivity is the time used to order conversation lists.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}
