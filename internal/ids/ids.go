// Package ids generates identifiers for users, conversations and messages.
package ids

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// localPrefix marks ids minted by a client for optimistic entries.
const localPrefix = "local-"

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewUserID returns a new user id.
func NewUserID() string {
	return NewUUIDv7().String()
}

// NewConversationID returns a new conversation id.
func NewConversationID() string {
	return NewUUIDv7().String()
}

// NewMessageID returns a server-assigned message id. ULIDs sort by creation
// time.
func NewMessageID() string {
	return ulid.Make().String()
}

// NewLocalID returns an id for a message that has not been confirmed yet.
func NewLocalID() string {
	return localPrefix + NewUUIDv7().String()
}

// IsLocal reports whether id was minted by NewLocalID.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}
