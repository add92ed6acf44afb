package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrStale is returned when a response arrives for a conversation that
	// is no longer open.
	ErrStale = errors.New("chat: stale response for a conversation that is no longer open")

	// ErrNoConversation is returned by operations that need an open
	// conversation.
	ErrNoConversation = errors.New("chat: no conversation is open")

	// ErrSessionClosed is returned once the session has been logged out.
	ErrSessionClosed = errors.New("chat: session closed")

	// ErrClosed is returned by a pane or connection after Close.
	ErrClosed = errors.New("chat: closed")

	// ErrUnknownMessage is returned when a local id matches no entry.
	ErrUnknownMessage = errors.New("chat: unknown message")

	// ErrEmptyBody is returned when sending a blank message.
	ErrEmptyBody = errors.New("chat: message body is empty")
)

// APIError is a non-2xx response from the chat backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat API error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
