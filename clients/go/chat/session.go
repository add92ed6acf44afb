package chat

import (
	"sync"
	"time"

	"github.com/eldtechnologies/coursechat/internal/models"
)

// Credentials supplies the current user's identity and bearer token. The
// pipeline only reads from it.
type Credentials interface {
	UserID() string
	UserType() models.UserType
	Token() (string, error)
}

// Session is the explicit per-login context shared by the pipeline
// components. It is created at login and closed at logout; after Close every
// component using it refuses new network calls.
type Session struct {
	mu      sync.RWMutex
	user    models.User
	token   string
	started time.Time
	closed  bool
}

// NewSession starts a session for user authenticated by token.
func NewSession(user models.User, token string) *Session {
	return &Session{
		user:    user,
		token:   token,
		started: time.Now(),
	}
}

// UserID returns the id of the logged in user.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID
}

// UserType returns the role of the logged in user.
func (s *Session) UserType() models.UserType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.Type
}

// User returns a copy of the logged in user.
func (s *Session) User() models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Token returns the bearer token, or ErrSessionClosed after logout.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	return s.token, nil
}

// Started returns when the session was created.
func (s *Session) Started() time.Time {
	return s.started
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.token = ""
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
