package models

import (
	"time"
)

// UserType is the platform role of a user. It also scopes the realtime
// event channel a user listens on.
type UserType string

const (
	UserAdmin      UserType = "admin"
	UserInstructor UserType = "instructor"
	UserStudent    UserType = "student"
)

// Valid reports whether t is a known role.
func (t UserType) Valid() bool {
	switch t {
	case UserAdmin, UserInstructor, UserStudent:
		return true
	}
	return false
}

// User represents a platform user that can take part in conversations.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         UserType  `json:"type"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
