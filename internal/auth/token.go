// Package auth issues and verifies the bearer credentials used by the REST
// endpoints and the realtime channel.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eldtechnologies/coursechat/internal/models"
)

var (
	ErrInvalidToken   = errors.New("invalid bearer token")
	ErrMissingSecret  = errors.New("token secret is empty")
	ErrInvalidSubject = errors.New("token subject is empty")
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

// Claims are the JWT claims carried by a bearer token.
type Claims struct {
	UserType models.UserType `json:"typ"`
	Name     string          `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller resolved from a valid token.
type Identity struct {
	UserID   string
	UserType models.UserType
	Name     string
}

// IssueToken signs an HS256 token for user valid for ttl.
func IssueToken(user *models.User, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrMissingSecret
	}
	if user.ID == "" {
		return "", ErrInvalidSubject
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := Claims{
		UserType: user.Type,
		Name:     user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken validates tokenString and returns the identity it carries.
func ParseToken(tokenString string, secret []byte) (*Identity, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if !claims.UserType.Valid() {
		return nil, fmt.Errorf("%w: unknown user type %q", ErrInvalidToken, claims.UserType)
	}

	return &Identity{
		UserID:   claims.Subject,
		UserType: claims.UserType,
		Name:     claims.Name,
	}, nil
}
