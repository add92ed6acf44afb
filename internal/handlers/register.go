package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eldtechnologies/coursechat/internal/auth"
	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
	"github.com/eldtechnologies/coursechat/internal/store"
)

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for the authenticated user.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Name     string          `json:"name"`
	Password string          `json:"password"`
	Type     models.UserType `json:"type"`
}

// Login exchanges a username and password for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		h.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := h.db.GetUserByName(r.Context(), sanitizeName(req.Username))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		metrics.LoginsTotal.WithLabelValues("denied").Inc()
		h.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	metrics.LoginsTotal.WithLabelValues("ok").Inc()
	h.issue(w, http.StatusOK, user)
}

// Register creates a user and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Password) < 8 {
		h.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	if req.Type == "" {
		req.Type = models.UserStudent
	}
	// Admins are provisioned out of band.
	if req.Type != models.UserStudent && req.Type != models.UserInstructor {
		h.Error(w, http.StatusBadRequest, "type must be student or instructor")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), name, req.Type, hash)
	if errors.Is(err, store.ErrDuplicateUser) {
		h.Error(w, http.StatusConflict, "name already taken")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.issue(w, http.StatusCreated, user)
}

func (h *Handler) issue(w http.ResponseWriter, status int, user *models.User) {
	token, err := auth.IssueToken(user, h.secret, h.ttl)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.JSON(w, status, LoginResponse{Token: token, User: *user})
}
