package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// UserResponse represents a user profile.
type UserResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Online   bool   `json:"online"`
	JoinedAt string `json:"joined_at"`
}

// Who handles user profile lookup.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.Error(w, http.StatusBadRequest, "user id is required")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, UserResponse{
		ID:       user.ID,
		Name:     user.Name,
		Type:     string(user.Type),
		Online:   h.hub != nil && h.hub.Online(r.Context(), user.ID),
		JoinedAt: user.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	})
}
