package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/coursechat/internal/api/middleware"
	"github.com/eldtechnologies/coursechat/internal/auth"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// ConversationsResponse wraps the caller's conversation list.
type ConversationsResponse struct {
	Data []models.Conversation `json:"data"`
}

// CreateConversationRequest represents the create conversation request body.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// ListConversations returns the caller's conversations, most recent first.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentityFromContext(r.Context())
	if id == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	convs, err := h.db.ListConversations(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error().Err(err).Str("user", id.UserID).Msg("list conversations failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}

	h.JSON(w, http.StatusOK, ConversationsResponse{Data: convs})
}

// CreateConversation opens (or returns the existing) conversation between
// the caller and another user.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentityFromContext(r.Context())
	if id == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ParticipantID == "" {
		h.Error(w, http.StatusBadRequest, "participant_id is required")
		return
	}
	if req.ParticipantID == id.UserID {
		h.Error(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}

	participant, err := h.db.GetUserByID(r.Context(), req.ParticipantID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if participant == nil {
		h.Error(w, http.StatusNotFound, "participant not found")
		return
	}

	conv, err := h.db.GetOrCreateConversation(r.Context(), id.UserID, participant.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("create conversation failed")
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.JSON(w, http.StatusCreated, conv)
}

// conversationFor resolves the {id} conversation and checks the caller takes
// part in it. It writes the error response and returns nil on failure.
func (h *Handler) conversationFor(w http.ResponseWriter, r *http.Request) (*models.Conversation, *auth.Identity) {
	id := middleware.GetIdentityFromContext(r.Context())
	if id == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return nil, nil
	}

	conv, err := h.db.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, nil
	}
	if conv == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return nil, nil
	}
	if !conv.Includes(id.UserID) {
		h.Error(w, http.StatusForbidden, "not a participant")
		return nil, nil
	}
	return conv, id
}
