package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
	"github.com/eldtechnologies/coursechat/internal/store"
)

// PostMessageRequest represents the send message request body.
type PostMessageRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
	LocalID     string `json:"local_id"`
}

// GetMessages returns one page of a conversation, counted back from the
// newest message and ordered oldest first.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conv, _ := h.conversationFor(w, r)
	if conv == nil {
		return
	}

	limit, ok := queryInt(r, "limit", store.DefaultPageSize)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid limit")
		return
	}
	page, ok := queryInt(r, "page", 1)
	if !ok {
		h.Error(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, page = store.NormalizePage(limit, page)

	msgs, total, err := h.db.ListMessages(r.Context(), conv.ID, limit, page)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conv.ID).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	h.JSON(w, http.StatusOK, models.MessagePage{
		Data:  msgs,
		Total: total,
		Count: len(msgs),
		Limit: limit,
		Page:  page,
	})
}

// PostMessage stores a message from the caller to the other participant and
// pushes it to both of them.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	conv, caller := h.conversationFor(w, r)
	if conv == nil {
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.SenderID != "" && req.SenderID != caller.UserID {
		h.Error(w, http.StatusForbidden, "sender_id does not match the authenticated user")
		return
	}
	peer := conv.Peer(caller.UserID)
	if req.RecipientID != "" && req.RecipientID != peer {
		h.Error(w, http.StatusBadRequest, "recipient_id is not the other participant")
		return
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if len(body) > maxBodyLength {
		h.Error(w, http.StatusUnprocessableEntity, fmt.Sprintf("body too long (max %d bytes)", maxBodyLength))
		return
	}
	if len(req.LocalID) > 64 {
		h.Error(w, http.StatusBadRequest, "local_id too long")
		return
	}

	// A retried send whose first attempt was stored gets the stored copy.
	if h.replayed(w, r, conv.ID, caller.UserID, req.LocalID) {
		return
	}

	recipient, err := h.db.GetUserByID(r.Context(), peer)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if recipient == nil {
		h.Error(w, http.StatusNotFound, "recipient not found")
		return
	}

	msg := &models.Message{
		ID:             ids.NewMessageID(),
		ConversationID: conv.ID,
		SenderID:       caller.UserID,
		RecipientID:    recipient.ID,
		Body:           body,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
		Status:         models.StatusSent,
		LocalID:        req.LocalID,
	}
	if h.hub != nil && h.hub.Online(r.Context(), recipient.ID) {
		msg.Status = models.StatusDelivered
	}

	err = h.db.CreateMessage(r.Context(), msg)
	if errors.Is(err, store.ErrDuplicateMessage) && h.replayed(w, r, conv.ID, caller.UserID, req.LocalID) {
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conv.ID).Msg("create message failed")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesSent.Inc()

	// The sender's own sockets get a copy so other devices stay in sync.
	h.push(r.Context(), recipient.ID, recipient.Type, msg)
	h.push(r.Context(), caller.UserID, caller.UserType, msg)

	h.JSON(w, http.StatusCreated, msg)
}

// replayed answers with the message senderID already stored under localID,
// reporting whether it wrote a response.
func (h *Handler) replayed(w http.ResponseWriter, r *http.Request, conversationID, senderID, localID string) bool {
	if localID == "" {
		return false
	}
	existing, err := h.db.GetMessageByLocalID(r.Context(), conversationID, senderID, localID)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conversationID).Msg("local id lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return true
	}
	if existing == nil {
		return false
	}
	h.logger.Debug().Str("message", existing.ID).Str("local_id", localID).Msg("replaying stored message")
	h.JSON(w, http.StatusOK, existing)
	return true
}

// push delivers msg to userID's sockets. Failures only cost realtime
// freshness, so they are logged and dropped.
func (h *Handler) push(ctx context.Context, userID string, userType models.UserType, msg *models.Message) {
	if h.hub == nil {
		return
	}
	if err := h.hub.Deliver(ctx, userID, userType, msg); err != nil {
		h.logger.Warn().Err(err).Str("user", userID).Str("message", msg.ID).Msg("realtime push failed")
	}
}
