package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/store"
)

// MarkSeenRequest represents the mark-as-seen request body.
type MarkSeenRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkSeenResponse reports how many messages changed state.
type MarkSeenResponse struct {
	Updated int `json:"updated"`
}

// MarkSeen flags messages addressed to the caller as seen and pushes the
// updated copies back to their author.
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	conv, caller := h.conversationFor(w, r)
	if conv == nil {
		return
	}

	var req MarkSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.MessageIDs) == 0 {
		h.Error(w, http.StatusBadRequest, "message_ids is required")
		return
	}
	if len(req.MessageIDs) > store.MaxPageSize {
		h.Error(w, http.StatusBadRequest, "too many message_ids")
		return
	}

	updated, err := h.db.MarkSeen(r.Context(), conv.ID, caller.UserID, req.MessageIDs)
	if err != nil {
		h.logger.Error().Err(err).Str("conversation", conv.ID).Msg("mark seen failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	metrics.MessagesSeen.Add(float64(len(updated)))

	if len(updated) > 0 {
		author, err := h.db.GetUserByID(r.Context(), conv.Peer(caller.UserID))
		if err == nil && author != nil {
			for i := range updated {
				h.push(r.Context(), author.ID, author.Type, &updated[i])
			}
		}
	}

	h.JSON(w, http.StatusOK, MarkSeenResponse{Updated: len(updated)})
}
