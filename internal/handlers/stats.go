package handlers

import (
	"net/http"
)

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalUsers    int64 `json:"total_users"`
	TotalMessages int64 `json:"total_messages"`
	Connections   int   `json:"connections"`
}

// Stats returns aggregate counts for operators.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalUsers, err := h.db.CountUsers(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count users")
		return
	}

	totalMessages, err := h.db.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	resp := StatsResponse{
		TotalUsers:    totalUsers,
		TotalMessages: totalMessages,
	}
	if h.hub != nil {
		resp.Connections = h.hub.Connections()
	}
	h.JSON(w, http.StatusOK, resp)
}
