package handlers

import (
	"net/http"

	"github.com/eldtechnologies/coursechat/internal/api/middleware"
)

// Socket upgrades the request to the push-only realtime channel.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentityFromContext(r.Context())
	if id == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.hub == nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime disabled")
		return
	}

	h.hub.Serve(w, r, id.UserID)
}
