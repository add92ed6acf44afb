package chat

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// SeenMarker is the batched mark-as-seen endpoint.
type SeenMarker interface {
	MarkSeen(ctx context.Context, conversationID string, messageIDs []string) error
}

// ReadState marks received messages as seen whenever the rendered list
// changes, and clears the matching unread badge. A given set of unseen ids
// is sent once; the call is repeated only when the set changes or the
// previous attempt failed.
type ReadState struct {
	marker SeenMarker
	userID string
	list   *ConversationList
	window *Window
	logger zerolog.Logger

	mu      sync.Mutex
	lastKey string
}

// NewReadState creates a synchronizer for userID. list and window may be nil.
func NewReadState(marker SeenMarker, userID string, list *ConversationList, window *Window, logger zerolog.Logger) *ReadState {
	return &ReadState{
		marker: marker,
		userID: userID,
		list:   list,
		window: window,
		logger: logger.With().Str("component", "readstate").Logger(),
	}
}

// Unseen returns the ids of messages received by userID that are confirmed
// but not yet seen.
func Unseen(userID string, msgs []models.Message) []string {
	var out []string
	for i := range msgs {
		m := &msgs[i]
		if m.SenderID == userID || !m.Status.Confirmed() || m.Status == models.StatusSeen {
			continue
		}
		out = append(out, m.ID)
	}
	return out
}

// Sync issues one mark-as-seen call for the unseen received messages in
// msgs. It returns true if a call was made and succeeded. Failures are
// logged and swallowed; unread badges may lag until the next change.
func (r *ReadState) Sync(ctx context.Context, conversationID string, msgs []models.Message) bool {
	unseen := Unseen(r.userID, msgs)
	if conversationID == "" || len(unseen) == 0 {
		return false
	}

	key := setKey(conversationID, unseen)
	r.mu.Lock()
	if key == r.lastKey {
		r.mu.Unlock()
		return false
	}
	r.lastKey = key
	r.mu.Unlock()

	if err := r.marker.MarkSeen(ctx, conversationID, unseen); err != nil {
		metrics.ClientSeenBatches.WithLabelValues("error").Inc()
		r.logger.Warn().Err(err).
			Str("conversation", conversationID).
			Int("messages", len(unseen)).
			Msg("mark as seen failed")

		r.mu.Lock()
		if r.lastKey == key {
			r.lastKey = ""
		}
		r.mu.Unlock()
		return false
	}
	metrics.ClientSeenBatches.WithLabelValues("ok").Inc()

	if r.window != nil {
		r.window.MarkSeen(conversationID, unseen)
	}
	if r.list != nil {
		r.list.ResetUnread(conversationID)
	}
	return true
}

// Forget clears the dedup key, e.g. after switching conversations.
func (r *ReadState) Forget() {
	r.mu.Lock()
	r.lastKey = ""
	r.mu.Unlock()
}

func setKey(conversationID string, messageIDs []string) string {
	sorted := make([]string, len(messageIDs))
	copy(sorted, messageIDs)
	sort.Strings(sorted)
	return conversationID + "|" + strings.Join(sorted, ",")
}
