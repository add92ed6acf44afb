package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/models"
)

func TestUnseenSelectsReceivedConfirmed(t *testing.T) {
	msgs := []models.Message{
		msgAt("m1", "c", "u2", "u1", 1),
		msgAt("m2", "c", "u1", "u2", 2),
		msgAt("m3", "c", "u2", "u1", 3),
		msgAt("m4", "c", "u2", "u1", 4),
		{ID: "local-1", ConversationID: "c", SenderID: "u2", Status: models.StatusPending},
	}
	msgs[2].Status = models.StatusSeen
	msgs[3].Status = models.StatusDelivered

	require.Equal(t, []string{"m1", "m4"}, Unseen("u1", msgs))
	require.Empty(t, Unseen("u2", msgs[:2]))
}

func TestReadStateBatchesAndClearsBadge(t *testing.T) {
	api := newFakeAPI()
	api.seed("C123", []models.Message{
		msgAt("r1", "C123", "peer", "me", 1),
		msgAt("r2", "C123", "peer", "me", 2),
		msgAt("r3", "C123", "peer", "me", 3),
	})
	ctx := context.Background()

	list := NewConversationList("me")
	list.Replace([]models.Conversation{{ID: "C123", InitiatorID: "peer", ParticipantID: "me", UnreadCount: 3}})
	w := NewWindow(api, zerolog.Nop())
	_, err := w.Open(ctx, "C123", 20)
	require.NoError(t, err)

	r := NewReadState(api, "me", list, w, zerolog.Nop())
	require.True(t, r.Sync(ctx, "C123", w.Messages()))

	calls := api.seen()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"C123", "r1", "r2", "r3"}, calls[0])
	require.Zero(t, list.Unread("C123"))
	for _, m := range w.Messages() {
		require.Equal(t, models.StatusSeen, m.Status)
	}

	// Nothing left to mark on the next render.
	require.False(t, r.Sync(ctx, "C123", w.Messages()))
	require.Len(t, api.seen(), 1)
}

func TestReadStateDeduplicatesIdenticalSets(t *testing.T) {
	api := newFakeAPI()
	r := NewReadState(api, "me", nil, nil, zerolog.Nop())
	ctx := context.Background()
	msgs := []models.Message{msgAt("r1", "c", "peer", "me", 1)}

	require.True(t, r.Sync(ctx, "c", msgs))
	require.False(t, r.Sync(ctx, "c", msgs))
	require.Len(t, api.seen(), 1)

	msgs = append(msgs, msgAt("r2", "c", "peer", "me", 2))
	require.True(t, r.Sync(ctx, "c", msgs))
	require.Len(t, api.seen(), 2)

	r.Forget()
	require.True(t, r.Sync(ctx, "c", msgs))
	require.Len(t, api.seen(), 3)
}

func TestReadStateFailureIsRetried(t *testing.T) {
	api := newFakeAPI()
	api.seenErr = errors.New("boom")
	list := NewConversationList("me")
	list.Replace([]models.Conversation{{ID: "c", UnreadCount: 1}})
	r := NewReadState(api, "me", list, nil, zerolog.Nop())
	ctx := context.Background()
	msgs := []models.Message{msgAt("r1", "c", "peer", "me", 1)}

	require.False(t, r.Sync(ctx, "c", msgs))
	require.Equal(t, 1, list.Unread("c"))

	api.mu.Lock()
	api.seenErr = nil
	api.mu.Unlock()

	require.True(t, r.Sync(ctx, "c", msgs))
	require.Len(t, api.seen(), 2)
	require.Zero(t, list.Unread("c"))
}
