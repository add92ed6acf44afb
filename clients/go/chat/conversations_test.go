package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/models"
)

func TestConversationListLoadOrdersByActivity(t *testing.T) {
	api := newFakeAPI()
	older := msgAt("m1", "c1", "u2", "me", 1)
	newer := msgAt("m2", "c2", "u3", "me", 5)
	api.conversations = []models.Conversation{
		{ID: "c1", InitiatorID: "u2", ParticipantID: "me", LastMessage: &older, UpdatedAt: older.CreatedAt},
		{ID: "c2", InitiatorID: "u3", ParticipantID: "me", LastMessage: &newer, UpdatedAt: newer.CreatedAt},
	}

	l := NewConversationList("me")
	require.NoError(t, l.Load(context.Background(), api))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, "c2", snap[0].ID)
	require.Equal(t, "c1", snap[1].ID)
}

func TestConversationListApplyUnread(t *testing.T) {
	l := NewConversationList("me")
	l.Replace([]models.Conversation{
		{ID: "c1", InitiatorID: "u2", ParticipantID: "me"},
		{ID: "c2", InitiatorID: "me", ParticipantID: "u3"},
	})

	require.True(t, l.Apply(msgAt("a", "c1", "u2", "me", 1), "c2"))
	require.True(t, l.Apply(msgAt("b", "c1", "u2", "me", 2), "c2"))
	require.Equal(t, 2, l.Unread("c1"))

	// Re-delivery of the same message is not a new unread.
	require.True(t, l.Apply(msgAt("b", "c1", "u2", "me", 2), "c2"))
	require.Equal(t, 2, l.Unread("c1"))

	// The open conversation and own messages never count.
	l.Apply(msgAt("c", "c2", "u3", "me", 3), "c2")
	l.Apply(msgAt("d", "c1", "me", "u2", 4), "c2")
	require.Zero(t, l.Unread("c2"))
	require.Equal(t, 2, l.Unread("c1"))
	require.Equal(t, 2, l.TotalUnread())

	conv, ok := l.Get("c1")
	require.True(t, ok)
	require.Equal(t, "d", conv.LastMessage.ID)
	require.Equal(t, "c1", l.Snapshot()[0].ID)

	l.ResetUnread("c1")
	require.Zero(t, l.TotalUnread())
}

func TestConversationListApplyOlderKeepsSnapshot(t *testing.T) {
	l := NewConversationList("me")
	l.Apply(msgAt("new", "c1", "u2", "me", 10), "")
	require.False(t, l.Apply(msgAt("old", "c1", "u2", "me", 1), ""))

	conv, _ := l.Get("c1")
	require.Equal(t, "new", conv.LastMessage.ID)
	require.Equal(t, 1, conv.UnreadCount)
}

func TestConversationListApplyUnknownConversation(t *testing.T) {
	l := NewConversationList("me")
	require.True(t, l.Apply(msgAt("x", "fresh", "u9", "me", 1), ""))

	conv, ok := l.Get("fresh")
	require.True(t, ok)
	require.Equal(t, "u9", conv.Peer("me"))
	require.Equal(t, 1, conv.UnreadCount)

	_, ok = l.Get("missing")
	require.False(t, ok)
	require.Zero(t, l.Unread("missing"))
}
