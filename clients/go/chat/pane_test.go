package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/models"
)

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) record(u Update) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
}

func (l *updateLog) errs() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []error
	for _, u := range l.updates {
		if u.Err != nil {
			out = append(out, u.Err)
		}
	}
	return out
}

func newTestPane(t *testing.T, api *fakeAPI, notifier Notifier) (*Pane, *updateLog) {
	t.Helper()
	log := &updateLog{}
	p := NewPane(fakeCreds{id: "me", typ: models.UserStudent, token: "tok"}, api, PaneOptions{
		PageSize: 20,
		LoadStep: 10,
		Notifier: notifier,
		OnUpdate: log.record,
	})
	t.Cleanup(func() { _ = p.Close() })
	return p, log
}

func inbox(conv, peer string, n int) []models.Message {
	out := make([]models.Message, n)
	for i := range out {
		out[i] = msgAt(conv+"-in-"+string(rune('a'+i)), conv, peer, "me", i)
	}
	return out
}

func TestPaneSelectMarksSeenAndClearsBadge(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{
		{ID: "C123", InitiatorID: "peer", ParticipantID: "me", UnreadCount: 3},
	}
	api.seed("C123", inbox("C123", "peer", 3))

	p, _ := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.Equal(t, 3, p.TotalUnread())

	require.NoError(t, p.Select(ctx, "C123"))
	require.Equal(t, "C123", p.Active())
	require.Len(t, p.Messages(), 3)

	calls := api.seen()
	require.Len(t, calls, 1)
	require.Equal(t, []string{"C123", "C123-in-a", "C123-in-b", "C123-in-c"}, calls[0])
	require.Zero(t, p.TotalUnread())
	require.Equal(t, AtBottom, p.ScrollState())
}

func TestPaneSendReconcilesOptimisticEntry(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}

	p, _ := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))

	msg, err := p.Send(ctx, "  Hello ")
	require.NoError(t, err)
	require.Equal(t, "srv-1", msg.ID)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "srv-1", msgs[0].ID)
	require.Equal(t, "Hello", msgs[0].Body)
	require.Equal(t, models.StatusSent, msgs[0].Status)

	require.Len(t, api.sends, 1)
	require.Equal(t, "peer", api.sends[0].RecipientID)
	require.True(t, strings.HasPrefix(api.sends[0].LocalID, "local-"))

	// The socket copy of our own message changes nothing.
	p.HandleIncoming(*msg)
	require.Len(t, p.Messages(), 1)

	conv, ok := p.List().Get("c1")
	require.True(t, ok)
	require.Equal(t, "srv-1", conv.LastMessage.ID)
	require.Zero(t, conv.UnreadCount)

	_, err = p.Send(ctx, "   ")
	require.ErrorIs(t, err, ErrEmptyBody)
}

func TestPaneSendFailureThenRetry(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}
	api.sendErr = errors.New("offline")

	p, log := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))

	_, err := p.Send(ctx, "Hello")
	require.Error(t, err)
	require.Len(t, log.errs(), 1)

	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.StatusFailed, msgs[0].Status)
	localID := msgs[0].LocalID

	api.mu.Lock()
	api.sendErr = nil
	api.mu.Unlock()

	msg, err := p.Retry(ctx, localID)
	require.NoError(t, err)
	msgs = p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, msg.ID, msgs[0].ID)
	require.Equal(t, models.StatusSent, msgs[0].Status)

	_, err = p.Retry(ctx, localID)
	require.ErrorIs(t, err, ErrUnknownMessage)
}

func TestPaneRetryAfterLostReply(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}
	api.dropReplies = 1

	p, _ := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))

	_, err := p.Send(ctx, "Hello once")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	msgs := p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, models.StatusFailed, msgs[0].Status)

	msg, err := p.Retry(ctx, msgs[0].LocalID)
	require.NoError(t, err)
	require.Equal(t, "srv-1", msg.ID)
	require.Len(t, api.sends, 2)
	require.Equal(t, api.sends[0].LocalID, api.sends[1].LocalID)

	// Reloading shows one bubble, not one per attempt.
	require.NoError(t, p.Select(ctx, "c1"))
	msgs = p.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "srv-1", msgs[0].ID)
	require.Equal(t, "Hello once", msgs[0].Body)
}

func TestPaneIncomingForOtherConversation(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{
		{ID: "c1", InitiatorID: "me", ParticipantID: "peer"},
		{ID: "c2", InitiatorID: "other", ParticipantID: "me"},
	}
	notifier := &recordingNotifier{}

	p, _ := newTestPane(t, api, notifier)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))

	p.HandleIncoming(msgAt("x1", "c2", "other", "me", 1))
	p.HandleIncoming(msgAt("x2", "c2", "other", "me", 2))

	require.Empty(t, p.Messages())
	require.Equal(t, 2, p.List().Unread("c2"))
	require.Equal(t, 2, notifier.count())
	require.Empty(t, api.seen())
}

func TestPaneIncomingForActiveConversation(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}
	notifier := &recordingNotifier{}

	p, _ := newTestPane(t, api, notifier)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))

	in := msgAt("n1", "c1", "peer", "me", 1)
	p.HandleIncoming(in)
	p.HandleIncoming(in)

	require.Len(t, p.Messages(), 1)
	require.Equal(t, 2, notifier.count())
	require.Eventually(t, func() bool { return len(api.seen()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"c1", "n1"}, api.seen()[0])
	require.Eventually(t, func() bool {
		return p.Messages()[0].Status == models.StatusSeen
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, p.List().Unread("c1"))
}

func TestPaneLoadOlder(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}
	api.seed("c1", history("c1", "me", "peer", 35))

	p, _ := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))
	require.Len(t, p.Messages(), 20)
	require.True(t, p.HasMore())

	top := ScrollPosition{Offset: 0, ViewportHeight: 20, ContentHeight: 600}
	require.True(t, p.Scrolled(top))
	require.Equal(t, LoadingOlder, p.ScrollState())

	change, err := p.LoadOlder(ctx, top)
	require.NoError(t, err)
	require.Equal(t, 10, change.Prepended)
	require.Len(t, p.Messages(), 30)

	cmd := p.FinishLoading(top, ScrollPosition{Offset: 0, ViewportHeight: 20, ContentHeight: 900})
	require.Equal(t, ScrollToOffset, cmd.Action)
	require.Equal(t, 300, cmd.Offset)
	require.Equal(t, ScrolledUp, p.ScrollState())
}

func TestPaneLoadOlderSurfacesMissedMessages(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []models.Conversation{{ID: "c1", InitiatorID: "me", ParticipantID: "peer"}}
	api.seed("c1", history("c1", "me", "peer", 21))

	p, log := newTestPane(t, api, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Select(ctx, "c1"))
	require.Eventually(t, func() bool { return len(api.seen()) == 1 }, time.Second, 5*time.Millisecond)

	// Pushed while the socket was down, so only a fetch can reveal them.
	var missed []string
	for i := 0; i < 10; i++ {
		m := msgAt(fmt.Sprintf("missed-%d", i), "c1", "peer", "me", 100+i)
		api.seed("c1", []models.Message{m})
		missed = append(missed, m.ID)
	}

	top := ScrollPosition{Offset: 0, ViewportHeight: 20, ContentHeight: 600}
	require.True(t, p.Scrolled(top))
	change, err := p.LoadOlder(ctx, top)
	require.NoError(t, err)
	require.Zero(t, change.Prepended)
	require.Equal(t, 10, change.Appended)
	require.NotEqual(t, LoadingOlder, p.ScrollState())

	log.mu.Lock()
	emitted := false
	for _, u := range log.updates {
		if u.Change.Appended == 10 && u.Change.Prepended == 0 {
			emitted = true
		}
	}
	log.mu.Unlock()
	require.True(t, emitted)

	require.Eventually(t, func() bool { return len(api.seen()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, append([]string{"c1"}, missed...), api.seen()[1])
}

func TestPaneClosed(t *testing.T) {
	api := newFakeAPI()
	p, _ := newTestPane(t, api, nil)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, p.Select(context.Background(), "c1"), ErrClosed)
	require.ErrorIs(t, p.Start(context.Background()), ErrClosed)
}

func TestPaneSendWithoutConversation(t *testing.T) {
	p, _ := newTestPane(t, newFakeAPI(), nil)
	_, err := p.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrNoConversation)
}
