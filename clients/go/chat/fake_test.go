package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/coursechat/internal/models"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// msgAt builds a confirmed message n minutes after epoch.
func msgAt(id, conv, from, to string, n int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       from,
		RecipientID:    to,
		Body:           "message " + id,
		CreatedAt:      epoch.Add(time.Duration(n) * time.Minute),
		Status:         models.StatusSent,
	}
}

// history builds n messages alternating between a and b.
func history(conv, a, b string, n int) []models.Message {
	out := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		out = append(out, msgAt(fmt.Sprintf("%s-%02d", conv, i), conv, from, to, i))
	}
	return out
}

type fetchCall struct {
	conversationID string
	limit          int
	page           int
}

// fakeAPI is an in-memory backend. A conversation listed in gates blocks its
// fetches until the channel is closed. A positive maxLimit clamps page sizes
// the way the server does.
type fakeAPI struct {
	mu            sync.Mutex
	messages      map[string][]models.Message
	conversations []models.Conversation
	gates         map[string]chan struct{}
	maxLimit      int
	fetches       []fetchCall
	seenCalls     [][]string
	seenErr       error
	sendErr       error
	dropReplies   int // sends that are stored but answered with an error
	sends         []SendMessageRequest
	nextID        int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[string][]models.Message),
		gates:    make(map[string]chan struct{}),
	}
}

func (f *fakeAPI) seed(conv string, msgs []models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[conv] = append(f.messages[conv], msgs...)
}

func (f *fakeAPI) gate(conv string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[conv] = ch
	return ch
}

func (f *fakeAPI) FetchMessages(ctx context.Context, conversationID string, limit int) (*models.MessagePage, error) {
	return f.FetchPage(ctx, conversationID, limit, 1)
}

func (f *fakeAPI) FetchPage(ctx context.Context, conversationID string, limit, page int) (*models.MessagePage, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, fetchCall{conversationID, limit, page})
	if f.maxLimit > 0 && limit > f.maxLimit {
		limit = f.maxLimit
	}
	gate := f.gates[conversationID]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	all := append([]models.Message(nil), f.messages[conversationID]...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	end := len(all) - (page-1)*limit
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	data := all[start:end]
	return &models.MessagePage{Data: data, Total: len(all), Count: len(data), Limit: limit, Page: page}, nil
}

func (f *fakeAPI) MarkSeen(ctx context.Context, conversationID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seenCalls = append(f.seenCalls, append([]string{conversationID}, messageIDs...))
	return f.seenErr
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Conversation(nil), f.conversations...), nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if req.LocalID != "" {
		for _, m := range f.messages[conversationID] {
			if m.SenderID == req.SenderID && m.LocalID == req.LocalID {
				return &m, nil
			}
		}
	}
	f.nextID++
	msg := models.Message{
		ID:             fmt.Sprintf("srv-%d", f.nextID),
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		Body:           req.Body,
		CreatedAt:      time.Now(),
		Status:         models.StatusSent,
		LocalID:        req.LocalID,
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	if f.dropReplies > 0 {
		f.dropReplies--
		return nil, context.DeadlineExceeded
	}
	return &msg, nil
}

func (f *fakeAPI) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches)
}

func (f *fakeAPI) lastFetch() fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[len(f.fetches)-1]
}

func (f *fakeAPI) seen() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.seenCalls...)
}

// fakeCreds is a fixed identity.
type fakeCreds struct {
	id    string
	typ   models.UserType
	token string
}

func (c fakeCreds) UserID() string            { return c.id }
func (c fakeCreds) UserType() models.UserType { return c.typ }
func (c fakeCreds) Token() (string, error)    { return c.token, nil }

// recordingNotifier counts notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (n *recordingNotifier) Notify(msg models.Message) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func requireUniqueAscending(t interface {
	Helper()
	Fatalf(string, ...interface{})
}, msgs []models.Message) {
	t.Helper()
	seen := make(map[string]bool, len(msgs))
	for i, m := range msgs {
		if seen[m.ID] {
			t.Fatalf("duplicate id %s", m.ID)
		}
		seen[m.ID] = true
		if i > 0 && m.CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("message %s out of order", m.ID)
		}
	}
}
