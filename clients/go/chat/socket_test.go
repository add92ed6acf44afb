package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/coursechat/internal/models"
)

// socketServer upgrades every request and hands the conn to serve.
type socketServer struct {
	*httptest.Server
	accepted atomic.Int32
	auth     atomic.Value
}

func newSocketServer(t *testing.T, serve func(n int32, conn *websocket.Conn)) *socketServer {
	t.Helper()
	s := &socketServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		s.auth.Store(r.URL.Query().Get("conversation"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := s.accepted.Add(1)
		serve(n, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// holdOpen blocks until the client goes away.
func holdOpen(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeMessageFrame(t *testing.T, conn *websocket.Conn, typ models.UserType, msg models.Message) {
	frame, err := models.NewMessageFrame(typ, &msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

type collector struct {
	mu   sync.Mutex
	msgs []models.Message
}

func (c *collector) handle(msg models.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, m := range c.msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestConnectionFiltersByEvent(t *testing.T) {
	srv := newSocketServer(t, func(_ int32, conn *websocket.Conn) {
		writeMessageFrame(t, conn, models.UserInstructor, msgAt("wrong", "c1", "u2", "u1", 1))
		writeMessageFrame(t, conn, models.UserStudent, msgAt("right", "c1", "u2", "u1", 2))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"student_message","data":"nope"}`))
		holdOpen(conn)
	})

	var got collector
	c := NewConnection(fakeCreds{id: "u1", typ: models.UserStudent, token: "tok"}, zerolog.Nop())
	err := c.Open(context.Background(), SocketConfig{
		URL:            srv.wsURL(),
		Event:          models.EventName(models.UserStudent),
		ConversationID: "c1",
	}, got.handle)
	require.NoError(t, err)
	require.Equal(t, Connected, c.State())

	require.Eventually(t, func() bool { return len(got.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"right"}, got.ids())
	require.Equal(t, "c1", srv.auth.Load())

	require.NoError(t, c.Close())
	require.Equal(t, Disconnected, c.State())
	require.NoError(t, c.Close())
}

func TestConnectionReopenIsIdempotent(t *testing.T) {
	srv := newSocketServer(t, func(_ int32, conn *websocket.Conn) { holdOpen(conn) })

	c := NewConnection(fakeCreds{id: "u1", typ: models.UserStudent, token: "tok"}, zerolog.Nop())
	defer c.Close()
	cfg := SocketConfig{URL: srv.wsURL(), Event: "student_message", ConversationID: "c1"}
	ctx := context.Background()

	require.NoError(t, c.Open(ctx, cfg, func(models.Message) {}))
	require.Eventually(t, func() bool { return srv.accepted.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Open(ctx, cfg, func(models.Message) {}))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), srv.accepted.Load())

	// A conversation switch replaces the connection.
	cfg.ConversationID = "c2"
	require.NoError(t, c.Open(ctx, cfg, func(models.Message) {}))
	require.Eventually(t, func() bool { return srv.accepted.Load() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "c2", srv.auth.Load())
	require.Equal(t, Connected, c.State())
}

func TestConnectionRejectedHandshake(t *testing.T) {
	srv := newSocketServer(t, func(_ int32, conn *websocket.Conn) { holdOpen(conn) })

	c := NewConnection(fakeCreds{id: "u1", token: "wrong"}, zerolog.Nop())
	err := c.Open(context.Background(), SocketConfig{URL: srv.wsURL(), Event: "student_message"}, func(models.Message) {})
	require.Error(t, err)
	require.True(t, IsStatus(err, http.StatusUnauthorized))
	require.Equal(t, Disconnected, c.State())
}

func TestConnectionReconnectsAfterDrop(t *testing.T) {
	srv := newSocketServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			conn.Close()
			return
		}
		writeMessageFrame(t, conn, models.UserStudent, msgAt("after-reconnect", "c1", "u2", "u1", 1))
		holdOpen(conn)
	})

	var got collector
	c := NewConnection(fakeCreds{id: "u1", typ: models.UserStudent, token: "tok"}, zerolog.Nop())
	defer c.Close()

	err := c.Open(context.Background(), SocketConfig{
		URL:     srv.wsURL(),
		Event:   "student_message",
		Retries: 3,
		MaxWait: 100 * time.Millisecond,
	}, got.handle)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(got.ids()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(2), srv.accepted.Load())
	require.Eventually(t, func() bool { return c.State() == Connected }, time.Second, time.Millisecond)
}

func TestConnectionNoReconnectWhenDisabled(t *testing.T) {
	srv := newSocketServer(t, func(_ int32, conn *websocket.Conn) { conn.Close() })

	var states []ConnState
	var mu sync.Mutex
	c := NewConnection(fakeCreds{id: "u1", typ: models.UserStudent, token: "tok"}, zerolog.Nop())
	c.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), SocketConfig{URL: srv.wsURL(), Event: "student_message"}, func(models.Message) {}))
	require.Eventually(t, func() bool { return c.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), srv.accepted.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ConnState{Connecting, Connected, Disconnected}, states)
}
