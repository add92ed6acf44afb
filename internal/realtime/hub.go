// Package realtime pushes message frames to connected websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
)

const (
	writeWait    = 10 * time.Second
	readWait     = 60 * time.Second
	pingInterval = 20 * time.Second
)

// Fanout relays frames between backend instances and tracks users with a
// live socket on any of them. *store.RedisStore implements it.
type Fanout interface {
	Publish(ctx context.Context, userID string, frame models.Frame) error
	Subscribe(ctx context.Context, logger zerolog.Logger, fn func(userID string, frame models.Frame)) error
	AddPresence(ctx context.Context, userID string) error
	RefreshPresence(ctx context.Context, userID string) error
	RemovePresence(ctx context.Context, userID string) error
	IsPresent(ctx context.Context, userID string) (bool, error)
}

// client is one websocket connection. Writes are serialised by mu.
type client struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

func (c *client) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return w.Close()
}

func (c *client) control(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
}

// Hub tracks sockets per user and delivers frames to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	fanout   Fanout
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewHub creates a hub. fanout may be nil for a single instance.
func NewHub(logger zerolog.Logger, fanout Fanout) *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		fanout:  fanout,
		logger:  logger.With().Str("component", "hub").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:      func(r *http.Request) bool { return true },
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Run relays frames published by other instances until ctx is done. Without
// a fanout it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.fanout == nil {
		<-ctx.Done()
		return nil
	}
	return h.fanout.Subscribe(ctx, h.logger, func(userID string, frame models.Frame) {
		h.deliverLocal(userID, frame)
	})
}

// Deliver pushes msg to every socket of userID, whose role selects the event
// name.
func (h *Hub) Deliver(ctx context.Context, userID string, userType models.UserType, msg *models.Message) error {
	frame, err := models.NewMessageFrame(userType, msg)
	if err != nil {
		return err
	}
	if h.fanout != nil {
		return h.fanout.Publish(ctx, userID, frame)
	}
	h.deliverLocal(userID, frame)
	return nil
}

// deliverLocal writes frame to the sockets held by this instance and returns
// how many received it.
func (h *Hub) deliverLocal(userID string, frame models.Frame) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if err := c.write(frame); err != nil {
			h.logger.Debug().Err(err).Str("user", userID).Msg("frame write failed")
			continue
		}
		n++
	}
	if n > 0 {
		metrics.FramesDelivered.WithLabelValues(frame.Event).Add(float64(n))
	}
	return n
}

// Online reports whether userID has a live socket.
func (h *Hub) Online(ctx context.Context, userID string) bool {
	h.mu.RLock()
	local := len(h.clients[userID]) > 0
	h.mu.RUnlock()
	if local || h.fanout == nil {
		return local
	}

	present, err := h.fanout.IsPresent(ctx, userID)
	if err != nil {
		h.logger.Debug().Err(err).Str("user", userID).Msg("presence lookup failed")
		return false
	}
	return present
}

// Connections returns the number of sockets held by this instance.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Serve upgrades the request and holds the socket for userID until either
// side closes it. Inbound messages are ignored; the socket is push only.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	c := &client{conn: conn, userID: userID}
	h.register(c)
	defer h.unregister(c)

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(c, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Str("user", userID).Msg("socket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
	}
}

func (h *Hub) keepAlive(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.control(websocket.PingMessage, nil); err != nil {
				return
			}
			if h.fanout != nil {
				_ = h.fanout.RefreshPresence(context.Background(), c.userID)
			}
		case <-done:
			return
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	metrics.SocketConnections.Inc()
	if h.fanout != nil {
		if err := h.fanout.AddPresence(context.Background(), c.userID); err != nil {
			h.logger.Warn().Err(err).Str("user", c.userID).Msg("presence update failed")
		}
	}
	h.logger.Debug().Str("user", c.userID).Msg("socket registered")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()

	metrics.SocketConnections.Dec()
	if h.fanout != nil {
		if err := h.fanout.RemovePresence(context.Background(), c.userID); err != nil {
			h.logger.Warn().Err(err).Str("user", c.userID).Msg("presence update failed")
		}
	}

	_ = c.control(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

// CloseAll asks every socket to go away, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		_ = c.control(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		_ = c.conn.Close()
	}
}

// Wait blocks until every Serve call has returned.
func (h *Hub) Wait() {
	h.wg.Wait()
}
