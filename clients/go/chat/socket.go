package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// ConnState is the lifecycle state of the realtime connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 5 * time.Second
	readWait         = 60 * time.Second
)

// SocketConfig selects the realtime endpoint and the event a connection
// listens for. Two configs are the same connection when they compare equal.
type SocketConfig struct {
	URL            string
	Event          string
	ConversationID string

	// Reconnect attempts after the connection drops. Zero disables them.
	Retries int
	MaxWait time.Duration
}

// Handler receives every inbound message matching the configured event. It
// runs on the read goroutine and must not call Connection.Close.
type Handler func(msg models.Message)

// Connection keeps at most one live websocket for a session.
type Connection struct {
	creds  Credentials
	dialer *websocket.Dialer
	logger zerolog.Logger

	opMu sync.Mutex // serialises Open and Close

	mu      sync.Mutex
	cfg     SocketConfig
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	state   ConnState
	onState func(ConnState)
}

// NewConnection creates a disconnected connection authenticated by creds.
func NewConnection(creds Credentials, logger zerolog.Logger) *Connection {
	return &Connection{
		creds: creds,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger.With().Str("component", "socket").Logger(),
	}
}

// OnStateChange registers fn to be called after every state transition.
func (c *Connection) OnStateChange(fn func(ConnState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open connects with cfg, closing any previous connection first. Opening the
// config that is already running does nothing.
func (c *Connection) Open(ctx context.Context, cfg SocketConfig, handler Handler) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	running := false
	if c.cancel != nil && c.cfg == cfg {
		select {
		case <-c.done:
			// gave up reconnecting; start over
		default:
			running = true
		}
	}
	c.mu.Unlock()
	if running {
		return nil
	}

	c.closeCurrent()

	c.setState(Connecting)
	conn, err := c.dial(ctx, cfg)
	if err != nil {
		c.setState(Disconnected)
		c.logger.Warn().Err(err).Str("event", cfg.Event).Msg("socket connect failed")
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cfg = cfg
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	c.setState(Connected)

	c.logger.Info().Str("event", cfg.Event).Str("conversation", cfg.ConversationID).Msg("socket connected")
	go c.run(runCtx, conn, cfg, handler, done)
	return nil
}

// Close tears down the connection and waits for the read loop to exit. It is
// safe to call on a closed connection.
func (c *Connection) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.closeCurrent()
	return nil
}

func (c *Connection) closeCurrent() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.cfg = SocketConfig{}
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	// Cancel before taking the conn so a concurrent redial sees it.
	cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	<-done
	c.setState(Disconnected)
}

func (c *Connection) run(ctx context.Context, conn *websocket.Conn, cfg SocketConfig, handler Handler, done chan struct{}) {
	defer close(done)

	for {
		err := c.readLoop(conn, cfg, handler)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		c.setState(Disconnected)
		c.logger.Warn().Err(err).Str("event", cfg.Event).Msg("socket dropped")
		if cfg.Retries <= 0 {
			return
		}

		conn, err = c.redial(ctx, cfg)
		if err != nil {
			if ctx.Err() == nil {
				c.setState(Disconnected)
				c.logger.Error().Err(err).Int("retries", cfg.Retries).Msg("socket reconnect gave up")
			}
			return
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()
		c.setState(Connected)
		c.logger.Info().Str("event", cfg.Event).Msg("socket reconnected")
	}
}

func (c *Connection) readLoop(conn *websocket.Conn, cfg SocketConfig, handler Handler) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		if frame.Event != cfg.Event {
			continue
		}
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			c.logger.Warn().Err(err).Str("event", frame.Event).Msg("dropping malformed frame")
			continue
		}
		handler(msg)
	}
}

func (c *Connection) redial(ctx context.Context, cfg SocketConfig) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if cfg.MaxWait > 0 {
		b.MaxInterval = cfg.MaxWait
	}
	b.MaxElapsedTime = 0
	b.Reset()

	var conn *websocket.Conn
	op := func() error {
		metrics.ClientReconnects.Inc()
		c.setState(Connecting)
		cn, err := c.dial(ctx, cfg)
		if err != nil {
			if IsStatus(err, http.StatusUnauthorized) || errors.Is(err, ErrSessionClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Dur("wait", wait).Msg("socket reconnect failed")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.Retries-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Connection) dial(ctx context.Context, cfg SocketConfig) (*websocket.Conn, error) {
	token, err := c.creds.Token()
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	if cfg.ConversationID != "" {
		q.Set("conversation", cfg.ConversationID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dctx, u.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Message: "socket handshake rejected"}
		}
		return nil, err
	}
	return conn, nil
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	fn := c.onState
	c.mu.Unlock()

	if changed && fn != nil {
		fn(s)
	}
}
