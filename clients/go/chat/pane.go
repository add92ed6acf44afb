package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/models"
)

// API is the part of the backend the pane talks to. *Client implements it.
type API interface {
	Fetcher
	SeenMarker
	ConversationLister
	SendMessage(ctx context.Context, conversationID string, req SendMessageRequest) (*models.Message, error)
}

// Update is emitted to the UI after every visible change.
type Update struct {
	ConversationID       string
	Change               Change
	Scroll               ScrollCommand
	ConversationsChanged bool
	Conn                 ConnState
	Err                  error
}

// PaneOptions configures a Pane. Zero values select the defaults.
type PaneOptions struct {
	PageSize         int
	LoadStep         int
	ScrollThreshold  int
	TopEpsilon       int
	SocketURL        string
	ReconnectRetries int
	ReconnectMaxWait time.Duration

	Notifier Notifier
	Logger   *zerolog.Logger
	OnUpdate func(Update)
}

// Pane wires the pipeline for one logged in user: the open conversation's
// window, scroll coordinator, read-state synchronizer, conversation list and
// realtime connection.
type Pane struct {
	creds    Credentials
	api      API
	opts     PaneOptions
	logger   zerolog.Logger
	notifier Notifier

	window *Window
	scroll *ScrollCoordinator
	read   *ReadState
	list   *ConversationList
	conn   *Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active string
	closed bool
}

// NewPane creates a pane for the user behind creds.
func NewPane(creds Credentials, api API, opts PaneOptions) *Pane {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.LoadStep <= 0 {
		opts.LoadStep = 10
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	userID := creds.UserID()
	list := NewConversationList(userID)
	window := NewWindow(api, logger)
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pane{
		creds:    creds,
		api:      api,
		opts:     opts,
		logger:   logger.With().Str("component", "pane").Str("user", userID).Logger(),
		notifier: notifier,
		window:   window,
		scroll:   NewScrollCoordinator(opts.ScrollThreshold, opts.TopEpsilon),
		read:     NewReadState(api, userID, list, window, logger),
		list:     list,
		conn:     NewConnection(creds, logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.conn.OnStateChange(func(s ConnState) {
		p.emit(Update{ConversationID: p.Active(), Conn: s})
	})
	return p
}

// Start loads the conversation list.
func (p *Pane) Start(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.list.Load(ctx, p.api); err != nil {
		return err
	}
	p.emit(Update{ConversationsChanged: true})
	return nil
}

// Select opens conversationID: the socket is re-opened for it, the window is
// reset to the most recent page and the viewport jumps to the bottom.
func (p *Pane) Select(ctx context.Context, conversationID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.active = conversationID
	p.mu.Unlock()

	p.read.Forget()
	cmd := p.scroll.Reset()

	if p.opts.SocketURL != "" {
		cfg := SocketConfig{
			URL:            p.opts.SocketURL,
			Event:          models.EventName(p.creds.UserType()),
			ConversationID: conversationID,
			Retries:        p.opts.ReconnectRetries,
			MaxWait:        p.opts.ReconnectMaxWait,
		}
		// History still loads over REST when the socket is down.
		if err := p.conn.Open(ctx, cfg, p.HandleIncoming); err != nil {
			p.logger.Warn().Err(err).Str("conversation", conversationID).Msg("realtime unavailable")
		}
	}

	change, err := p.window.Open(ctx, conversationID, p.opts.PageSize)
	if err != nil {
		if !errors.Is(err, ErrStale) {
			p.emit(Update{ConversationID: conversationID, Err: err})
		}
		return err
	}
	p.emit(Update{ConversationID: conversationID, Change: change, Scroll: cmd})
	p.syncRead(ctx, conversationID)
	return nil
}

// Send posts body to the open conversation. The message shows up at once as
// pending and is replaced by the server's copy, or marked failed.
func (p *Pane) Send(ctx context.Context, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyBody
	}
	if p.isClosed() {
		return nil, ErrClosed
	}
	conversationID := p.Active()
	if conversationID == "" {
		return nil, ErrNoConversation
	}

	userID := p.creds.UserID()
	recipientID := ""
	if conv, ok := p.list.Get(conversationID); ok {
		recipientID = conv.Peer(userID)
	}

	local, err := p.window.AppendOptimistic(models.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		RecipientID:    recipientID,
		Body:           body,
	})
	if err != nil {
		return nil, err
	}
	p.emit(Update{
		ConversationID: conversationID,
		Change:         Change{ConversationID: conversationID, Appended: 1},
		Scroll:         p.scroll.OnOwnMessage(),
	})

	return p.deliver(ctx, local)
}

// Retry re-sends a failed message.
func (p *Pane) Retry(ctx context.Context, localID string) (*models.Message, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	local, err := p.window.Resend(localID)
	if err != nil {
		return nil, err
	}
	p.emit(Update{
		ConversationID: local.ConversationID,
		Change:         Change{ConversationID: local.ConversationID, Updated: 1},
	})
	return p.deliver(ctx, local)
}

func (p *Pane) deliver(ctx context.Context, local models.Message) (*models.Message, error) {
	srv, err := p.api.SendMessage(ctx, local.ConversationID, SendMessageRequest{
		SenderID:    local.SenderID,
		RecipientID: local.RecipientID,
		Body:        local.Body,
		LocalID:     local.LocalID,
	})
	if err != nil {
		if ferr := p.window.Fail(local.LocalID); ferr != nil && !errors.Is(ferr, ErrUnknownMessage) {
			p.logger.Debug().Err(ferr).Msg("could not mark message failed")
		}
		p.logger.Warn().Err(err).Str("conversation", local.ConversationID).Msg("send failed")
		p.emit(Update{
			ConversationID: local.ConversationID,
			Change:         Change{ConversationID: local.ConversationID, Updated: 1},
			Err:            err,
		})
		return nil, err
	}

	res, rerr := p.window.Reconcile(local.LocalID, *srv)
	if rerr != nil && !errors.Is(rerr, ErrStale) {
		p.logger.Debug().Err(rerr).Str("local_id", local.LocalID).Msg("reconcile skipped")
	}
	listChanged := p.list.Apply(*srv, p.Active())

	upd := Update{ConversationID: srv.ConversationID, ConversationsChanged: listChanged}
	if res == Reconciled {
		upd.Change = Change{ConversationID: srv.ConversationID, Updated: 1}
	}
	p.emit(upd)
	return srv, nil
}

// HandleIncoming routes a realtime message. The conversation list always sees
// it; the window only when it belongs to the open conversation.
func (p *Pane) HandleIncoming(msg models.Message) {
	if p.isClosed() {
		return
	}
	userID := p.creds.UserID()
	if msg.SenderID != userID {
		p.notifier.Notify(msg)
	}

	active := p.Active()
	upd := Update{ConversationID: active}
	upd.ConversationsChanged = p.list.Apply(msg, active)

	inserted := false
	if msg.ConversationID == active {
		switch p.window.AppendIncoming(msg) {
		case Inserted:
			inserted = true
			upd.Change = Change{ConversationID: active, Appended: 1}
			upd.Scroll = p.scroll.OnNewMessage()
		case Updated, Reconciled:
			upd.Change = Change{ConversationID: active, Updated: 1}
		}
	}
	p.emit(upd)

	if inserted && msg.SenderID != userID {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.syncRead(p.ctx, active)
		}()
	}
}

// Scrolled feeds a viewport scroll. It returns true when older history should
// be loaded with LoadOlder.
func (p *Pane) Scrolled(pos ScrollPosition) bool {
	return p.scroll.OnScroll(pos, p.window.HasMore())
}

// LoadOlder reveals the next page of history. before is the viewport
// geometry at the time of the request; when the change prepended messages
// the UI re-renders and passes before and the new geometry to FinishLoading
// to keep its place.
func (p *Pane) LoadOlder(ctx context.Context, before ScrollPosition) (Change, error) {
	if p.isClosed() {
		return Change{}, ErrClosed
	}
	if p.scroll.State() != LoadingOlder && !p.scroll.BeginLoading() {
		return Change{}, nil
	}

	change, err := p.window.IncreaseLimit(ctx, p.opts.LoadStep)
	if err != nil || change.Prepended == 0 {
		// Nothing to anchor; FinishLoading is only needed after a prepend.
		p.scroll.FinishLoading(before, before)
		if err != nil {
			if !errors.Is(err, ErrStale) {
				p.emit(Update{ConversationID: p.Active(), Err: err})
			}
			return change, err
		}
		if change.Empty() {
			return change, nil
		}
	}

	p.emit(Update{ConversationID: change.ConversationID, Change: change})
	p.syncRead(ctx, change.ConversationID)
	return change, nil
}

// FinishLoading returns the command that keeps the viewport anchored after
// LoadOlder prepended messages.
func (p *Pane) FinishLoading(before, after ScrollPosition) ScrollCommand {
	return p.scroll.FinishLoading(before, after)
}

// Close shuts the socket down and stops background work. The pane cannot be
// used afterwards.
func (p *Pane) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.active = ""
	p.mu.Unlock()

	p.cancel()
	err := p.conn.Close()
	p.wg.Wait()
	p.window.Close()
	p.read.Forget()
	return err
}

func (p *Pane) syncRead(ctx context.Context, conversationID string) {
	if p.read.Sync(ctx, conversationID, p.window.Messages()) {
		p.emit(Update{
			ConversationID:       conversationID,
			Change:               Change{ConversationID: conversationID, Updated: 1},
			ConversationsChanged: true,
		})
	}
}

func (p *Pane) emit(u Update) {
	if u.Conn == Disconnected {
		u.Conn = p.conn.State()
	}
	if p.opts.OnUpdate != nil {
		p.opts.OnUpdate(u)
	}
}

func (p *Pane) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Active returns the open conversation id, or "".
func (p *Pane) Active() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Messages returns the open conversation's messages, oldest first.
func (p *Pane) Messages() []models.Message { return p.window.Messages() }

// Conversations returns the sidebar entries.
func (p *Pane) Conversations() []models.Conversation { return p.list.Snapshot() }

// TotalUnread sums the unread badges.
func (p *Pane) TotalUnread() int { return p.list.TotalUnread() }

// ScrollState returns the scroll coordinator's state.
func (p *Pane) ScrollState() ScrollState { return p.scroll.State() }

// ConnState returns the realtime connection state.
func (p *Pane) ConnState() ConnState { return p.conn.State() }

// HasMore reports whether older history can be loaded.
func (p *Pane) HasMore() bool { return p.window.HasMore() }

// Window exposes the message store.
func (p *Pane) Window() *Window { return p.window }

// List exposes the conversation list.
func (p *Pane) List() *ConversationList { return p.list }
