package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/ids"
	"github.com/eldtechnologies/coursechat/internal/metrics"
	"github.com/eldtechnologies/coursechat/internal/models"
)

// Fetcher loads conversation history. FetchMessages returns the most recent
// limit messages; FetchPage returns page n of the history split into pages
// of limit messages, counted back from the newest.
type Fetcher interface {
	FetchMessages(ctx context.Context, conversationID string, limit int) (*models.MessagePage, error)
	FetchPage(ctx context.Context, conversationID string, limit, page int) (*models.MessagePage, error)
}

// IngestResult says what AppendIncoming did with a message.
type IngestResult int

const (
	Ignored IngestResult = iota
	Inserted
	Updated
	Reconciled
)

func (r IngestResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Reconciled:
		return "reconciled"
	default:
		return "ignored"
	}
}

// Change describes how a window mutation affected the rendered list.
type Change struct {
	ConversationID string
	Reset          bool // a different conversation was loaded
	Prepended      int  // older messages revealed at the head
	Appended       int  // messages added after the head
	Updated        int  // entries changed in place
}

// Empty reports whether nothing visible changed.
func (c Change) Empty() bool {
	return !c.Reset && c.Prepended == 0 && c.Appended == 0 && c.Updated == 0
}

// Window is the paginated message list of the open conversation. It is the
// only writer of message state; the connection and the UI go through its
// methods.
//
// Messages are kept oldest first with unique ids. The limit only grows while
// a conversation is open and everything resets when another one is opened.
type Window struct {
	mu      sync.Mutex
	fetcher Fetcher
	logger  zerolog.Logger

	conversationID string
	generation     uint64
	cancel         context.CancelFunc
	loading        bool

	limit    int
	total    int
	messages []models.Message
}

// NewWindow creates an empty window backed by fetcher.
func NewWindow(fetcher Fetcher, logger zerolog.Logger) *Window {
	return &Window{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "window").Logger(),
	}
}

// Open loads the most recent limit messages of conversationID, replacing
// whatever was open before. A fetch still running for the previous
// conversation is cancelled and its result discarded.
func (w *Window) Open(ctx context.Context, conversationID string, limit int) (Change, error) {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.generation++
	gen := w.generation
	w.conversationID = conversationID
	w.limit = limit
	w.total = 0
	w.messages = nil
	w.loading = true
	fctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	page, err := w.fetcher.FetchMessages(fctx, conversationID, limit)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		w.logger.Debug().Str("conversation", conversationID).Msg("dropping stale window fetch")
		return Change{}, ErrStale
	}
	w.loading = false
	if err != nil {
		return Change{}, err
	}

	change := w.mergeLocked(page)
	change.Reset = true
	return change, nil
}

// IncreaseLimit grows the limit by step and re-fetches, merging the newly
// revealed older messages at the head. It does nothing once every message of
// the conversation is loaded or while another load is in flight.
//
// No request asks for more than models.MaxPageSize messages. Past that
// depth, or when the server clamps a page, the missing history is read
// page by page starting below the messages already loaded.
func (w *Window) IncreaseLimit(ctx context.Context, step int) (Change, error) {
	w.mu.Lock()
	if w.conversationID == "" {
		w.mu.Unlock()
		return Change{}, ErrNoConversation
	}
	confirmed := w.confirmedLocked()
	if w.loading || step <= 0 || confirmed >= w.total {
		w.mu.Unlock()
		return Change{}, nil
	}

	// Realtime arrivals may have pushed the window past the limit.
	base := w.limit
	if confirmed > base {
		base = confirmed
	}
	newLimit := base + step

	gen := w.generation
	conversationID := w.conversationID
	w.loading = true
	fctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	pages, err := w.fetchOlder(fctx, conversationID, confirmed, newLimit)

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		return Change{}, ErrStale
	}
	w.loading = false
	if err != nil {
		return Change{}, err
	}

	w.limit = newLimit
	change := Change{ConversationID: conversationID}
	for _, page := range pages {
		c := w.mergeLocked(page)
		change.Prepended += c.Prepended
		change.Appended += c.Appended
		change.Updated += c.Updated
	}
	return change, nil
}

// fetchOlder returns the pages revealing the newest limit messages, given
// that the newest loaded of them are already held.
func (w *Window) fetchOlder(ctx context.Context, conversationID string, loaded, limit int) ([]*models.MessagePage, error) {
	if limit > models.MaxPageSize {
		size := limit - loaded
		if size > models.MaxPageSize {
			size = models.MaxPageSize
		}
		return w.fetchRange(ctx, conversationID, loaded, limit, size)
	}

	page, err := w.fetcher.FetchMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if page.Limit <= 0 || page.Limit >= limit || len(page.Data) < page.Limit {
		return []*models.MessagePage{page}, nil
	}

	// The server served fewer than asked for; read the rest below it.
	from := loaded
	if page.Limit > from {
		from = page.Limit
	}
	rest, err := w.fetchRange(ctx, conversationID, from, limit, page.Limit)
	if err != nil {
		return nil, err
	}
	return append([]*models.MessagePage{page}, rest...), nil
}

// fetchRange reads the pages of the given size covering the messages from
// offset up to limit, both counted back from the newest.
func (w *Window) fetchRange(ctx context.Context, conversationID string, offset, limit, size int) ([]*models.MessagePage, error) {
	var pages []*models.MessagePage
	for n := offset/size + 1; (n-1)*size < limit; n++ {
		page, err := w.fetcher.FetchPage(ctx, conversationID, size, n)
		if err != nil {
			return nil, err
		}
		if page.Limit > 0 && page.Limit < size {
			// The server pages by a smaller size; start over with it.
			return w.fetchRange(ctx, conversationID, offset, limit, page.Limit)
		}
		pages = append(pages, page)
		if len(page.Data) < size {
			break
		}
	}
	return pages, nil
}

// mergeLocked folds a fetched page into the window without disturbing
// entries that are already present.
func (w *Window) mergeLocked(page *models.MessagePage) Change {
	change := Change{ConversationID: w.conversationID}
	if page == nil {
		return change
	}
	w.total = page.Total

	var head time.Time
	hasHead := len(w.messages) > 0
	if hasHead {
		head = w.messages[0].CreatedAt
	}

	var fresh []models.Message
	for _, m := range page.Data {
		if m.ConversationID != "" && m.ConversationID != w.conversationID {
			continue
		}
		if i := w.indexLocked(m.ID); i >= 0 {
			if w.promoteLocked(i, m.Status) {
				change.Updated++
			}
			continue
		}
		if m.LocalID != "" {
			if i := w.indexLocked(m.LocalID); i >= 0 {
				w.messages[i] = m
				change.Updated++
				continue
			}
		}
		fresh = append(fresh, m)
	}

	for _, m := range fresh {
		if hasHead && m.CreatedAt.Before(head) {
			change.Prepended++
		} else {
			change.Appended++
		}
	}

	if len(fresh) > 0 || change.Updated > 0 {
		w.messages = append(w.messages, fresh...)
		sortMessages(w.messages)
	}
	return change
}

// AppendIncoming applies a message pushed over the realtime channel. A
// message for another conversation is ignored, an id already present updates
// that entry in place, and a message carrying the local id of a pending
// entry replaces it.
func (w *Window) AppendIncoming(msg models.Message) IngestResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := w.appendIncomingLocked(msg)
	metrics.ClientMessagesIngested.WithLabelValues(result.String()).Inc()
	return result
}

func (w *Window) appendIncomingLocked(msg models.Message) IngestResult {
	if w.conversationID == "" || msg.ConversationID != w.conversationID || msg.ID == "" {
		return Ignored
	}

	if i := w.indexLocked(msg.ID); i >= 0 {
		if w.promoteLocked(i, msg.Status) {
			return Updated
		}
		return Ignored
	}

	if msg.LocalID != "" {
		if i := w.indexLocked(msg.LocalID); i >= 0 {
			w.messages[i] = msg
			w.total++
			sortMessages(w.messages)
			return Reconciled
		}
	}

	// Older than the loaded head while history is still unloaded: it belongs
	// to a page we have not fetched, so inserting it would leave a gap.
	if len(w.messages) > 0 && msg.CreatedAt.Before(w.messages[0].CreatedAt) && w.confirmedLocked() < w.total {
		return Ignored
	}

	if msg.Status == "" {
		msg.Status = models.StatusDelivered
	}
	w.insertLocked(msg)
	w.total++
	return Inserted
}

// AppendOptimistic adds a message the user just sent, before the backend
// acknowledged it. It returns the entry as stored, with a local id and the
// pending status.
func (w *Window) AppendOptimistic(msg models.Message) (models.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conversationID == "" {
		return models.Message{}, ErrNoConversation
	}
	if msg.ConversationID == "" {
		msg.ConversationID = w.conversationID
	}
	if msg.ConversationID != w.conversationID {
		return models.Message{}, ErrStale
	}
	if msg.ID == "" {
		msg.ID = ids.NewLocalID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.LocalID = msg.ID
	msg.Status = models.StatusPending

	w.insertLocked(msg)
	return msg, nil
}

// Reconcile swaps the pending entry localID for the server's copy. If the
// server copy already arrived over the socket there is nothing left to do.
func (w *Window) Reconcile(localID string, server models.Message) (IngestResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if server.ConversationID != w.conversationID {
		return Ignored, ErrStale
	}
	if w.indexLocked(server.ID) >= 0 {
		return Ignored, nil
	}

	i := w.indexLocked(localID)
	if i < 0 {
		return Ignored, ErrUnknownMessage
	}

	server.LocalID = localID
	if !server.Status.Confirmed() {
		server.Status = models.StatusSent
	}
	w.messages[i] = server
	w.total++
	sortMessages(w.messages)
	return Reconciled, nil
}

// Fail marks the pending entry localID as failed so the UI can offer a
// retry.
func (w *Window) Fail(localID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexLocked(localID)
	if i < 0 {
		return ErrUnknownMessage
	}
	if w.messages[i].Status == models.StatusPending {
		w.messages[i].Status = models.StatusFailed
	}
	return nil
}

// Resend moves a failed entry back to pending and returns it.
func (w *Window) Resend(localID string) (models.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexLocked(localID)
	if i < 0 || w.messages[i].Status != models.StatusFailed {
		return models.Message{}, ErrUnknownMessage
	}
	w.messages[i].Status = models.StatusPending
	return w.messages[i], nil
}

// MarkSeen sets the seen status on the given ids and returns how many
// entries changed.
func (w *Window) MarkSeen(conversationID string, messageIDs []string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if conversationID != w.conversationID {
		return 0
	}
	n := 0
	for _, id := range messageIDs {
		if i := w.indexLocked(id); i >= 0 && w.promoteLocked(i, models.StatusSeen) {
			n++
		}
	}
	return n
}

// Close cancels any in-flight fetch and empties the window.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.generation++
	w.conversationID = ""
	w.limit = 0
	w.total = 0
	w.messages = nil
	w.loading = false
}

// Messages returns a copy of the window, oldest first.
func (w *Window) Messages() []models.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// ConversationID returns the open conversation, or "".
func (w *Window) ConversationID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conversationID
}

// Limit returns the current page size accumulator.
func (w *Window) Limit() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.limit
}

// Total returns the server's message count for the open conversation.
func (w *Window) Total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Len returns the number of entries, pending ones included.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.messages)
}

// Loading reports whether a fetch is in flight.
func (w *Window) Loading() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loading
}

// HasMore reports whether older history remains on the server.
func (w *Window) HasMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.confirmedLocked() < w.total
}

func (w *Window) confirmedLocked() int {
	n := 0
	for i := range w.messages {
		if w.messages[i].Status.Confirmed() {
			n++
		}
	}
	return n
}

func (w *Window) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := len(w.messages) - 1; i >= 0; i-- {
		if w.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// insertLocked places msg after every entry that is not newer than it.
func (w *Window) insertLocked(msg models.Message) {
	i := sort.Search(len(w.messages), func(i int) bool {
		return w.messages[i].CreatedAt.After(msg.CreatedAt)
	})
	w.messages = append(w.messages, models.Message{})
	copy(w.messages[i+1:], w.messages[i:])
	w.messages[i] = msg
}

// promoteLocked moves entry i forward to status if that is a later state.
func (w *Window) promoteLocked(i int, status models.MessageStatus) bool {
	if statusRank(status) <= statusRank(w.messages[i].Status) {
		return false
	}
	w.messages[i].Status = status
	return true
}

func statusRank(s models.MessageStatus) int {
	switch s {
	case models.StatusSent:
		return 1
	case models.StatusDelivered:
		return 2
	case models.StatusSeen:
		return 3
	default:
		return 0
	}
}

func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
