package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/coursechat/internal/models"
)

// Notifier alerts the user about an inbound message.
type Notifier interface {
	Notify(msg models.Message)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(models.Message) {}

// BeepNotifier plays the system beep for inbound messages and, when Desktop
// is set, also raises a desktop notification. It is throttled to one sound
// per minGap; pass a zero minGap to sound on every message.
type BeepNotifier struct {
	Desktop bool
	Title   string
	logger  zerolog.Logger

	mu     sync.Mutex
	last   time.Time
	minGap time.Duration
}

// NewBeepNotifier creates a notifier that beeps at most once per minGap. A
// zero minGap disables the throttle.
func NewBeepNotifier(logger zerolog.Logger, minGap time.Duration) *BeepNotifier {
	return &BeepNotifier{
		Title:  "Course chat",
		logger: logger,
		minGap: minGap,
	}
}

// Notify implements Notifier. Failures are best-effort and only logged.
func (n *BeepNotifier) Notify(msg models.Message) {
	if !n.allow(time.Now()) {
		return
	}

	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		n.logger.Debug().Err(err).Msg("notification sound failed")
	}

	if !n.Desktop {
		return
	}
	body := msg.Body
	if len(body) > 100 {
		body = body[:97] + "..."
	}
	if err := beeep.Notify(n.Title, fmt.Sprintf("New message: %s", body), ""); err != nil {
		n.logger.Debug().Err(err).Msg("desktop notification failed")
	}
}

// allow reports whether a notification at now passes the throttle.
func (n *BeepNotifier) allow(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.minGap > 0 && !n.last.IsZero() && now.Sub(n.last) < n.minGap {
		return false
	}
	n.last = now
	return true
}
