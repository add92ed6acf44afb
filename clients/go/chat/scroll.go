package chat

import (
	"sync"
)

// ScrollState is where the user is in the message viewport.
type ScrollState int

const (
	AtBottom ScrollState = iota
	ScrolledUp
	LoadingOlder
)

func (s ScrollState) String() string {
	switch s {
	case AtBottom:
		return "at-bottom"
	case ScrolledUp:
		return "scrolled-up"
	case LoadingOlder:
		return "loading-older"
	default:
		return "unknown"
	}
}

// Default geometry, in pixels for graphical viewports.
const (
	DefaultScrollThreshold = 400
	DefaultTopEpsilon      = 5
)

// ScrollPosition is the viewport geometry in any consistent unit (pixels,
// terminal lines).
type ScrollPosition struct {
	Offset         int // distance scrolled from the top
	ViewportHeight int
	ContentHeight  int
}

// DistanceFromBottom is how far the bottom of the viewport is from the end
// of the content.
func (p ScrollPosition) DistanceFromBottom() int {
	d := p.ContentHeight - p.ViewportHeight - p.Offset
	if d < 0 {
		return 0
	}
	return d
}

// ScrollAction is what the viewport should do after a change.
type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	ScrollToBottom
	ScrollToOffset
)

// ScrollCommand is an instruction for the viewport owner.
type ScrollCommand struct {
	Action ScrollAction
	Smooth bool
	Offset int // for ScrollToOffset
}

// ScrollCoordinator decides between following new messages and holding the
// user's reading position. Auto-scroll only happens while the
// prevent-auto-scroll flag is clear.
type ScrollCoordinator struct {
	mu        sync.Mutex
	state     ScrollState
	prevent   bool
	threshold int
	epsilon   int
}

// NewScrollCoordinator creates a coordinator starting at the bottom.
// A non-positive threshold or a negative epsilon selects the default.
func NewScrollCoordinator(threshold, epsilon int) *ScrollCoordinator {
	if threshold <= 0 {
		threshold = DefaultScrollThreshold
	}
	if epsilon < 0 {
		epsilon = DefaultTopEpsilon
	}
	return &ScrollCoordinator{threshold: threshold, epsilon: epsilon}
}

// State returns the current state.
func (s *ScrollCoordinator) State() ScrollState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PreventAutoScroll reports whether automatic scrolling is suppressed.
func (s *ScrollCoordinator) PreventAutoScroll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prevent
}

// NearBottom reports whether the viewport is within the threshold of the
// newest message.
func (s *ScrollCoordinator) NearBottom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == AtBottom
}

// OnScroll feeds a user scroll. It returns true when the caller should load
// older history; the coordinator is then in LoadingOlder until
// FinishLoading.
func (s *ScrollCoordinator) OnScroll(pos ScrollPosition, hasMore bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == LoadingOlder {
		return false
	}

	if pos.DistanceFromBottom() > s.threshold {
		s.state = ScrolledUp
		s.prevent = true
	} else {
		s.state = AtBottom
		s.prevent = false
	}

	if s.state == ScrolledUp && pos.Offset <= s.epsilon && hasMore {
		s.state = LoadingOlder
		return true
	}
	return false
}

// BeginLoading enters LoadingOlder on an explicit request (a key binding or
// a "load more" button). It returns false if a load is already running.
func (s *ScrollCoordinator) BeginLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == LoadingOlder {
		return false
	}
	s.state = LoadingOlder
	s.prevent = true
	return true
}

// FinishLoading leaves LoadingOlder. before and after are the geometry
// around the prepend; the returned command keeps the content that was on
// screen at the same place.
func (s *ScrollCoordinator) FinishLoading(before, after ScrollPosition) ScrollCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	grown := after.ContentHeight - before.ContentHeight
	if grown < 0 {
		grown = 0
	}
	target := before.Offset + grown

	if before.DistanceFromBottom() > s.threshold || grown > 0 {
		s.state = ScrolledUp
		s.prevent = true
	} else {
		s.state = AtBottom
		s.prevent = false
	}

	if grown == 0 {
		return ScrollCommand{Action: ScrollNone}
	}
	return ScrollCommand{Action: ScrollToOffset, Offset: target}
}

// OnNewMessage decides what to do when a message is appended to the tail.
func (s *ScrollCoordinator) OnNewMessage() ScrollCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == AtBottom && !s.prevent {
		return ScrollCommand{Action: ScrollToBottom, Smooth: true}
	}
	return ScrollCommand{Action: ScrollNone}
}

// OnOwnMessage is used when the local user sends: the pane always follows
// their own message.
func (s *ScrollCoordinator) OnOwnMessage() ScrollCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == LoadingOlder {
		return ScrollCommand{Action: ScrollNone}
	}
	s.state = AtBottom
	s.prevent = false
	return ScrollCommand{Action: ScrollToBottom, Smooth: true}
}

// Reset returns to the bottom for a newly opened conversation.
func (s *ScrollCoordinator) Reset() ScrollCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = AtBottom
	s.prevent = false
	return ScrollCommand{Action: ScrollToBottom}
}
