package tui

import (
	"github.com/eldtechnologies/coursechat/clients/go/chat"
)

// Feed carries pane updates into the bubbletea loop. Pass Push as
// PaneOptions.OnUpdate.
type Feed struct {
	ch chan chat.Update
}

// NewFeed creates a feed with room for size pending updates.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = 64
	}
	return &Feed{ch: make(chan chat.Update, size)}
}

// Push queues u. When the UI falls behind the update is dropped; the next
// render reads the pane state anyway, so only errors would be lost.
func (f *Feed) Push(u chat.Update) {
	select {
	case f.ch <- u:
	default:
	}
}
