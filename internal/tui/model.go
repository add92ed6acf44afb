// Package tui is a terminal front end for the chat pane.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eldtechnologies/coursechat/clients/go/chat"
	"github.com/eldtechnologies/coursechat/internal/models"
)

type focus int

const (
	focusInput focus = iota
	focusList
)

// Options configure the terminal UI.
type Options struct {
	Pane  *chat.Pane
	Feed  *Feed
	Me    models.User
	Names map[string]string // user id to display name
	// Conversation to open on start; the most recent one when empty.
	Initial string
}

type (
	updateMsg  chat.Update
	startedMsg struct{ err error }
	doneMsg    struct{ err error }
	loadedMsg  struct {
		before chat.ScrollPosition
		change chat.Change
		err    error
	}
)

// Model implements the chat UI on top of a chat.Pane.
type Model struct {
	ctx   context.Context
	pane  *chat.Pane
	feed  *Feed
	me    models.User
	names map[string]string

	initial  string
	viewport viewport.Model
	input    textinput.Model
	convs    []models.Conversation
	cursor   int
	focus    focus
	status   string
	errText  string
	conn     chat.ConnState
	width    int
	height   int
}

// Run starts the UI and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	program := tea.NewProgram(New(ctx, opts), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	return err
}

// New creates the model.
func New(ctx context.Context, opts Options) *Model {
	input := textinput.New()
	input.Placeholder = "Write a message"
	input.Prompt = "› "
	input.CharLimit = 4096
	input.Focus()

	names := opts.Names
	if names == nil {
		names = make(map[string]string)
	}

	return &Model{
		ctx:      ctx,
		pane:     opts.Pane,
		feed:     opts.Feed,
		me:       opts.Me,
		names:    names,
		initial:  opts.Initial,
		viewport: viewport.New(0, 0),
		input:    input,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.start(), m.wait())
}

func (m *Model) start() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.pane.Start(m.ctx)}
	}
}

// wait blocks for the next pane update.
func (m *Model) wait() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case u := <-m.feed.ch:
			return updateMsg(u)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) selectConversation(id string) tea.Cmd {
	return func() tea.Msg {
		return doneMsg{err: m.pane.Select(m.ctx, id)}
	}
}

func (m *Model) send(body string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.pane.Send(m.ctx, body)
		return doneMsg{err: err}
	}
}

func (m *Model) retry(localID string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.pane.Retry(m.ctx, localID)
		return doneMsg{err: err}
	}
}

func (m *Model) loadOlder(before chat.ScrollPosition) tea.Cmd {
	m.status = "loading older messages…"
	return func() tea.Msg {
		change, err := m.pane.LoadOlder(m.ctx, before)
		return loadedMsg{before: before, change: change, err: err}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.render()
		m.viewport.GotoBottom()

	case startedMsg:
		if msg.err != nil {
			m.setErr(msg.err)
			break
		}
		m.convs = m.pane.Conversations()
		target := m.initial
		if target == "" && len(m.convs) > 0 {
			target = m.convs[0].ID
		}
		if target != "" {
			m.moveCursorTo(target)
			cmds = append(cmds, m.selectConversation(target))
		}

	case updateMsg:
		m.apply(chat.Update(msg))
		cmds = append(cmds, m.wait())

	case loadedMsg:
		m.status = ""
		if msg.err != nil {
			m.setErr(msg.err)
			break
		}
		m.render()
		if msg.change.Prepended > 0 {
			m.scrollTo(m.pane.FinishLoading(msg.before, m.position()))
		}

	case doneMsg:
		if msg.err != nil {
			m.setErr(msg.err)
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd, m.afterScroll())

	case tea.KeyMsg:
		cmds = append(cmds, m.handleKey(msg))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "esc":
		return tea.Quit
	case "tab":
		if m.focus == focusInput {
			m.focus = focusList
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return nil
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return tea.Batch(cmd, m.afterScroll())
	case "ctrl+r":
		if id := m.lastFailed(); id != "" {
			return m.retry(id)
		}
		return nil
	}

	if m.focus == focusList {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.convs)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.convs) {
				m.focus = focusInput
				m.input.Focus()
				return m.selectConversation(m.convs[m.cursor].ID)
			}
		}
		return nil
	}

	switch msg.String() {
	case "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return tea.Batch(cmd, m.afterScroll())
	case "enter":
		body := strings.TrimSpace(m.input.Value())
		if body == "" {
			return nil
		}
		m.input.SetValue("")
		m.errText = ""
		return m.send(body)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

// apply folds a pane update into the view.
func (m *Model) apply(u chat.Update) {
	if u.Err != nil {
		m.setErr(u.Err)
	}
	m.conn = u.Conn
	if u.ConversationsChanged || !u.Change.Empty() {
		active := ""
		if m.cursor < len(m.convs) {
			active = m.convs[m.cursor].ID
		}
		m.convs = m.pane.Conversations()
		if active != "" {
			m.moveCursorTo(active)
		}
	}
	if !u.Change.Empty() || u.Scroll.Action != chat.ScrollNone {
		m.render()
		m.scrollTo(u.Scroll)
	}
}

// afterScroll reports the viewport position to the pane and starts loading
// history when the top is reached.
func (m *Model) afterScroll() tea.Cmd {
	if m.pane.Active() == "" {
		return nil
	}
	pos := m.position()
	if m.pane.Scrolled(pos) {
		return m.loadOlder(pos)
	}
	return nil
}

func (m *Model) position() chat.ScrollPosition {
	return chat.ScrollPosition{
		Offset:         m.viewport.YOffset,
		ViewportHeight: m.viewport.Height,
		ContentHeight:  m.viewport.TotalLineCount(),
	}
}

func (m *Model) scrollTo(cmd chat.ScrollCommand) {
	switch cmd.Action {
	case chat.ScrollToBottom:
		m.viewport.GotoBottom()
	case chat.ScrollToOffset:
		m.viewport.SetYOffset(cmd.Offset)
	}
}

func (m *Model) layout() {
	w := m.width - sidebarWidth - 2
	if w < 10 {
		w = 10
	}
	h := m.height - 4 // header, input, status
	if h < 3 {
		h = 3
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 4
}

func (m *Model) render() {
	msgs := m.pane.Messages()
	lines := make([]string, 0, len(msgs)+1)
	if m.pane.HasMore() {
		lines = append(lines, statusStyle.Render("  ↑ older messages"))
	}
	for _, msg := range msgs {
		lines = append(lines, m.formatMessage(msg))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func (m *Model) formatMessage(msg models.Message) string {
	name := peerStyle.Render(m.displayName(msg.SenderID))
	if msg.SenderID == m.me.ID {
		name = ownStyle.Render("you")
	}

	line := fmt.Sprintf("%s %s %s", timeStyle.Render(msg.CreatedAt.Local().Format("15:04")), name, msg.Body)
	if msg.SenderID == m.me.ID {
		line += " " + statusGlyph(msg.Status)
	}
	return lipgloss.NewStyle().Width(m.viewport.Width).Render(line)
}

func statusGlyph(s models.MessageStatus) string {
	switch s {
	case models.StatusPending:
		return statusStyle.Render("…")
	case models.StatusSent:
		return statusStyle.Render("✓")
	case models.StatusDelivered:
		return statusStyle.Render("✓✓")
	case models.StatusSeen:
		return lipgloss.NewStyle().Foreground(accent).Render("✓✓")
	case models.StatusFailed:
		return errorStyle.Render("failed, ctrl+r to retry")
	}
	return ""
}

func (m *Model) displayName(userID string) string {
	if name, ok := m.names[userID]; ok && name != "" {
		return name
	}
	if len(userID) > 8 {
		return userID[:8]
	}
	return userID
}

func (m *Model) lastFailed() string {
	msgs := m.pane.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == models.StatusFailed {
			return msgs[i].LocalID
		}
	}
	return ""
}

func (m *Model) moveCursorTo(id string) {
	for i, c := range m.convs {
		if c.ID == id {
			m.cursor = i
			return
		}
	}
}

func (m *Model) setErr(err error) {
	m.errText = err.Error()
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 {
		return "loading…"
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.input.View(),
		m.statusLine(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar(), main)
}

func (m *Model) header() string {
	active := m.pane.Active()
	if active == "" {
		return headerStyle.Render("no conversation")
	}
	for _, c := range m.convs {
		if c.ID == active {
			return headerStyle.Render(m.displayName(c.Peer(m.me.ID)))
		}
	}
	return headerStyle.Render(active)
}

func (m *Model) sidebar() string {
	var b strings.Builder
	title := "Conversations"
	if n := m.pane.TotalUnread(); n > 0 {
		title += " " + badgeStyle.Render(fmt.Sprint(n))
	}
	b.WriteString(title + "\n\n")

	active := m.pane.Active()
	for i, c := range m.convs {
		label := m.displayName(c.Peer(m.me.ID))
		if c.UnreadCount > 0 {
			label += " " + badgeStyle.Render(fmt.Sprint(c.UnreadCount))
		}
		switch {
		case m.focus == focusList && i == m.cursor:
			label = cursorItemStyle.Render(label)
		case c.ID == active:
			label = activeItemStyle.Render(label)
		}
		b.WriteString(label + "\n")
	}

	return sidebarStyle.Height(m.height).Render(b.String())
}

func (m *Model) statusLine() string {
	if m.errText != "" {
		return errorStyle.Render(m.errText)
	}
	parts := []string{m.conn.String(), m.pane.ScrollState().String()}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	parts = append(parts, "tab: switch  enter: send  ctrl+r: retry  esc: quit")
	return statusStyle.Render(strings.Join(parts, " · "))
}
