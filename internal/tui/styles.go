package tui

import (
	"github.com/charmbracelet/lipgloss"
)

const sidebarWidth = 26

var (
	accent    = lipgloss.Color("63")
	muted     = lipgloss.Color("242")
	ownColor  = lipgloss.Color("117")
	peerColor = lipgloss.Color("216")
	errColor  = lipgloss.Color("203")
	badgeBg   = lipgloss.Color("161")

	sidebarStyle = lipgloss.NewStyle().
			Width(sidebarWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(muted).
			PaddingRight(1)

	activeItemStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	cursorItemStyle = lipgloss.NewStyle().Reverse(true)
	badgeStyle      = lipgloss.NewStyle().Background(badgeBg).Foreground(lipgloss.Color("255")).Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(accent).PaddingLeft(1)
	timeStyle   = lipgloss.NewStyle().Foreground(muted)
	ownStyle    = lipgloss.NewStyle().Foreground(ownColor).Bold(true)
	peerStyle   = lipgloss.NewStyle().Foreground(peerColor).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Foreground(errColor)
)
