// Package ui holds the lipgloss styles shared by the terminal views.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	ColorRed     = lipgloss.Color("#FF5F5F")
	ColorGreen   = lipgloss.Color("#5FD75F")
	ColorYellow  = lipgloss.Color("#FFD75F")
	ColorCyan    = lipgloss.Color("#5FD7FF")
	ColorGray    = lipgloss.Color("#767676")
	ColorDimGray = lipgloss.Color("#4E4E4E")
	ColorWhite   = lipgloss.Color("#EEEEEE")
	ColorMagenta = lipgloss.Color("#D787FF")
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorCyan)

	DimStyle = lipgloss.NewStyle().Foreground(ColorGray)

	DividerStyle = lipgloss.NewStyle().Foreground(ColorDimGray)

	PanelTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorWhite)

	TimestampStyle = lipgloss.NewStyle().Foreground(ColorGray)

	// PartialTextStyle marks the live, not yet committed segment.
	PartialTextStyle = lipgloss.NewStyle().Foreground(ColorYellow)

	ErrorStyle     = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	ErrorTextStyle = lipgloss.NewStyle().Foreground(ColorRed)

	FooterKeyStyle  = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	FooterDescStyle = lipgloss.NewStyle().Foreground(ColorGray)

	SpinnerStyle = lipgloss.NewStyle().Foreground(ColorMagenta)

	LiveBadgeStyle   = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	ScrollBadgeStyle = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
)

// Status badges, one per recorder state.
var (
	RecordingBadge  = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	PausedBadge     = lipgloss.NewStyle().Foreground(ColorYellow).Bold(true)
	ReadyBadge      = lipgloss.NewStyle().Foreground(ColorGreen)
	ConnectingBadge = lipgloss.NewStyle().Foreground(ColorMagenta)
	SavingBadge     = lipgloss.NewStyle().Foreground(ColorCyan)
	CompletedBadge  = lipgloss.NewStyle().Foreground(ColorGreen).Bold(true)
	ErrorBadge      = lipgloss.NewStyle().Foreground(ColorRed).Bold(true)
	IdleBadge       = lipgloss.NewStyle().Foreground(ColorGray)
)

// ConnStyle colors a socket state label.
func ConnStyle(state string) lipgloss.Style {
	switch state {
	case "open":
		return lipgloss.NewStyle().Foreground(ColorGreen)
	case "connecting":
		return lipgloss.NewStyle().Foreground(ColorYellow)
	default:
		return lipgloss.NewStyle().Foreground(ColorGray)
	}
}
