package ui

import (
	"os"

	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/lipgloss"
)

// TermProfile holds the detected terminal color profile. Computed once at
// package init so every style helper can branch without re-detecting.
var TermProfile colorprofile.Profile

func init() {
	TermProfile = colorprofile.Detect(os.Stdout, os.Environ())
}

// ThemeFg returns the given hex color for ANSI256+ terminals and a safe
// ANSI white (color 7) for 16-color or lower terminals.
func ThemeFg(hex string) lipgloss.TerminalColor {
	if TermProfile < colorprofile.ANSI256 {
		return lipgloss.ANSIColor(7)
	}
	return lipgloss.Color(hex)
}

// Theme carries the board palette and the styles built from it.
type Theme struct {
	Renderer *lipgloss.Renderer

	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Subtext   lipgloss.AdaptiveColor

	Open       lipgloss.AdaptiveColor
	Closed     lipgloss.AdaptiveColor
	PR         lipgloss.AdaptiveColor
	Epic       lipgloss.AdaptiveColor
	Optimistic lipgloss.AdaptiveColor
	Stale      lipgloss.AdaptiveColor
	Error      lipgloss.AdaptiveColor

	Border    lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor

	Base      lipgloss.Style
	Selected  lipgloss.Style
	Card      lipgloss.Style
	Column    lipgloss.Style
	Focused   lipgloss.Style
	Header    lipgloss.Style
	HeaderDim lipgloss.Style

	MutedText     lipgloss.Style
	SecondaryText lipgloss.Style
	PrimaryBold   lipgloss.Style
	NumberText    lipgloss.Style
	PRBadge       lipgloss.Style
	EpicBadge     lipgloss.Style
	EstimateBadge lipgloss.Style
	PendingMark   lipgloss.Style
	StaleText     lipgloss.Style
	ErrorText     lipgloss.Style
	OKText        lipgloss.Style
}

// DefaultTheme returns the Dracula-inspired adaptive theme.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	t := Theme{
		Renderer: r,

		Primary:   lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"},
		Secondary: lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
		Subtext:   lipgloss.AdaptiveColor{Light: "#666666", Dark: "#BFBFBF"},

		Open:       lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"},
		Closed:     lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
		PR:         lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"},
		Epic:       lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"},
		Optimistic: lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"},
		Stale:      lipgloss.AdaptiveColor{Light: "#B06800", Dark: "#FFB86C"},
		Error:      lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"},

		Border:    lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#44475A"},
		Highlight: lipgloss.AdaptiveColor{Light: "#E0E0E0", Dark: "#44475A"},
		Muted:     lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
	}

	t.Base = r.NewStyle().Foreground(ColorText)

	t.Card = r.NewStyle().
		Border(lipgloss.HiddenBorder(), false, false, false, true).
		PaddingLeft(1)

	t.Selected = r.NewStyle().
		Background(t.Highlight).
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(t.Primary).
		PaddingLeft(1).
		Bold(true)

	t.Column = r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border)

	t.Focused = t.Column.BorderForeground(t.Primary)

	t.Header = r.NewStyle().
		Background(t.Primary).
		Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#282A36"}).
		Bold(true).
		Padding(0, 1)

	t.HeaderDim = r.NewStyle().
		Foreground(t.Subtext).
		Bold(true).
		Padding(0, 1)

	t.MutedText = r.NewStyle().Foreground(ColorMuted)
	t.SecondaryText = r.NewStyle().Foreground(t.Secondary)
	t.PrimaryBold = r.NewStyle().Foreground(t.Primary).Bold(true)
	t.NumberText = r.NewStyle().Foreground(t.Open).Bold(true)
	t.PRBadge = r.NewStyle().Foreground(t.PR).Bold(true)
	t.EpicBadge = r.NewStyle().Foreground(t.Epic).Bold(true)
	t.EstimateBadge = r.NewStyle().Foreground(ThemeFg("#F1FA8C"))
	t.PendingMark = r.NewStyle().Foreground(t.Optimistic).Bold(true)
	t.StaleText = r.NewStyle().Foreground(t.Stale).Bold(true)
	t.ErrorText = r.NewStyle().Foreground(t.Error).Bold(true)
	t.OKText = r.NewStyle().Foreground(t.Open)

	return t
}

// NumberStyle colors an issue number by state.
func (t Theme) NumberStyle(c CardView) lipgloss.Style {
	if c.Closed {
		return t.NumberText.Foreground(t.Closed)
	}
	return t.NumberText
}
