package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// FormatAge returns a relative time string (e.g., "2h ago", "3d ago")
// for a timestamp measured against now.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncateRunesHelper truncates a string to max visual width (cells), adding suffix if needed.
func truncateRunesHelper(s string, maxWidth int, suffix string) string {
	if maxWidth <= 0 {
		return ""
	}

	width := runewidth.StringWidth(s)
	if width <= maxWidth {
		return s
	}

	suffixWidth := runewidth.StringWidth(suffix)
	if suffixWidth > maxWidth {
		return runewidth.Truncate(suffix, maxWidth, "")
	}

	targetWidth := maxWidth - suffixWidth
	return runewidth.Truncate(s, targetWidth, "") + suffix
}

// truncate truncates s to maxWidth cells
func truncate(s string, maxWidth int) string {
	return truncateRunesHelper(s, maxWidth, "…")
}

// singleLine folds newlines and tabs so a title never breaks a card row.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func formatEstimate(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// pipelineSubtitle describes a column as "(empty)", "(1 issue)" or
// "(N issues)", followed by the point total when any card is estimated.
func pipelineSubtitle(count, estimated int, total float64) string {
	var s string
	switch count {
	case 0:
		s = "(empty)"
	case 1:
		s = "(1 issue)"
	default:
		s = fmt.Sprintf("(%d issues)", count)
	}
	if estimated > 0 {
		s += " · " + formatEstimate(total) + " pts"
	}
	return s
}
