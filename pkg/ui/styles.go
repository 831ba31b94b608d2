package ui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// SpaceXS is the chip padding in cells.
const SpaceXS = 1

var (
	ColorText    = lipgloss.AdaptiveColor{Light: "#1A1A1A", Dark: "#F8F8F2"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#6272A4"}
	ColorPrimary = lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"}
)

// FocusedPanelStyle frames the detail pane and the move picker.
var FocusedPanelStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorPrimary)

const defaultLabelColor = "BBBBBB"

// labelHex normalizes a label color to "#rrggbb", falling back to grey.
func labelHex(hex string) string {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return "#" + defaultLabelColor
	}
	if _, err := strconv.ParseUint(hex, 16, 32); err != nil {
		return "#" + defaultLabelColor
	}
	return "#" + strings.ToUpper(hex)
}

// contrastText picks dark or light text for a label background by luma.
func contrastText(hex string) string {
	v, _ := strconv.ParseUint(strings.TrimPrefix(labelHex(hex), "#"), 16, 32)
	r, g, b := float64(v>>16&0xff), float64(v>>8&0xff), float64(v&0xff)
	if 0.299*r+0.587*g+0.114*b > 150 {
		return "#111111"
	}
	return "#FFFFFF"
}

// RenderLabelChip renders a label name on its own color.
func RenderLabelChip(r *lipgloss.Renderer, l model.Label) string {
	bg := labelHex(l.Color)
	return r.NewStyle().
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(contrastText(bg))).
		Padding(0, SpaceXS).
		Render(l.Name)
}

// RenderLabelChips renders label chips separated by a space, stopping
// before the row would exceed maxWidth cells. The count of dropped labels
// is appended as "+N".
func RenderLabelChips(r *lipgloss.Renderer, labels []model.Label, maxWidth int) string {
	var parts []string
	used := 0
	for i, l := range labels {
		chip := RenderLabelChip(r, l)
		w := lipgloss.Width(chip)
		if used > 0 {
			w++
		}
		rest := len(labels) - i - 1
		reserve := 0
		if rest > 0 {
			reserve = len(strconv.Itoa(rest)) + 2
		}
		if used+w+reserve > maxWidth {
			more := "+" + strconv.Itoa(len(labels)-i)
			if used+len(more)+1 <= maxWidth {
				parts = append(parts, r.NewStyle().Foreground(ColorMuted).Render(more))
			}
			break
		}
		parts = append(parts, chip)
		used += w
	}
	return strings.Join(parts, " ")
}
