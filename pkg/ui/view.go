package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/zenboard/pkg/metrics"
)

// View paints the current snapshot.
func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}
	defer metrics.Timer(metrics.UIRender)()

	prefs := m.prefs()
	fr := BuildFrame(m.opts.Store.Current(), m.focus, prefs)

	var body string
	switch {
	case m.picker != nil:
		body = lipgloss.Place(prefs.Width, max(m.height-3, 1), lipgloss.Center, lipgloss.Center,
			FocusedPanelStyle.Padding(0, 1).Render(m.picker.View()))
	case fr.Empty && fr.Version == 0:
		body = lipgloss.Place(prefs.Width, max(m.height-3, 1), lipgloss.Center, lipgloss.Center,
			m.spin.View()+" Waiting for GitHub and ZenHub…")
	case len(fr.Columns) == 0:
		msg := "No pipelines to show."
		if fr.Hidden > 0 {
			msg = fmt.Sprintf("All %d pipelines are hidden. Press ctrl+x ctrl+h to show them.", fr.Hidden)
		}
		body = lipgloss.Place(prefs.Width, max(m.height-3, 1), lipgloss.Center, lipgloss.Center,
			m.theme.MutedText.Render(msg))
	default:
		body = m.renderBoard(fr, prefs)
	}

	if m.showDetail && m.picker == nil {
		pane := FocusedPanelStyle.
			Width(detailWidth).
			Height(max(m.height-5, 3)).
			Render(m.detail.View())
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, " ", pane)
	}

	helpView := m.help.ShortHelpView(m.keys.ShortHelp())
	if m.showHelp {
		helpView = m.help.FullHelpView(m.keys.FullHelp())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTitle(fr),
		body,
		m.renderStatus(fr),
		helpView,
	)
}

func (m Model) renderTitle(fr Frame) string {
	title := m.theme.Header.Render("zb")
	repo := m.opts.Repository
	if repo == "" {
		repo = "board"
	}
	parts := []string{title, m.theme.PrimaryBold.Render(repo)}
	if fr.First > 0 {
		parts = append(parts, m.theme.MutedText.Render(fmt.Sprintf("◀ %d", fr.First)))
	}
	if right := len(fr.Columns) - fr.Last; right > 0 {
		parts = append(parts, m.theme.MutedText.Render(fmt.Sprintf("%d ▶", right)))
	}
	if m.chord {
		parts = append(parts, m.theme.PendingMark.Render("ctrl+x …"))
	}
	return strings.Join(parts, " ")
}

func (m Model) renderBoard(fr Frame, prefs Prefs) string {
	cols := make([]string, 0, fr.Last-fr.First)
	for i := fr.First; i < fr.Last; i++ {
		cols = append(cols, m.renderColumn(fr.Columns[i], i == fr.Focused, fr.RowsPerColumn, prefs))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, joinWithGap(cols, strings.Repeat(" ", columnGap))...)
}

func joinWithGap(items []string, gap string) []string {
	out := make([]string, 0, len(items)*2)
	for i, s := range items {
		if i > 0 {
			out = append(out, gap)
		}
		out = append(out, s)
	}
	return out
}

func (m Model) renderColumn(col Column, focused bool, rows int, prefs Prefs) string {
	width := prefs.CardWidth
	t := m.theme

	header := t.HeaderDim.Render(truncate(col.Name, width-2))
	if focused {
		header = t.Header.Render(truncate(col.Name, width-2))
	}
	lines := []string{
		header,
		t.MutedText.Render(" " + truncate(col.Subtitle, width-1)),
	}

	if col.Above > 0 {
		lines = append(lines, t.MutedText.Render(fmt.Sprintf(" ↑ %d more", col.Above)))
	} else {
		lines = append(lines, "")
	}
	for _, c := range col.Cards {
		lines = append(lines, m.renderCard(c, focused, width, prefs.ShowLabels))
	}
	for i := len(col.Cards); i < rows; i++ {
		lines = append(lines, strings.Repeat("\n", cardLines-1))
	}
	if col.Below > 0 {
		lines = append(lines, t.MutedText.Render(fmt.Sprintf(" ↓ %d more", col.Below)))
	} else {
		lines = append(lines, "")
	}

	style := t.Column
	if focused {
		style = t.Focused
	}
	return style.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderCard draws a card as two text rows and a spacer row.
func (m Model) renderCard(c CardView, focused bool, width int, showLabels bool) string {
	t := m.theme
	inner := width - 3

	var head strings.Builder
	if c.Optimistic {
		head.WriteString(t.PendingMark.Render("~"))
	}
	head.WriteString(t.NumberStyle(c).Render(c.Number.String()))
	used := lipgloss.Width(head.String())
	if c.IsPR {
		head.WriteString(" " + t.PRBadge.Render("PR"))
		used += 3
	}
	head.WriteString(" " + truncate(singleLine(c.Title), inner-used-1))

	var meta []string
	if c.Estimate != nil {
		meta = append(meta, t.EstimateBadge.Render(formatEstimate(*c.Estimate)+"p"))
	}
	if c.IsEpic {
		meta = append(meta, t.EpicBadge.Render("EPIC"))
	}
	if c.Epic != nil {
		meta = append(meta, t.SecondaryText.Render("↳"+c.Epic.String()))
	}
	second := strings.Join(meta, " ")
	if showLabels && len(c.Labels) > 0 {
		room := inner - lipgloss.Width(second)
		if second != "" {
			room--
		}
		if chips := RenderLabelChips(t.Renderer, c.Labels, room); chips != "" {
			if second != "" {
				second += " "
			}
			second += chips
		}
	}

	text := head.String() + "\n" + second
	style := t.Card
	if focused && c.Selected {
		style = t.Selected
	}
	return style.Width(width - 2).Render(text) + "\n"
}

func (m Model) renderStatus(fr Frame) string {
	t := m.theme
	now := m.opts.Now()

	var parts []string
	if m.busy() {
		parts = append(parts, m.spin.View())
	} else {
		parts = append(parts, t.OKText.Render("✓"))
	}

	issues := "issues " + FormatAge(fr.IssuesFetchedAt, now)
	if fr.IssuesStale {
		parts = append(parts, t.StaleText.Render(issues+" (stale)"))
	} else {
		parts = append(parts, t.MutedText.Render(issues))
	}
	board := "board " + FormatAge(fr.BoardFetchedAt, now)
	if fr.BoardStale {
		parts = append(parts, t.StaleText.Render(board+" (stale)"))
	} else {
		parts = append(parts, t.MutedText.Render(board))
	}

	if n := m.pending(); n > 0 {
		parts = append(parts, t.PendingMark.Render(fmt.Sprintf("%d pending", n)))
	}
	if fr.Orphans > 0 {
		parts = append(parts, t.StaleText.Render(fmt.Sprintf("%d orphaned", fr.Orphans)))
	}
	if fr.Hidden > 0 {
		parts = append(parts, t.MutedText.Render(fmt.Sprintf("%d hidden", fr.Hidden)))
	}
	if m.status != "" {
		style := t.SecondaryText
		if m.statusErr {
			style = t.ErrorText
		}
		parts = append(parts, style.Render(truncate(m.status, max(m.width/2, 20))))
	}
	return strings.Join(parts, t.MutedText.Render(" │ "))
}
