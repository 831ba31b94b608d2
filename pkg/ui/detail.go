package ui

import (
	"fmt"
	"strings"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// refreshDetail re-renders the detail pane when the selected card or the
// snapshot changed. force re-renders regardless.
func (m *Model) refreshDetail(force bool) {
	if !m.showDetail {
		return
	}
	snap := m.opts.Store.Current()
	_, card, ok := selected(BuildFrame(snap, m.focus, m.prefs()))
	if !ok {
		m.detail.SetContent(m.theme.MutedText.Render("No card selected."))
		m.detailNumber = 0
		return
	}
	if !force && card.Number == m.detailNumber && snap.Version == m.detailVersion {
		return
	}
	c, _ := snap.Card(card.Number)
	text := cardMarkdown(c, snap.IsOptimistic(c.Number))
	if m.md != nil {
		if out, err := m.md.Render(text); err == nil {
			text = out
		}
	}
	if card.Number != m.detailNumber {
		m.detail.GotoTop()
	}
	m.detail.SetContent(text)
	m.detailNumber = card.Number
	m.detailVersion = snap.Version
}

// cardMarkdown describes a card for the detail pane.
func cardMarkdown(c model.Card, optimistic bool) string {
	var sb strings.Builder
	kind := "Issue"
	if c.IsPullRequest {
		kind = "Pull request"
	}
	fmt.Fprintf(&sb, "# %s %s\n\n", c.Number, c.Title)

	meta := []string{kind, string(c.State)}
	if c.Author != "" {
		meta = append(meta, "by @"+c.Author)
	}
	if optimistic {
		meta = append(meta, "*saving…*")
	}
	sb.WriteString(strings.Join(meta, " · ") + "\n\n")

	if c.Positioned {
		line := "**Pipeline:** " + c.PipelineName
		if c.Estimate != nil {
			line += " · **Estimate:** " + formatEstimate(*c.Estimate)
		}
		if c.IsEpic {
			line += " · **Epic**"
		}
		if c.Epic != nil {
			line += fmt.Sprintf(" · **In epic:** %s", *c.Epic)
		}
		sb.WriteString(line + "\n\n")
	} else {
		sb.WriteString("*Not on the board*\n\n")
	}

	if len(c.Labels) > 0 {
		names := make([]string, len(c.Labels))
		for i, l := range c.Labels {
			names[i] = "`" + l.Name + "`"
		}
		sb.WriteString("**Labels:** " + strings.Join(names, " ") + "\n\n")
	}
	if c.URL != "" {
		sb.WriteString(c.URL + "\n\n")
	}
	sb.WriteString("---\n\n")
	if strings.TrimSpace(c.Body) == "" {
		sb.WriteString("*No description.*\n")
	} else {
		sb.WriteString(c.Body + "\n")
	}
	return sb.String()
}
