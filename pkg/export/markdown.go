package export

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// Package-level compiled regex for slug creation (avoids recompilation per call)
var slugNonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateBoardMarkdown writes a markdown report of the board: a summary
// table per pipeline, a table of contents and one section per card.
func GenerateBoardMarkdown(opts BoardSnapshotOptions, generated time.Time) string {
	var sb strings.Builder
	snap := opts.Snapshot
	cols := boardColumns(opts)

	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = "Board Snapshot"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "*Generated: %s*\n\n", generated.Format(time.RFC1123))

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Pipeline | Issues | Points |\n|----------|--------|--------|\n")
	for _, c := range cols {
		fmt.Fprintf(&sb, "| %s | %d | %s |\n", tableCell(c.Name), len(c.Cards), formatEstimate(estimateTotal(c.Cards)))
	}
	sb.WriteString("\n")
	if len(snap.Orphans) > 0 {
		orphans := make([]string, len(snap.Orphans))
		for i, n := range snap.Orphans {
			orphans[i] = n.String()
		}
		fmt.Fprintf(&sb, "> Board entries without an issue: %s\n\n", strings.Join(orphans, ", "))
	}

	slugCounts := make(map[string]int, len(snap.Cards))
	slugs := make(map[model.IssueNumber]string, len(snap.Cards))
	for _, c := range cols {
		for _, card := range c.Cards {
			slugs[card.Number] = uniqueSlug(createSlug(cardHeadingText(card)), slugCounts)
		}
	}

	// Table of Contents
	sb.WriteString("## Table of Contents\n\n")
	for _, c := range cols {
		fmt.Fprintf(&sb, "- **%s** %s\n", c.Name, c.Subtitle)
		for _, card := range c.Cards {
			fmt.Fprintf(&sb, "  - [%s](#%s)\n", cardHeadingText(card), slugs[card.Number])
		}
	}
	sb.WriteString("\n---\n\n")

	for _, c := range cols {
		fmt.Fprintf(&sb, "## %s\n\n", c.Name)
		if len(c.Cards) == 0 {
			sb.WriteString("*No issues.*\n\n")
			continue
		}
		for _, card := range c.Cards {
			writeCardSection(&sb, card, slugs[card.Number])
		}
	}
	return sb.String()
}

func writeCardSection(sb *strings.Builder, c model.Card, slug string) {
	fmt.Fprintf(sb, "<a id=\"%s\"></a>\n\n", slug)
	fmt.Fprintf(sb, "### %s\n\n", cardHeadingText(c))

	kind := "Issue"
	if c.IsPullRequest {
		kind = "Pull request"
	}
	if c.IsEpic {
		kind = "Epic"
	}
	sb.WriteString("| Property | Value |\n|----------|-------|\n")
	fmt.Fprintf(sb, "| **Type** | %s |\n", kind)
	fmt.Fprintf(sb, "| **State** | %s |\n", c.State)
	if c.Author != "" {
		fmt.Fprintf(sb, "| **Author** | @%s |\n", tableCell(c.Author))
	}
	if c.Estimate != nil {
		fmt.Fprintf(sb, "| **Estimate** | %s |\n", formatEstimate(*c.Estimate))
	}
	if c.Epic != nil {
		fmt.Fprintf(sb, "| **Epic** | %s |\n", c.Epic)
	}
	if len(c.Labels) > 0 {
		names := make([]string, len(c.Labels))
		for i, l := range c.Labels {
			names[i] = tableCell(l.Name)
		}
		fmt.Fprintf(sb, "| **Labels** | %s |\n", strings.Join(names, ", "))
	}
	if c.URL != "" {
		fmt.Fprintf(sb, "| **URL** | %s |\n", c.URL)
	}
	sb.WriteString("\n")

	if body := strings.TrimSpace(c.Body); body != "" {
		sb.WriteString(body + "\n\n")
	}
	sb.WriteString("---\n\n")
}

func cardHeadingText(c model.Card) string {
	return fmt.Sprintf("%s %s", c.Number, c.Title)
}

func estimateTotal(cards []model.Card) float64 {
	var total float64
	for _, c := range cards {
		if c.Estimate != nil {
			total += *c.Estimate
		}
	}
	return total
}

// tableCell keeps a value on one table row.
func tableCell(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func uniqueSlug(base string, counts map[string]int) string {
	if base == "" {
		base = "section"
	}
	if count, ok := counts[base]; ok {
		count++
		counts[base] = count
		return fmt.Sprintf("%s-%d", base, count)
	}
	counts[base] = 0
	return base
}

// createSlug creates a URL-friendly slug from heading text.
func createSlug(text string) string {
	slug := strings.ToLower(text)
	slug = slugNonAlphanumericRegex.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
