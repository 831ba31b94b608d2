// Package model defines the records fetched from the issue tracker and the
// board service, and the merged card/board/snapshot values derived from them.
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IssueNumber identifies an issue within a repository. It is the join key
// between issue records and board records.
type IssueNumber int

func (n IssueNumber) String() string {
	return "#" + strconv.Itoa(int(n))
}

// IssueState is the open/closed state reported by the issue tracker.
type IssueState string

const (
	StateOpen   IssueState = "open"
	StateClosed IssueState = "closed"
)

// IsValid returns true if the state is a recognized value.
func (s IssueState) IsValid() bool {
	return s == StateOpen || s == StateClosed
}

// Label is an issue label with its hex colour (without the leading '#').
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// IssueRecord is an issue as fetched from the issue tracker. Records are
// immutable once fetched and are superseded wholesale by a newer fetch.
type IssueRecord struct {
	Number        IssueNumber `json:"number"`
	Title         string      `json:"title"`
	Body          string      `json:"body,omitempty"`
	Labels        []Label     `json:"labels,omitempty"`
	Author        string      `json:"author,omitempty"`
	State         IssueState  `json:"state"`
	IsPullRequest bool        `json:"is_pull_request,omitempty"`
	URL           string      `json:"url,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ClosedAt      *time.Time  `json:"closed_at,omitempty"`
}

// Validate checks that the record carries the fields a card needs.
func (r *IssueRecord) Validate() error {
	if r.Number <= 0 {
		return fmt.Errorf("issue number must be positive, got %d", r.Number)
	}
	if r.State != "" && !r.State.IsValid() {
		return fmt.Errorf("issue %s: invalid state %q", r.Number, r.State)
	}
	seen := make(map[string]bool, len(r.Labels))
	for _, l := range r.Labels {
		if seen[l.Name] {
			return fmt.Errorf("issue %s: duplicate label %q", r.Number, l.Name)
		}
		seen[l.Name] = true
	}
	return nil
}

// NormalizeLabels returns labels with duplicate names removed (first wins),
// sorted by name.
func NormalizeLabels(labels []Label) []Label {
	if len(labels) == 0 {
		return nil
	}
	out := make([]Label, 0, len(labels))
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l.Name == "" || seen[l.Name] {
			continue
		}
		seen[l.Name] = true
		out = append(out, Label{Name: l.Name, Color: strings.TrimPrefix(l.Color, "#")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// BoardRecord is the board service's view of one issue.
type BoardRecord struct {
	Number       IssueNumber  `json:"number"`
	PipelineID   string       `json:"pipeline_id"`
	PipelineName string       `json:"pipeline_name"`
	Position     int          `json:"position"`
	Estimate     *float64     `json:"estimate,omitempty"`
	IsEpic       bool         `json:"is_epic,omitempty"`
	Epic         *IssueNumber `json:"epic,omitempty"`
}

// PipelineRef names one board column in board order.
type PipelineRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BoardData is the result of one board fetch: the ordered pipeline list
// (which may include empty pipelines) and the per-issue records.
type BoardData struct {
	Pipelines []PipelineRef `json:"pipelines"`
	Records   []BoardRecord `json:"records"`
}

// Card is the merged, immutable view of an issue plus its board placement.
// A Card exists iff an IssueRecord exists; Positioned is false when the
// board service has no record for it.
type Card struct {
	IssueRecord

	Positioned   bool
	PipelineID   string
	PipelineName string
	Position     int
	Estimate     *float64
	IsEpic       bool
	Epic         *IssueNumber
}

// NewCard builds an unpositioned card from an issue record.
func NewCard(issue IssueRecord) Card {
	return Card{IssueRecord: issue}
}

// WithPlacement returns a copy of c placed according to the board record.
func (c Card) WithPlacement(r BoardRecord) Card {
	c.Positioned = true
	c.PipelineID = r.PipelineID
	c.PipelineName = r.PipelineName
	c.Position = r.Position
	c.Estimate = r.Estimate
	c.IsEpic = r.IsEpic
	c.Epic = r.Epic
	return c
}

// PipelineSummary aggregates the cards of one pipeline.
type PipelineSummary struct {
	Count         int
	Estimated     int
	EstimateTotal float64
	EstimateMean  float64
}

// Pipeline is one board column holding card identifiers in display order.
type Pipeline struct {
	ID      string
	Name    string
	Cards   []IssueNumber
	Summary PipelineSummary
}

// Board is the ordered list of pipelines plus the unpositioned cards.
// Every identifier appears at most once across all pipelines and
// Unpositioned.
type Board struct {
	Pipelines    []Pipeline
	Unpositioned []IssueNumber
}

// PipelineIndex returns the index of the pipeline with the given id, or -1.
func (b Board) PipelineIndex(id string) int {
	for i := range b.Pipelines {
		if b.Pipelines[i].ID == id {
			return i
		}
	}
	return -1
}

// Locate returns the pipeline index and offset of a card. Unpositioned
// cards and unknown identifiers report ok=false.
func (b Board) Locate(n IssueNumber) (pipeline, offset int, ok bool) {
	for i := range b.Pipelines {
		for j, id := range b.Pipelines[i].Cards {
			if id == n {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

// Clone returns a deep copy of the board's slices.
func (b Board) Clone() Board {
	out := Board{
		Pipelines:    make([]Pipeline, len(b.Pipelines)),
		Unpositioned: append([]IssueNumber(nil), b.Unpositioned...),
	}
	for i, p := range b.Pipelines {
		p.Cards = append([]IssueNumber(nil), p.Cards...)
		out.Pipelines[i] = p
	}
	return out
}

// Remove takes a card out of whichever pipeline (or the unpositioned list)
// holds it. Returns false if the card was not on the board.
func (b *Board) Remove(n IssueNumber) bool {
	for i := range b.Pipelines {
		cards := b.Pipelines[i].Cards
		for j, id := range cards {
			if id == n {
				b.Pipelines[i].Cards = append(cards[:j:j], cards[j+1:]...)
				return true
			}
		}
	}
	for j, id := range b.Unpositioned {
		if id == n {
			b.Unpositioned = append(b.Unpositioned[:j:j], b.Unpositioned[j+1:]...)
			return true
		}
	}
	return false
}

// Insert places a card into pipeline index p at offset, clamping the offset
// to the pipeline's bounds. Returns the offset actually used.
func (b *Board) Insert(p int, offset int, n IssueNumber) int {
	cards := b.Pipelines[p].Cards
	offset = ClampPosition(offset, len(cards))
	next := make([]IssueNumber, 0, len(cards)+1)
	next = append(next, cards[:offset]...)
	next = append(next, n)
	next = append(next, cards[offset:]...)
	b.Pipelines[p].Cards = next
	return offset
}

// ClampPosition bounds a requested insertion offset to [0, length].
func ClampPosition(offset, length int) int {
	if offset < 0 {
		return 0
	}
	if offset > length {
		return length
	}
	return offset
}
