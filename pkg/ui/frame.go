package ui

import (
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// UnpositionedID identifies the synthetic column holding cards the board
// service has not placed.
const UnpositionedID = "\x00unpositioned"

// UnpositionedName is the header of the unpositioned column.
const UnpositionedName = "Unpositioned"

// Focus is everything the render loop remembers between frames. It never
// holds a snapshot; selections are by issue number so they survive
// reordering, with the last row index as a fallback when the card leaves.
type Focus struct {
	PipelineID string
	Col        int
	Selected   map[string]model.IssueNumber
	Rows       map[string]int
	Offsets    map[string]int
	FirstCol   int

	// Hidden overrides the configured hidden pipelines per pipeline id:
	// true hides, false shows.
	Hidden map[string]bool
}

// NewFocus returns an empty focus state.
func NewFocus() Focus {
	return Focus{
		Selected: map[string]model.IssueNumber{},
		Rows:     map[string]int{},
		Offsets:  map[string]int{},
		Hidden:   map[string]bool{},
	}
}

// Prefs are the display settings a frame is built with.
type Prefs struct {
	ShowUnpositioned bool
	ShowLabels       bool
	CardWidth        int

	// Width and Height are the cells available to the board area.
	Width  int
	Height int

	// HiddenByName reports configured hidden pipelines.
	HiddenByName func(name string) bool
}

// Frame is a pure description of one board render.
type Frame struct {
	Version uint64
	Empty   bool

	// Columns lists every visible column; Columns[First:Last] fit on
	// screen.
	Columns []Column
	Focused int
	First   int
	Last    int
	Hidden  int

	// RowsPerColumn is how many cards fit vertically.
	RowsPerColumn int

	Orphans         int
	IssuesStale     bool
	BoardStale      bool
	IssuesFetchedAt time.Time
	BoardFetchedAt  time.Time
	Optimistic      int
}

// Column is one visible pipeline.
type Column struct {
	ID           string
	Name         string
	Subtitle     string
	Unpositioned bool

	// Cards holds only the scrolled-in window; Total counts all cards.
	Cards    []CardView
	Total    int
	Offset   int
	Selected int
	Above    int
	Below    int
}

// SelectedCard returns the selected card of the column.
func (c Column) SelectedCard() (CardView, bool) {
	i := c.Selected - c.Offset
	if c.Selected < 0 || i < 0 || i >= len(c.Cards) {
		return CardView{}, false
	}
	return c.Cards[i], true
}

// CardView is what a card row shows.
type CardView struct {
	Number     model.IssueNumber
	Title      string
	IsPR       bool
	Closed     bool
	Labels     []model.Label
	Estimate   *float64
	IsEpic     bool
	Epic       *model.IssueNumber
	Optimistic bool
	Selected   bool
}

const (
	cardLines   = 3
	chromeLines = 9
	columnGap   = 2
)

// BuildFrame lays out the snapshot for the given focus and preferences.
// It neither mutates its inputs nor reads anything else.
func BuildFrame(snap *model.Snapshot, focus Focus, prefs Prefs) Frame {
	if snap == nil {
		snap = model.EmptySnapshot()
	}
	fr := Frame{
		Version:         snap.Version,
		Empty:           snap.IsEmpty(),
		Focused:         -1,
		Orphans:         len(snap.Orphans),
		IssuesStale:     snap.IssuesStale,
		BoardStale:      snap.BoardStale,
		IssuesFetchedAt: snap.IssuesFetchedAt,
		BoardFetchedAt:  snap.BoardFetchedAt,
		Optimistic:      len(snap.Optimistic),
	}

	rows := (prefs.Height - chromeLines) / cardLines
	if rows < 1 {
		rows = 1
	}
	fr.RowsPerColumn = rows

	for i, p := range snap.Board.Pipelines {
		if isHidden(focus, prefs, p.ID, p.Name) {
			fr.Hidden++
			continue
		}
		fr.Columns = append(fr.Columns, buildColumn(snap, focus, rows, p.ID, p.Name,
			snap.PipelineCards(i), p.Summary))
	}
	if prefs.ShowUnpositioned && len(snap.Board.Unpositioned) > 0 {
		if isHidden(focus, prefs, UnpositionedID, UnpositionedName) {
			fr.Hidden++
		} else {
			cards := snap.UnpositionedCards()
			col := buildColumn(snap, focus, rows, UnpositionedID, UnpositionedName, cards, summarize(cards))
			col.Unpositioned = true
			fr.Columns = append(fr.Columns, col)
		}
	}

	if len(fr.Columns) == 0 {
		return fr
	}
	fr.Focused = 0
	for i, c := range fr.Columns {
		if c.ID == focus.PipelineID {
			fr.Focused = i
			break
		}
	}
	if focus.PipelineID != "" && fr.Columns[fr.Focused].ID != focus.PipelineID {
		// The focused pipeline vanished or was hidden; stay near where it was.
		fr.Focused = max(min(focus.Col, len(fr.Columns)-1), 0)
	}
	for i := range fr.Columns {
		if i != fr.Focused {
			for j := range fr.Columns[i].Cards {
				fr.Columns[i].Cards[j].Selected = false
			}
		}
	}

	width := prefs.CardWidth
	if width <= 0 {
		width = 32
	}
	fit := len(fr.Columns)
	if prefs.Width > 0 {
		fit = max(1, (prefs.Width+columnGap)/(width+columnGap+2))
	}
	first := max(min(focus.FirstCol, len(fr.Columns)-1), 0)
	if fr.Focused < first {
		first = fr.Focused
	}
	if fr.Focused >= first+fit {
		first = fr.Focused - fit + 1
	}
	fr.First = first
	fr.Last = min(first+fit, len(fr.Columns))
	return fr
}

func isHidden(focus Focus, prefs Prefs, id, name string) bool {
	if h, ok := focus.Hidden[id]; ok {
		return h
	}
	return prefs.HiddenByName != nil && prefs.HiddenByName(name)
}

func buildColumn(snap *model.Snapshot, focus Focus, rows int, id, name string, cards []model.Card, sum model.PipelineSummary) Column {
	col := Column{
		ID:       id,
		Name:     name,
		Subtitle: pipelineSubtitle(len(cards), sum.Estimated, sum.EstimateTotal),
		Total:    len(cards),
		Selected: -1,
	}
	if len(cards) == 0 {
		return col
	}

	if n, ok := focus.Selected[id]; ok {
		for i, c := range cards {
			if c.Number == n {
				col.Selected = i
				break
			}
		}
	}
	if col.Selected < 0 {
		col.Selected = min(max(focus.Rows[id], 0), len(cards)-1)
	}

	offset := focus.Offsets[id]
	if col.Selected < offset {
		offset = col.Selected
	}
	if col.Selected >= offset+rows {
		offset = col.Selected - rows + 1
	}
	offset = max(0, min(offset, len(cards)-rows))
	col.Offset = offset
	col.Above = offset
	end := min(offset+rows, len(cards))
	col.Below = len(cards) - end

	col.Cards = make([]CardView, 0, end-offset)
	for i := offset; i < end; i++ {
		c := cards[i]
		col.Cards = append(col.Cards, CardView{
			Number:     c.Number,
			Title:      c.Title,
			IsPR:       c.IsPullRequest,
			Closed:     c.State == model.StateClosed,
			Labels:     c.Labels,
			Estimate:   c.Estimate,
			IsEpic:     c.IsEpic,
			Epic:       c.Epic,
			Optimistic: snap.IsOptimistic(c.Number),
			Selected:   i == col.Selected,
		})
	}
	return col
}

func summarize(cards []model.Card) model.PipelineSummary {
	s := model.PipelineSummary{Count: len(cards)}
	for _, c := range cards {
		if c.Estimate != nil {
			s.Estimated++
			s.EstimateTotal += *c.Estimate
		}
	}
	return s
}

// Sync records the positions a frame resolved so the next frame starts
// from them.
func (f *Focus) Sync(fr Frame) {
	if fr.Focused < 0 {
		return
	}
	f.PipelineID = fr.Columns[fr.Focused].ID
	f.Col = fr.Focused
	f.FirstCol = fr.First
	for _, c := range fr.Columns {
		f.Offsets[c.ID] = c.Offset
		if card, ok := c.SelectedCard(); ok {
			f.Selected[c.ID] = card.Number
			f.Rows[c.ID] = c.Selected
		}
	}
}
