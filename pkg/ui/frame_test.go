package ui

import (
	"reflect"
	"strings"
	"testing"

	"github.com/vanderheijden86/zenboard/pkg/merge"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/testutil"
)

// boardSnapshot merges count generated issues onto the given layout.
func boardSnapshot(count int, layout ...[]int) *model.Snapshot {
	gen := testutil.NewDefault()
	issues := gen.Issues(count)
	res := merge.Merge(issues, gen.Layout(layout...))
	return &model.Snapshot{
		Version: 1,
		Cards:   res.Cards,
		Board:   res.Board,
		Orphans: res.Orphans,
	}
}

func defaultPrefs() Prefs {
	return Prefs{
		ShowUnpositioned: true,
		ShowLabels:       true,
		CardWidth:        30,
		Height:           60,
	}
}

func columnIDs(fr Frame) []string {
	ids := make([]string, len(fr.Columns))
	for i, c := range fr.Columns {
		ids[i] = c.ID
	}
	return ids
}

func cardNumbers(c Column) []model.IssueNumber {
	out := make([]model.IssueNumber, len(c.Cards))
	for i, card := range c.Cards {
		out[i] = card.Number
	}
	return out
}

func TestBuildFrame_ColumnsAndSubtitles(t *testing.T) {
	snap := boardSnapshot(6, []int{1, 2}, []int{3}, []int{})
	fr := BuildFrame(snap, NewFocus(), defaultPrefs())

	want := []string{testutil.PipelineID(0), testutil.PipelineID(1), testutil.PipelineID(2), UnpositionedID}
	if got := columnIDs(fr); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	subtitles := []string{"(2 issues)", "(1 issue)", "(empty)", "(3 issues)"}
	for i, c := range fr.Columns {
		if c.Subtitle != subtitles[i] {
			t.Errorf("column %d subtitle = %q, want %q", i, c.Subtitle, subtitles[i])
		}
	}
	if !fr.Columns[3].Unpositioned || fr.Columns[3].Name != UnpositionedName {
		t.Errorf("last column should be the unpositioned column, got %+v", fr.Columns[3])
	}
	if fr.Focused != 0 || fr.Columns[0].Selected != 0 || !fr.Columns[0].Cards[0].Selected {
		t.Errorf("expected first card of first column focused, got focused=%d selected=%d", fr.Focused, fr.Columns[0].Selected)
	}
	if fr.Columns[1].Cards[0].Selected {
		t.Error("only the focused column shows a selected card")
	}
}

func TestBuildFrame_EstimateSubtitle(t *testing.T) {
	snap := boardSnapshot(2, []int{1, 2})
	snap.Board.Pipelines[0].Summary = model.PipelineSummary{Count: 2, Estimated: 2, EstimateTotal: 5.5}
	fr := BuildFrame(snap, NewFocus(), defaultPrefs())
	if got := fr.Columns[0].Subtitle; got != "(2 issues) · 5.5 pts" {
		t.Errorf("subtitle = %q", got)
	}
}

func TestBuildFrame_UnpositionedToggle(t *testing.T) {
	snap := boardSnapshot(3, []int{1})
	prefs := defaultPrefs()
	prefs.ShowUnpositioned = false
	fr := BuildFrame(snap, NewFocus(), prefs)
	if len(fr.Columns) != 1 {
		t.Fatalf("expected unpositioned column suppressed, got %v", columnIDs(fr))
	}
}

func TestBuildFrame_HiddenPipelines(t *testing.T) {
	snap := boardSnapshot(3, []int{1}, []int{2}, []int{3})
	prefs := defaultPrefs()
	prefs.HiddenByName = func(name string) bool { return strings.EqualFold(name, "backlog") }

	fr := BuildFrame(snap, NewFocus(), prefs)
	if got := columnIDs(fr); !reflect.DeepEqual(got, []string{testutil.PipelineID(0), testutil.PipelineID(2)}) {
		t.Fatalf("configured hidden pipeline still shown: %v", got)
	}
	if fr.Hidden != 1 {
		t.Errorf("Hidden = %d, want 1", fr.Hidden)
	}

	focus := NewFocus()
	focus.Hidden[testutil.PipelineID(1)] = false
	focus.Hidden[testutil.PipelineID(0)] = true
	fr = BuildFrame(snap, focus, prefs)
	if got := columnIDs(fr); !reflect.DeepEqual(got, []string{testutil.PipelineID(1), testutil.PipelineID(2)}) {
		t.Fatalf("focus overrides not applied: %v", got)
	}
}

func TestBuildFrame_SelectionFollowsCardNumber(t *testing.T) {
	focus := NewFocus()
	focus.PipelineID = testutil.PipelineID(0)
	focus.Selected[testutil.PipelineID(0)] = 2

	fr := BuildFrame(boardSnapshot(3, []int{1, 2, 3}), focus, defaultPrefs())
	if fr.Columns[0].Selected != 1 {
		t.Fatalf("selected = %d, want 1", fr.Columns[0].Selected)
	}

	fr = BuildFrame(boardSnapshot(3, []int{2, 3, 1}), focus, defaultPrefs())
	if fr.Columns[0].Selected != 0 {
		t.Errorf("selection should follow #2 to row 0, got %d", fr.Columns[0].Selected)
	}
}

func TestBuildFrame_SelectionFallsBackToRow(t *testing.T) {
	focus := NewFocus()
	focus.Selected[testutil.PipelineID(0)] = 9
	focus.Rows[testutil.PipelineID(0)] = 5

	fr := BuildFrame(boardSnapshot(3, []int{1, 2, 3}), focus, defaultPrefs())
	if fr.Columns[0].Selected != 2 {
		t.Errorf("expected clamped fallback row 2, got %d", fr.Columns[0].Selected)
	}
}

func TestBuildFrame_VerticalScroll(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Height = chromeLines + 2*cardLines

	focus := NewFocus()
	focus.Rows[testutil.PipelineID(0)] = 4

	fr := BuildFrame(boardSnapshot(5, []int{1, 2, 3, 4, 5}), focus, prefs)
	col := fr.Columns[0]
	if fr.RowsPerColumn != 2 {
		t.Fatalf("RowsPerColumn = %d, want 2", fr.RowsPerColumn)
	}
	if col.Offset != 3 || col.Above != 3 || col.Below != 0 {
		t.Errorf("offset/above/below = %d/%d/%d, want 3/3/0", col.Offset, col.Above, col.Below)
	}
	if got := cardNumbers(col); !reflect.DeepEqual(got, []model.IssueNumber{4, 5}) {
		t.Errorf("window = %v", got)
	}
	if card, ok := col.SelectedCard(); !ok || card.Number != 5 {
		t.Errorf("selected card = %v, %v", card.Number, ok)
	}
}

func TestBuildFrame_HorizontalWindow(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Width = prefs.CardWidth + 4

	focus := NewFocus()
	focus.PipelineID = testutil.PipelineID(2)

	fr := BuildFrame(boardSnapshot(3, []int{1}, []int{2}, []int{3}), focus, prefs)
	if fr.Focused != 2 || fr.First != 2 || fr.Last != 3 {
		t.Errorf("focused/first/last = %d/%d/%d, want 2/2/3", fr.Focused, fr.First, fr.Last)
	}
}

func TestBuildFrame_FocusedPipelineVanishes(t *testing.T) {
	focus := NewFocus()
	focus.PipelineID = "gone"
	focus.Col = 1

	fr := BuildFrame(boardSnapshot(3, []int{1}, []int{2}, []int{3}), focus, defaultPrefs())
	if fr.Focused != 1 {
		t.Errorf("expected focus to stay at column 1, got %d", fr.Focused)
	}
}

func TestBuildFrame_OptimisticAndStatus(t *testing.T) {
	snap := boardSnapshot(2, []int{1, 2})
	snap.Optimistic = map[model.IssueNumber]bool{2: true}
	snap.BoardStale = true
	snap.Orphans = []model.IssueNumber{40, 41}

	fr := BuildFrame(snap, NewFocus(), defaultPrefs())
	if fr.Columns[0].Cards[0].Optimistic || !fr.Columns[0].Cards[1].Optimistic {
		t.Error("optimistic flag not carried to card views")
	}
	if !fr.BoardStale || fr.IssuesStale || fr.Orphans != 2 || fr.Optimistic != 1 {
		t.Errorf("unexpected status fields %+v", fr)
	}
}

func TestBuildFrame_Empty(t *testing.T) {
	fr := BuildFrame(nil, NewFocus(), defaultPrefs())
	if !fr.Empty || fr.Focused != -1 || len(fr.Columns) != 0 {
		t.Errorf("unexpected empty frame %+v", fr)
	}
}

func TestBuildFrame_DoesNotMutateFocus(t *testing.T) {
	focus := NewFocus()
	focus.Rows[testutil.PipelineID(0)] = 1
	before := len(focus.Selected)

	snap := boardSnapshot(3, []int{1, 2, 3})
	a := BuildFrame(snap, focus, defaultPrefs())
	b := BuildFrame(snap, focus, defaultPrefs())
	if !reflect.DeepEqual(a, b) {
		t.Error("BuildFrame is not deterministic")
	}
	if len(focus.Selected) != before || focus.PipelineID != "" {
		t.Error("BuildFrame modified the focus")
	}
}

func TestFocusSync(t *testing.T) {
	focus := NewFocus()
	focus.PipelineID = testutil.PipelineID(1)
	focus.Rows[testutil.PipelineID(1)] = 1

	fr := BuildFrame(boardSnapshot(3, []int{1}, []int{2, 3}), focus, defaultPrefs())
	focus.Sync(fr)

	if focus.Col != 1 || focus.Selected[testutil.PipelineID(1)] != 3 {
		t.Errorf("sync recorded col=%d selected=%v", focus.Col, focus.Selected)
	}
	if focus.Selected[testutil.PipelineID(0)] != 1 {
		t.Errorf("unfocused column selection not recorded: %v", focus.Selected)
	}
}
