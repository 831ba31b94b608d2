package model

import (
	"reflect"
	"testing"
)

func TestIssueRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		record  IssueRecord
		wantErr bool
	}{
		{"valid", IssueRecord{Number: 1, State: StateOpen}, false},
		{"empty state allowed", IssueRecord{Number: 2}, false},
		{"zero number", IssueRecord{Number: 0}, true},
		{"bad state", IssueRecord{Number: 3, State: "merged"}, true},
		{"duplicate label", IssueRecord{Number: 4, Labels: []Label{{Name: "bug"}, {Name: "bug"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeLabels(t *testing.T) {
	got := NormalizeLabels([]Label{
		{Name: "ui", Color: "#00ff00"},
		{Name: "bug", Color: "ff0000"},
		{Name: "ui", Color: "000000"},
		{Name: ""},
	})
	want := []Label{{Name: "bug", Color: "ff0000"}, {Name: "ui", Color: "00ff00"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeLabels = %+v, want %+v", got, want)
	}
	if NormalizeLabels(nil) != nil {
		t.Error("expected nil for no labels")
	}
}

func testBoard() Board {
	return Board{
		Pipelines: []Pipeline{
			{ID: "a", Name: "Backlog", Cards: []IssueNumber{1, 2, 3}},
			{ID: "b", Name: "Doing", Cards: []IssueNumber{4}},
		},
		Unpositioned: []IssueNumber{9},
	}
}

func TestBoardLocateAndIndex(t *testing.T) {
	b := testBoard()
	if got := b.PipelineIndex("b"); got != 1 {
		t.Errorf("PipelineIndex(b) = %d, want 1", got)
	}
	if got := b.PipelineIndex("zzz"); got != -1 {
		t.Errorf("PipelineIndex(zzz) = %d, want -1", got)
	}
	p, off, ok := b.Locate(3)
	if !ok || p != 0 || off != 2 {
		t.Errorf("Locate(3) = %d,%d,%v", p, off, ok)
	}
	if _, _, ok := b.Locate(9); ok {
		t.Error("unpositioned card should not be located in a pipeline")
	}
}

func TestBoardRemoveInsertDoesNotAlias(t *testing.T) {
	orig := testBoard()
	b := orig.Clone()

	if !b.Remove(2) {
		t.Fatal("expected Remove(2) to succeed")
	}
	used := b.Insert(1, 0, 2)
	if used != 0 {
		t.Errorf("Insert offset = %d, want 0", used)
	}
	if !reflect.DeepEqual(b.Pipelines[0].Cards, []IssueNumber{1, 3}) {
		t.Errorf("source pipeline = %v", b.Pipelines[0].Cards)
	}
	if !reflect.DeepEqual(b.Pipelines[1].Cards, []IssueNumber{2, 4}) {
		t.Errorf("target pipeline = %v", b.Pipelines[1].Cards)
	}
	if !reflect.DeepEqual(orig.Pipelines[0].Cards, []IssueNumber{1, 2, 3}) {
		t.Errorf("original board mutated: %v", orig.Pipelines[0].Cards)
	}

	if !b.Remove(9) || len(b.Unpositioned) != 0 {
		t.Error("expected unpositioned card removal")
	}
	if b.Remove(42) {
		t.Error("removing unknown card should report false")
	}
}

func TestBoardInsertClamps(t *testing.T) {
	b := testBoard()
	if used := b.Insert(1, 99, 7); used != 1 {
		t.Errorf("Insert(99) used %d, want 1", used)
	}
	if used := b.Insert(1, -5, 8); used != 0 {
		t.Errorf("Insert(-5) used %d, want 0", used)
	}
	if !reflect.DeepEqual(b.Pipelines[1].Cards, []IssueNumber{8, 4, 7}) {
		t.Errorf("pipeline = %v", b.Pipelines[1].Cards)
	}
}

func TestSnapshotCloneIsIndependent(t *testing.T) {
	s := EmptySnapshot()
	s.Cards[1] = NewCard(IssueRecord{Number: 1, Title: "one"})
	s.Board = testBoard()
	s.Optimistic = map[IssueNumber]bool{1: true}

	c := s.Clone()
	c.Cards[2] = NewCard(IssueRecord{Number: 2})
	c.Board.Pipelines[0].Cards[0] = 99

	if _, ok := s.Cards[2]; ok {
		t.Error("clone shares card map")
	}
	if s.Board.Pipelines[0].Cards[0] != 1 {
		t.Error("clone shares pipeline slices")
	}
	if c.Optimistic != nil {
		t.Error("clone should reset optimistic markers")
	}
}

func TestSnapshotPipelineCards(t *testing.T) {
	s := EmptySnapshot()
	for _, n := range []IssueNumber{1, 2, 3, 4, 9} {
		s.Cards[n] = NewCard(IssueRecord{Number: n})
	}
	s.Board = testBoard()

	cards := s.PipelineCards(0)
	if len(cards) != 3 || cards[2].Number != 3 {
		t.Errorf("PipelineCards(0) = %+v", cards)
	}
	if s.PipelineCards(5) != nil {
		t.Error("out-of-range pipeline should return nil")
	}
	if un := s.UnpositionedCards(); len(un) != 1 || un[0].Number != 9 {
		t.Errorf("UnpositionedCards = %+v", un)
	}
}
