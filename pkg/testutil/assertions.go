package testutil

import (
	"slices"
	"testing"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// AssertBoardConsistent verifies that every identifier on the board resolves
// to a card and appears exactly once, and every card appears on the board.
func AssertBoardConsistent(t testing.TB, s *model.Snapshot) {
	t.Helper()
	seen := make(map[model.IssueNumber]int)
	for _, p := range s.Board.Pipelines {
		for _, id := range p.Cards {
			if _, ok := s.Cards[id]; !ok {
				t.Errorf("pipeline %q references unknown card %s", p.Name, id)
			}
			seen[id]++
		}
	}
	for _, id := range s.Board.Unpositioned {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("card %s appears %d times on the board", id, n)
		}
	}
	for id := range s.Cards {
		if seen[id] == 0 {
			t.Errorf("card %s is missing from the board", id)
		}
	}
}

// AssertPipeline verifies the cards of the pipeline with the given id.
func AssertPipeline(t testing.TB, s *model.Snapshot, pipelineID string, want ...int) {
	t.Helper()
	idx := s.Board.PipelineIndex(pipelineID)
	if idx < 0 {
		t.Errorf("pipeline %q not found", pipelineID)
		return
	}
	got := make([]int, len(s.Board.Pipelines[idx].Cards))
	for i, id := range s.Board.Pipelines[idx].Cards {
		got[i] = int(id)
	}
	if want == nil {
		want = []int{}
	}
	if !slices.Equal(got, want) {
		t.Errorf("pipeline %q = %v, want %v", pipelineID, got, want)
	}
}

// AssertTitle verifies a card's title.
func AssertTitle(t testing.TB, s *model.Snapshot, n model.IssueNumber, want string) {
	t.Helper()
	c, ok := s.Card(n)
	if !ok {
		t.Errorf("card %s not found", n)
		return
	}
	if c.Title != want {
		t.Errorf("card %s title = %q, want %q", n, c.Title, want)
	}
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
