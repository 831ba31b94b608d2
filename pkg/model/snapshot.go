package model

import (
	"maps"
	"time"
)

// Snapshot is an immutable, versioned view of the merged board. The store
// holds exactly one current snapshot; readers must not mutate it.
type Snapshot struct {
	// Version is assigned by the store on publication and strictly increases.
	Version uint64

	Cards map[IssueNumber]Card
	Board Board

	// Orphans are board records that referenced no known issue.
	Orphans []IssueNumber

	IssuesFetchedAt time.Time
	BoardFetchedAt  time.Time
	IssuesStale     bool
	BoardStale      bool

	// Optimistic lists cards that carry an unconfirmed local change.
	Optimistic map[IssueNumber]bool

	ComposedAt time.Time
}

// EmptySnapshot returns the version-0 snapshot the store starts with.
func EmptySnapshot() *Snapshot {
	return &Snapshot{Cards: map[IssueNumber]Card{}}
}

// Card returns the card with the given number.
func (s *Snapshot) Card(n IssueNumber) (Card, bool) {
	if s == nil {
		return Card{}, false
	}
	c, ok := s.Cards[n]
	return c, ok
}

// PipelineCards resolves the cards of pipeline index p in display order.
func (s *Snapshot) PipelineCards(p int) []Card {
	if s == nil || p < 0 || p >= len(s.Board.Pipelines) {
		return nil
	}
	ids := s.Board.Pipelines[p].Cards
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.Cards[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// UnpositionedCards resolves the unpositioned cards in number order.
func (s *Snapshot) UnpositionedCards() []Card {
	if s == nil {
		return nil
	}
	out := make([]Card, 0, len(s.Board.Unpositioned))
	for _, id := range s.Board.Unpositioned {
		if c, ok := s.Cards[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// IsOptimistic reports whether a card shows an unconfirmed local change.
func (s *Snapshot) IsOptimistic(n IssueNumber) bool {
	return s != nil && s.Optimistic[n]
}

// IsEmpty returns true when no issues have been loaded.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Cards) == 0
}

// Clone returns a copy whose card map and board may be modified freely.
// Card values are shared since they are immutable.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Cards = maps.Clone(s.Cards)
	if out.Cards == nil {
		out.Cards = map[IssueNumber]Card{}
	}
	out.Board = s.Board.Clone()
	out.Orphans = append([]IssueNumber(nil), s.Orphans...)
	out.Optimistic = nil
	return &out
}
