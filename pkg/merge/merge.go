// Package merge joins issue records and board records into cards and an
// ordered board. Merge is pure: identical inputs in any order produce an
// identical result.
package merge

import (
	"cmp"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
)

// Result is the output of Merge.
type Result struct {
	Cards map[model.IssueNumber]model.Card
	Board model.Board

	// Orphans are board records whose issue number matched no issue record.
	Orphans []model.IssueNumber
	// DuplicateIssues are numbers that appeared in more than one issue record.
	DuplicateIssues []model.IssueNumber
	// DuplicatePlacements are numbers that appeared in more than one board record.
	DuplicatePlacements []model.IssueNumber
}

// Inconsistent reports whether the inputs disagreed in a way worth logging.
func (r Result) Inconsistent() bool {
	return len(r.Orphans) > 0 || len(r.DuplicateIssues) > 0 || len(r.DuplicatePlacements) > 0
}

// Merge builds cards and the board from the two record sets.
//
// Pipelines follow board.Pipelines order; pipelines referenced only by
// records are appended ordered by name then id. Cards within a pipeline are
// ordered by position with ties broken by issue number. Issues with no
// board record are listed in Board.Unpositioned ordered by number.
func Merge(issues []model.IssueRecord, board model.BoardData) Result {
	defer metrics.Timer(metrics.Merge)()

	res := Result{Cards: make(map[model.IssueNumber]model.Card, len(issues))}

	latest := make(map[model.IssueNumber]model.IssueRecord, len(issues))
	dupIssues := map[model.IssueNumber]bool{}
	for _, rec := range issues {
		prev, seen := latest[rec.Number]
		if seen {
			dupIssues[rec.Number] = true
			if compareIssue(rec, prev) <= 0 {
				continue
			}
		}
		latest[rec.Number] = rec
	}

	pipelines, rank := orderPipelines(board, latest)

	placement := make(map[model.IssueNumber]model.BoardRecord, len(board.Records))
	dupPlacements := map[model.IssueNumber]bool{}
	orphans := map[model.IssueNumber]bool{}
	for _, rec := range board.Records {
		if _, ok := latest[rec.Number]; !ok {
			orphans[rec.Number] = true
			continue
		}
		prev, seen := placement[rec.Number]
		if seen {
			dupPlacements[rec.Number] = true
			if comparePlacement(rec, prev, rank) >= 0 {
				continue
			}
		}
		placement[rec.Number] = rec
	}

	buckets := make([][]model.Card, len(pipelines))
	for n, issue := range latest {
		card := model.NewCard(issue)
		if rec, ok := placement[n]; ok {
			card = card.WithPlacement(rec)
			idx := rank[rec.PipelineID]
			card.PipelineName = pipelines[idx].Name
			buckets[idx] = append(buckets[idx], card)
		} else {
			res.Board.Unpositioned = append(res.Board.Unpositioned, n)
		}
		res.Cards[n] = card
	}

	for i := range pipelines {
		cards := buckets[i]
		slices.SortStableFunc(cards, func(a, b model.Card) int {
			if c := cmp.Compare(a.Position, b.Position); c != 0 {
				return c
			}
			return cmp.Compare(a.Number, b.Number)
		})
		ids := make([]model.IssueNumber, len(cards))
		for j, c := range cards {
			ids[j] = c.Number
		}
		pipelines[i].Cards = ids
	}
	res.Board.Pipelines = pipelines
	slices.Sort(res.Board.Unpositioned)
	Summarize(&res.Board, res.Cards)

	res.Orphans = sortedKeys(orphans)
	res.DuplicateIssues = sortedKeys(dupIssues)
	res.DuplicatePlacements = sortedKeys(dupPlacements)
	return res
}

// Summarize recomputes every pipeline's summary from the card map.
func Summarize(b *model.Board, cards map[model.IssueNumber]model.Card) {
	for i := range b.Pipelines {
		p := &b.Pipelines[i]
		var estimates []float64
		for _, id := range p.Cards {
			if c, ok := cards[id]; ok && c.Estimate != nil {
				estimates = append(estimates, *c.Estimate)
			}
		}
		s := model.PipelineSummary{Count: len(p.Cards), Estimated: len(estimates)}
		if len(estimates) > 0 {
			s.EstimateTotal = floats.Sum(estimates)
			s.EstimateMean = stat.Mean(estimates, nil)
		}
		p.Summary = s
	}
}

// orderPipelines returns the pipeline list in board order followed by
// pipelines only known from non-orphan records, plus a rank lookup by id.
func orderPipelines(board model.BoardData, issues map[model.IssueNumber]model.IssueRecord) ([]model.Pipeline, map[string]int) {
	rank := make(map[string]int, len(board.Pipelines))
	pipelines := make([]model.Pipeline, 0, len(board.Pipelines))
	for _, ref := range board.Pipelines {
		if _, dup := rank[ref.ID]; dup {
			continue
		}
		rank[ref.ID] = len(pipelines)
		pipelines = append(pipelines, model.Pipeline{ID: ref.ID, Name: ref.Name})
	}

	extra := map[string]string{}
	for _, rec := range board.Records {
		if _, known := rank[rec.PipelineID]; known {
			continue
		}
		if _, ok := issues[rec.Number]; !ok {
			continue
		}
		name, seen := extra[rec.PipelineID]
		if !seen || rec.PipelineName < name {
			extra[rec.PipelineID] = rec.PipelineName
		}
	}
	extras := make([]model.Pipeline, 0, len(extra))
	for id, name := range extra {
		extras = append(extras, model.Pipeline{ID: id, Name: name})
	}
	slices.SortFunc(extras, func(a, b model.Pipeline) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for _, p := range extras {
		rank[p.ID] = len(pipelines)
		pipelines = append(pipelines, p)
	}
	return pipelines, rank
}

// compareIssue orders two records for the same number; the greater one wins.
func compareIssue(a, b model.IssueRecord) int {
	if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
		return c
	}
	if c := strings.Compare(a.Title, b.Title); c != 0 {
		return c
	}
	if c := strings.Compare(a.Body, b.Body); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.State), string(b.State)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Author, b.Author); c != 0 {
		return c
	}
	if c := strings.Compare(a.URL, b.URL); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	if a.IsPullRequest != b.IsPullRequest {
		if a.IsPullRequest {
			return 1
		}
		return -1
	}
	return strings.Compare(labelKey(a.Labels), labelKey(b.Labels))
}

func labelKey(labels []model.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l.Name + "\x00" + l.Color
	}
	slices.Sort(parts)
	return strings.Join(parts, "\x01")
}

// comparePlacement orders two board records for the same number; the
// smaller one wins.
func comparePlacement(a, b model.BoardRecord, rank map[string]int) int {
	if c := cmp.Compare(rank[a.PipelineID], rank[b.PipelineID]); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}
	if c := strings.Compare(a.PipelineID, b.PipelineID); c != 0 {
		return c
	}
	if c := strings.Compare(a.PipelineName, b.PipelineName); c != 0 {
		return c
	}
	if c := cmp.Compare(optFloat(a.Estimate), optFloat(b.Estimate)); c != 0 {
		return c
	}
	if a.IsEpic != b.IsEpic {
		if a.IsEpic {
			return -1
		}
		return 1
	}
	return cmp.Compare(optNumber(a.Epic), optNumber(b.Epic))
}

func optFloat(f *float64) float64 {
	if f == nil {
		return -1
	}
	return *f
}

func optNumber(n *model.IssueNumber) model.IssueNumber {
	if n == nil {
		return -1
	}
	return *n
}

func sortedKeys(m map[model.IssueNumber]bool) []model.IssueNumber {
	if len(m) == 0 {
		return nil
	}
	out := make([]model.IssueNumber, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
