// Package testutil provides fixture generators, fake upstream services, and
// assertions shared by zb's tests. All generators are deterministic for a
// given seed.
package testutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// GeneratorConfig controls fixture generation.
type GeneratorConfig struct {
	Seed          int64     // Random seed for determinism (0 = use current time)
	BaseTime      time.Time // Base time for timestamps (default: fixed time)
	Pipelines     []string  // Pipeline names in board order
	IncludeLabels bool      // Generate random labels
	EstimateRate  float64   // Fraction of placed cards with an estimate
	PlacedRate    float64   // Fraction of issues with a board record
}

// DefaultConfig returns a config suitable for most tests.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:         42,
		BaseTime:     time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Pipelines:    []string{"New Issues", "Backlog", "In Progress", "Review", "Done"},
		EstimateRate: 0.5,
		PlacedRate:   0.9,
	}
}

// Generator creates issue and board fixtures.
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

// New creates a Generator with the given config.
func New(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.BaseTime.IsZero() {
		cfg.BaseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	}
	if len(cfg.Pipelines) == 0 {
		cfg.Pipelines = DefaultConfig().Pipelines
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// NewDefault creates a Generator with default config.
func NewDefault() *Generator {
	return New(DefaultConfig())
}

var labelPool = []model.Label{
	{Name: "bug", Color: "d73a4a"},
	{Name: "enhancement", Color: "a2eeef"},
	{Name: "documentation", Color: "0075ca"},
	{Name: "good first issue", Color: "7057ff"},
	{Name: "wontfix", Color: "ffffff"},
}

// PipelineID returns the generated id for the pipeline at index i.
func PipelineID(i int) string {
	return fmt.Sprintf("pipe-%d", i)
}

// Issue returns a single open issue record.
func (g *Generator) Issue(n int) model.IssueRecord {
	created := g.cfg.BaseTime.Add(time.Duration(n) * time.Hour)
	rec := model.IssueRecord{
		Number:    model.IssueNumber(n),
		Title:     fmt.Sprintf("Issue %d", n),
		Body:      fmt.Sprintf("Body of issue %d", n),
		Author:    "tester",
		State:     model.StateOpen,
		URL:       fmt.Sprintf("https://github.com/acme/widgets/issues/%d", n),
		CreatedAt: created,
		UpdatedAt: created.Add(time.Duration(g.rng.Intn(60)) * time.Minute),
	}
	if g.cfg.IncludeLabels {
		var labels []model.Label
		for _, l := range labelPool {
			if g.rng.Intn(3) == 0 {
				labels = append(labels, l)
			}
		}
		rec.Labels = model.NormalizeLabels(labels)
	}
	return rec
}

// Issues returns issues numbered 1..count.
func (g *Generator) Issues(count int) []model.IssueRecord {
	out := make([]model.IssueRecord, count)
	for i := range out {
		out[i] = g.Issue(i + 1)
	}
	return out
}

// Refs returns the configured pipelines as board references.
func (g *Generator) Refs() []model.PipelineRef {
	refs := make([]model.PipelineRef, len(g.cfg.Pipelines))
	for i, name := range g.cfg.Pipelines {
		refs[i] = model.PipelineRef{ID: PipelineID(i), Name: name}
	}
	return refs
}

// Board places a random subset of issues on the configured pipelines.
func (g *Generator) Board(issues []model.IssueRecord) model.BoardData {
	data := model.BoardData{Pipelines: g.Refs()}
	positions := make([]int, len(g.cfg.Pipelines))
	for _, is := range issues {
		if g.rng.Float64() >= g.cfg.PlacedRate {
			continue
		}
		p := g.rng.Intn(len(g.cfg.Pipelines))
		rec := model.BoardRecord{
			Number:       is.Number,
			PipelineID:   PipelineID(p),
			PipelineName: g.cfg.Pipelines[p],
			Position:     positions[p],
		}
		positions[p]++
		if g.rng.Float64() < g.cfg.EstimateRate {
			v := float64(1 + g.rng.Intn(8))
			rec.Estimate = &v
		}
		data.Records = append(data.Records, rec)
	}
	return data
}

// Layout builds a board with exact contents: layout[i] lists the issue
// numbers of pipeline i in order.
func (g *Generator) Layout(layout ...[]int) model.BoardData {
	data := model.BoardData{}
	for i, numbers := range layout {
		name := fmt.Sprintf("Pipeline %d", i)
		if i < len(g.cfg.Pipelines) {
			name = g.cfg.Pipelines[i]
		}
		data.Pipelines = append(data.Pipelines, model.PipelineRef{ID: PipelineID(i), Name: name})
		for pos, n := range numbers {
			data.Records = append(data.Records, model.BoardRecord{
				Number:       model.IssueNumber(n),
				PipelineID:   PipelineID(i),
				PipelineName: name,
				Position:     pos,
			})
		}
	}
	return data
}
