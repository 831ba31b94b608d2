package metrics

import (
	"io"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

// CacheMetric counts hits and misses for a cache-like path.
type CacheMetric struct {
	name   string
	hits   atomic.Int64
	misses atomic.Int64
}

func newCacheMetric(name string) *CacheMetric {
	return &CacheMetric{name: name}
}

// Hit records a cache hit.
func (m *CacheMetric) Hit() {
	if enabled {
		m.hits.Add(1)
	}
}

// Miss records a cache miss.
func (m *CacheMetric) Miss() {
	if enabled {
		m.misses.Add(1)
	}
}

// Stats returns the current counters.
func (m *CacheMetric) Stats() CacheStats {
	hits, misses := m.hits.Load(), m.misses.Load()
	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return CacheStats{Name: m.name, Hits: hits, Misses: misses, HitRatio: ratio}
}

// Reset clears the counters.
func (m *CacheMetric) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
}

// CacheStats holds a snapshot of cache counters.
type CacheStats struct {
	Name     string  `json:"name"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// Global cache metrics.
var (
	// GitHubETag counts 304 Not Modified responses against full responses.
	GitHubETag = newCacheMetric("github_etag")
	// RecordCacheWarm counts startups served from the local record cache.
	RecordCacheWarm = newCacheMetric("record_cache_warm")
)

// AllCacheMetrics returns all registered cache metrics.
func AllCacheMetrics() []*CacheMetric {
	return []*CacheMetric{GitHubETag, RecordCacheWarm}
}

// Summary is the JSON document written by WriteSummary.
type Summary struct {
	Timings []TimingStats `json:"timings"`
	Caches  []CacheStats  `json:"caches"`
}

// WriteSummary writes every metric with data as indented JSON.
func WriteSummary(w io.Writer) error {
	sum := Summary{Timings: AllTimingStats()}
	for _, m := range AllCacheMetrics() {
		if st := m.Stats(); st.Hits+st.Misses > 0 {
			sum.Caches = append(sum.Caches, st)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
