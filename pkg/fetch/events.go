package fetch

import (
	"fmt"
	"time"
)

// Source names one upstream.
type Source string

const (
	SourceIssues Source = "issues"
	SourceBoard  Source = "board"
)

// EventKind identifies a scheduler event.
type EventKind int

const (
	CycleStarted EventKind = iota
	CycleFinished
	// SourceUpdated means fresh data from Source was merged and published.
	SourceUpdated
	// SourceFailed means Source exhausted its retries this cycle. The last
	// good copy remains in use.
	SourceFailed
	// SourceStale means Source has been failing for longer than the stale
	// threshold, or has never succeeded.
	SourceStale
	// SourceRecovered means Source succeeded after failing.
	SourceRecovered
)

func (k EventKind) String() string {
	switch k {
	case CycleStarted:
		return "cycle_started"
	case CycleFinished:
		return "cycle_finished"
	case SourceUpdated:
		return "source_updated"
	case SourceFailed:
		return "source_failed"
	case SourceStale:
		return "source_stale"
	case SourceRecovered:
		return "source_recovered"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on Scheduler.Events.
type Event struct {
	Kind        EventKind
	Source      Source
	Cycle       uint64
	Err         error
	Attempts    int
	LastSuccess time.Time
	At          time.Time
}

// SourceError wraps a source failure with retry context.
type SourceError struct {
	Source   Source
	Cause    error
	Attempts int
	Time     time.Time
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s fetch failed: %v (attempts: %d)", e.Source, e.Cause, e.Attempts)
}

func (e *SourceError) Unwrap() error {
	return e.Cause
}
