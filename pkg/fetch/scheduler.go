// Package fetch keeps the board fed with data from the issue tracker and the
// board service. It runs fetch cycles periodically and on demand, retries
// failed reads with backoff, and falls back to the last good copy of a
// source when that source keeps failing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	zbdebug "github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/merge"
	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// Sink receives every newly merged authoritative snapshot.
type Sink interface {
	SetBase(base *model.Snapshot)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(*model.Snapshot)

func (f SinkFunc) SetBase(base *model.Snapshot) { f(base) }

// RecordCache persists the last good records of each source.
type RecordCache interface {
	SaveIssues(ctx context.Context, issues []model.IssueRecord, fetchedAt time.Time) error
	SaveBoard(ctx context.Context, board model.BoardData, fetchedAt time.Time) error
}

// Config configures a Scheduler.
type Config struct {
	Issues upstream.IssueService
	Board  upstream.BoardService
	Sink   Sink

	// Interval between periodic cycles. Zero disables the ticker; cycles then
	// only run on Start and RefreshNow.
	Interval time.Duration
	Retry    RetryPolicy
	// StaleAfter is how old a source's last success may be, while the source
	// is failing, before it is reported stale.
	StaleAfter time.Duration

	// Incremental requests only issues updated since the previous issue
	// fetch. Every FullRefreshEvery cycles a full listing is made so removed
	// issues drop out.
	Incremental      bool
	FullRefreshEvery int
	// DropClosed removes closed issues that arrive in incremental updates.
	DropClosed bool

	Cache       RecordCache
	EventBuffer int
	Log         *zbdebug.EventLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the scheduler defaults; services and sink must
// still be set.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		Retry:            DefaultRetryPolicy(),
		StaleAfter:       2 * time.Minute,
		FullRefreshEvery: 10,
		EventBuffer:      64,
	}
}

type sourceState struct {
	have          bool
	fetchedAt     time.Time // start of the attempt that produced the data
	lastSuccess   time.Time
	failing       bool
	stale         bool
	staleNotified bool
	lastErr       *SourceError
}

// SourceStatus is a point-in-time view of one source.
type SourceStatus struct {
	Source      Source
	Have        bool
	FetchedAt   time.Time
	LastSuccess time.Time
	Failing     bool
	Stale       bool
	LastError   *SourceError
}

// Status reports both sources.
type Status struct {
	Issues SourceStatus
	Board  SourceStatus
	Cycles uint64
	Busy   bool
}

// Scheduler runs fetch cycles and hands merged snapshots to its sink.
type Scheduler struct {
	cfg Config
	log *zbdebug.EventLogger
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	issues   map[model.IssueNumber]model.IssueRecord
	board    model.BoardData
	state    map[Source]*sourceState
	fullDone bool
	started  bool
	stopped  bool
	done     chan struct{}

	cycleMu sync.Mutex
	cycles  atomic.Uint64
	busy    atomic.Int32
	trigger chan struct{}
	events  chan Event
}

// New validates cfg and returns a stopped scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Issues == nil || cfg.Board == nil {
		return nil, errors.New("fetch: both issue and board services are required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("fetch: sink is required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("fetch: negative interval %v", cfg.Interval)
	}
	defaults := DefaultConfig()
	cfg.Retry = cfg.Retry.normalized()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaults.StaleAfter
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaults.EventBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Log
	if logger == nil {
		logger = zbdebug.NewEventLogger("fetch_scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		log:    logger,
		now:    cfg.Now,
		ctx:    ctx,
		cancel: cancel,
		issues: make(map[model.IssueNumber]model.IssueRecord),
		state: map[Source]*sourceState{
			SourceIssues: {},
			SourceBoard:  {},
		},
		done:    make(chan struct{}),
		trigger: make(chan struct{}, 1),
		events:  make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events returns the side channel of fetch events. When the consumer falls
// behind, the oldest events are dropped.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// Start runs a first cycle immediately and then one per interval.
// Start is idempotent; it fails after Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("fetch: scheduler has been stopped")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.log.Event(zbdebug.LevelInfo, "scheduler_start", map[string]any{
		"interval_ms":  s.cfg.Interval.Milliseconds(),
		"incremental":  s.cfg.Incremental,
		"max_attempts": s.cfg.Retry.MaxAttempts,
	})
	go s.loop()
	return nil
}

// Stop cancels in-flight fetches and stops the loop. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	wasStarted := s.started
	s.mu.Unlock()

	s.cancel()
	if wasStarted {
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			s.log.Event(zbdebug.LevelWarn, "shutdown_timeout", nil)
		}
	}
	s.log.Event(zbdebug.LevelInfo, "scheduler_stop", nil)
}

// RefreshNow requests a cycle as soon as possible. Requests made while a
// cycle is running coalesce into a single follow-up cycle.
func (s *Scheduler) RefreshNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
		s.log.Event(zbdebug.LevelDebug, "refresh_coalesced", nil)
	}
}

// Busy reports whether a cycle is in progress.
func (s *Scheduler) Busy() bool {
	return s.busy.Load() > 0
}

// Status returns a snapshot of per-source health.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Issues: s.statusLocked(SourceIssues),
		Board:  s.statusLocked(SourceBoard),
		Cycles: s.cycles.Load(),
		Busy:   s.Busy(),
	}
}

func (s *Scheduler) statusLocked(src Source) SourceStatus {
	st := s.state[src]
	return SourceStatus{
		Source:      src,
		Have:        st.have,
		FetchedAt:   st.fetchedAt,
		LastSuccess: st.lastSuccess,
		Failing:     st.failing,
		Stale:       st.stale,
		LastError:   st.lastErr,
	}
}

// Warm installs previously cached records as the last good copies and
// publishes them marked stale. Fresh fetches replace them as they arrive.
func (s *Scheduler) Warm(issues []model.IssueRecord, issuesAt time.Time, board *model.BoardData, boardAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issues != nil && !s.state[SourceIssues].have {
		for _, is := range issues {
			s.issues[is.Number] = is
		}
		st := s.state[SourceIssues]
		st.have, st.fetchedAt, st.stale = true, issuesAt, true
	}
	if board != nil && !s.state[SourceBoard].have {
		s.board = *board
		st := s.state[SourceBoard]
		st.have, st.fetchedAt, st.stale = true, boardAt, true
	}
	s.log.Event(zbdebug.LevelInfo, "warm_start", map[string]any{
		"issues":    len(issues),
		"has_board": board != nil,
	})
	s.publishLocked()
}

// RunOnce runs a single cycle synchronously. It returns the joined errors
// of the sources that failed after retries.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Scheduler) loop() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Event(zbdebug.LevelError, "loop_panic", map[string]any{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			})
		}
	}()

	_ = s.runCycle(s.ctx)

	var tick <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			_ = s.runCycle(s.ctx)
		case <-s.trigger:
			_ = s.runCycle(s.ctx)
		}
	}
}

// runCycle fetches both sources concurrently. Neither source cancels the
// other: each publishes as soon as it completes.
func (s *Scheduler) runCycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.busy.Add(1)
	defer s.busy.Add(-1)
	cycle := s.cycles.Add(1)
	defer metrics.TimerWithCallback(metrics.FetchCycle, func(d time.Duration) {
		zbdebug.LogTiming(fmt.Sprintf("fetch cycle %d", cycle), d)
	})()
	s.emit(Event{Kind: CycleStarted, Cycle: cycle, At: s.now()})

	s.mu.Lock()
	full := !s.cfg.Incremental || !s.fullDone ||
		(s.cfg.FullRefreshEvery > 0 && cycle%uint64(s.cfg.FullRefreshEvery) == 0)
	var since *time.Time
	if !full {
		t := s.state[SourceIssues].fetchedAt
		since = &t
	}
	s.mu.Unlock()

	var issuesErr, boardErr error
	var g errgroup.Group
	g.Go(func() error {
		issuesErr = s.fetchIssues(ctx, cycle, since)
		return nil
	})
	g.Go(func() error {
		boardErr = s.fetchBoard(ctx, cycle)
		return nil
	})
	_ = g.Wait()

	s.emit(Event{Kind: CycleFinished, Cycle: cycle, At: s.now()})
	return errors.Join(issuesErr, boardErr)
}

func (s *Scheduler) fetchIssues(ctx context.Context, cycle uint64, since *time.Time) error {
	var records []model.IssueRecord
	var attemptStart time.Time
	attempts, err := s.withRetry(ctx, SourceIssues, func(ctx context.Context) error {
		attemptStart = s.now()
		var err error
		records, err = s.cfg.Issues.List(ctx, since)
		return err
	})
	if err != nil {
		return s.recordFailure(ctx, SourceIssues, cycle, attempts, err)
	}

	s.mu.Lock()
	if since == nil {
		s.issues = make(map[model.IssueNumber]model.IssueRecord, len(records))
		s.fullDone = true
	}
	for _, rec := range records {
		if since != nil && s.cfg.DropClosed && rec.State == model.StateClosed {
			delete(s.issues, rec.Number)
			continue
		}
		s.issues[rec.Number] = rec
	}
	recovered := s.recordSuccessLocked(SourceIssues, attemptStart)
	s.publishLocked()
	var snapshot []model.IssueRecord
	if s.cfg.Cache != nil {
		snapshot = s.issueListLocked()
	}
	s.mu.Unlock()

	s.log.Event(zbdebug.LevelInfo, "source_updated", map[string]any{
		"source":      string(SourceIssues),
		"cycle":       cycle,
		"records":     len(records),
		"incremental": since != nil,
		"attempts":    attempts,
	})
	s.afterSuccess(SourceIssues, cycle, attempts, recovered)
	if s.cfg.Cache != nil {
		s.saveCache(ctx, func(ctx context.Context) error {
			return s.cfg.Cache.SaveIssues(ctx, snapshot, attemptStart)
		})
	}
	return nil
}

func (s *Scheduler) fetchBoard(ctx context.Context, cycle uint64) error {
	var data model.BoardData
	var attemptStart time.Time
	attempts, err := s.withRetry(ctx, SourceBoard, func(ctx context.Context) error {
		attemptStart = s.now()
		var err error
		data, err = s.cfg.Board.List(ctx)
		return err
	})
	if err != nil {
		return s.recordFailure(ctx, SourceBoard, cycle, attempts, err)
	}

	s.mu.Lock()
	s.board = data
	recovered := s.recordSuccessLocked(SourceBoard, attemptStart)
	s.publishLocked()
	s.mu.Unlock()

	s.log.Event(zbdebug.LevelInfo, "source_updated", map[string]any{
		"source":    string(SourceBoard),
		"cycle":     cycle,
		"pipelines": len(data.Pipelines),
		"records":   len(data.Records),
		"attempts":  attempts,
	})
	s.afterSuccess(SourceBoard, cycle, attempts, recovered)
	if s.cfg.Cache != nil {
		s.saveCache(ctx, func(ctx context.Context) error {
			return s.cfg.Cache.SaveBoard(ctx, data, attemptStart)
		})
	}
	return nil
}

func (s *Scheduler) recordSuccessLocked(src Source, fetchedAt time.Time) (recovered bool) {
	st := s.state[src]
	recovered = st.failing
	st.have = true
	st.fetchedAt = fetchedAt
	st.lastSuccess = s.now()
	st.failing = false
	st.stale = false
	st.staleNotified = false
	st.lastErr = nil
	return recovered
}

func (s *Scheduler) afterSuccess(src Source, cycle uint64, attempts int, recovered bool) {
	s.emit(Event{Kind: SourceUpdated, Source: src, Cycle: cycle, Attempts: attempts, At: s.now()})
	if recovered {
		s.log.Event(zbdebug.LevelInfo, "source_recovered", map[string]any{"source": string(src)})
		s.emit(Event{Kind: SourceRecovered, Source: src, Cycle: cycle, At: s.now()})
	}
}

// recordFailure keeps the last good copy, marks the source failed, and
// marks it stale once its last success is older than StaleAfter.
func (s *Scheduler) recordFailure(ctx context.Context, src Source, cycle uint64, attempts int, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	now := s.now()
	srcErr := &SourceError{Source: src, Cause: cause, Attempts: attempts, Time: now}

	s.mu.Lock()
	st := s.state[src]
	st.failing = true
	st.lastErr = srcErr
	tooOld := st.lastSuccess.IsZero() || now.Sub(st.lastSuccess) > s.cfg.StaleAfter
	flagChanged := tooOld && !st.stale
	if tooOld {
		st.stale = true
	}
	notifyStale := st.stale && !st.staleNotified
	if notifyStale {
		st.staleNotified = true
	}
	lastSuccess := st.lastSuccess
	if flagChanged {
		s.publishLocked()
	}
	s.mu.Unlock()

	s.log.Event(zbdebug.LevelWarn, "source_failed", map[string]any{
		"source":   string(src),
		"cycle":    cycle,
		"attempts": attempts,
		"kind":     upstream.Classify(cause).String(),
		"error":    cause,
	})
	s.emit(Event{Kind: SourceFailed, Source: src, Cycle: cycle, Err: srcErr, Attempts: attempts, LastSuccess: lastSuccess, At: now})
	if notifyStale {
		s.log.Event(zbdebug.LevelWarn, "source_stale", map[string]any{
			"source":       string(src),
			"last_success": lastSuccess,
		})
		s.emit(Event{Kind: SourceStale, Source: src, Cycle: cycle, Err: srcErr, LastSuccess: lastSuccess, At: now})
	}
	return srcErr
}

func (s *Scheduler) issueListLocked() []model.IssueRecord {
	out := make([]model.IssueRecord, 0, len(s.issues))
	for _, is := range s.issues {
		out = append(out, is)
	}
	return out
}

// publishLocked merges the last good copies and hands the result to the
// sink. Holding s.mu keeps bases arriving at the sink in merge order.
func (s *Scheduler) publishLocked() {
	issuesState, boardState := s.state[SourceIssues], s.state[SourceBoard]
	res := merge.Merge(s.issueListLocked(), s.board)
	if issuesState.have && boardState.have && res.Inconsistent() {
		s.log.Event(zbdebug.LevelWarn, "merge_inconsistency", map[string]any{
			"orphans":              res.Orphans,
			"duplicate_issues":     res.DuplicateIssues,
			"duplicate_placements": res.DuplicatePlacements,
		})
	}
	orphans := res.Orphans
	if !issuesState.have {
		orphans = nil
	}
	s.cfg.Sink.SetBase(&model.Snapshot{
		Cards:           res.Cards,
		Board:           res.Board,
		Orphans:         orphans,
		IssuesFetchedAt: issuesState.fetchedAt,
		BoardFetchedAt:  boardState.fetchedAt,
		IssuesStale:     issuesState.stale,
		BoardStale:      boardState.stale,
		ComposedAt:      s.now(),
	})
}

func (s *Scheduler) saveCache(ctx context.Context, save func(context.Context) error) {
	defer metrics.Timer(metrics.RecordCacheSave)()
	if err := save(ctx); err != nil && ctx.Err() == nil {
		s.log.Event(zbdebug.LevelWarn, "cache_save_failed", map[string]any{"error": err})
	}
}

// emit delivers ev without blocking; when the channel is full the oldest
// event is dropped so the newest wins.
func (s *Scheduler) emit(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		case <-s.ctx.Done():
			return
		default:
		}
		select {
		case <-s.events:
		default:
		}
	}
}
