// Package mutation applies user changes to the board optimistically and
// reconciles them with the upstream services.
//
// Every submitted intent becomes an overlay. The published snapshot is
// always the latest authoritative base with the active overlays applied in
// submission order. Mutations to the same card reach the network one at a
// time in submission order; different cards proceed concurrently.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	zbdebug "github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/merge"
	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/store"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// Config configures a Coordinator.
type Config struct {
	Store  *store.Store
	Issues upstream.IssueService
	Board  upstream.BoardService

	// OnConfirmed runs after a mutation is confirmed, outside any lock.
	// The application wires it to the scheduler's RefreshNow.
	OnConfirmed func()

	EventBuffer int
	Log         *zbdebug.EventLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator owns all pending mutation bookkeeping. It implements
// fetch.Sink: the scheduler hands it every authoritative base.
type Coordinator struct {
	cfg Config
	log *zbdebug.EventLogger
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	base    *model.Snapshot
	seq     uint64
	active  []*PendingMutation
	queues  map[model.IssueNumber][]*PendingMutation
	running map[model.IssueNumber]bool
	stopped bool

	events chan Event
}

// New validates cfg and returns a coordinator with an empty base.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("mutation: store is required")
	}
	if cfg.Issues == nil || cfg.Board == nil {
		return nil, errors.New("mutation: both issue and board services are required")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Log
	if logger == nil {
		logger = zbdebug.NewEventLogger("mutation_coordinator")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:     cfg,
		log:     logger,
		now:     cfg.Now,
		ctx:     ctx,
		cancel:  cancel,
		base:    model.EmptySnapshot(),
		queues:  make(map[model.IssueNumber][]*PendingMutation),
		running: make(map[model.IssueNumber]bool),
		events:  make(chan Event, cfg.EventBuffer),
	}, nil
}

// Events returns mutation state changes. When the consumer falls behind,
// the oldest events are dropped.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// SetBase installs a new authoritative snapshot, drops confirmed overlays
// the base has caught up with, and publishes the recomposed view.
func (c *Coordinator) SetBase(base *model.Snapshot) {
	if base == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base = base

	kept := c.active[:0:0]
	for _, m := range c.active {
		if m.State == Confirmed && caughtUp(base, m) {
			c.log.Event(zbdebug.LevelDebug, "overlay_dropped", map[string]any{
				"seq":    m.Seq,
				"target": int(m.Target),
			})
			continue
		}
		kept = append(kept, m)
	}
	c.active = kept
	c.publishLocked()
}

// caughtUp reports whether base was fetched after m was confirmed by the
// service that owns the changed fields.
func caughtUp(base *model.Snapshot, m *PendingMutation) bool {
	switch m.Intent.(type) {
	case Move:
		return base.BoardFetchedAt.After(m.ResolvedAt)
	case Edit:
		return base.IssuesFetchedAt.After(m.ResolvedAt)
	}
	return true
}

// Submit validates intent against the current view, publishes the
// optimistic result and returns without waiting for the network.
func (c *Coordinator) Submit(intent Intent) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0, ErrStopped
	}

	view := c.composeLocked()
	intent, err := validate(view, intent)
	if err != nil {
		c.log.Event(zbdebug.LevelInfo, "mutation_rejected", map[string]any{
			"intent": fmt.Sprintf("%v", intent),
			"error":  err,
		})
		return 0, err
	}

	c.seq++
	m := &PendingMutation{
		Seq:         c.seq,
		Target:      intent.Target(),
		Intent:      intent,
		BaseVersion: c.base.Version,
		State:       Pending,
		SubmittedAt: c.now(),
	}
	c.active = append(c.active, m)
	q := append(c.queues[m.Target], m)
	c.queues[m.Target] = q
	if !c.running[m.Target] {
		c.running[m.Target] = true
		c.wg.Add(1)
		go c.drain(m.Target)
	}

	c.log.Event(zbdebug.LevelInfo, "mutation_submitted", map[string]any{
		"seq":    m.Seq,
		"intent": intent.String(),
		"queued": len(q),
	})
	c.publishLocked()
	c.emit(Event{Kind: EventSubmitted, Mutation: *m, At: m.SubmittedAt})
	return m.Seq, nil
}

// validate checks intent against view and normalizes it.
func validate(view *model.Snapshot, intent Intent) (Intent, error) {
	switch in := intent.(type) {
	case Move:
		if _, ok := view.Card(in.Number); !ok {
			return in, fmt.Errorf("%w: %s", ErrUnknownCard, in.Number)
		}
		p := view.Board.PipelineIndex(in.PipelineID)
		if p < 0 {
			return in, fmt.Errorf("%w: %q", ErrUnknownPipeline, in.PipelineID)
		}
		length := len(view.Board.Pipelines[p].Cards)
		if slices.Contains(view.Board.Pipelines[p].Cards, in.Number) {
			length--
		}
		in.Position = model.ClampPosition(in.Position, length)
		return in, nil
	case Edit:
		if _, ok := view.Card(in.Number); !ok {
			return in, fmt.Errorf("%w: %s", ErrUnknownCard, in.Number)
		}
		if in.Title == nil && in.Body == nil {
			return in, fmt.Errorf("%w: %s", ErrEmptyEdit, in.Number)
		}
		return in, nil
	case nil:
		return nil, errors.New("mutation: nil intent")
	default:
		return in, fmt.Errorf("mutation: unsupported intent %T", intent)
	}
}

// drain sends the queued mutations of one card to the network in order.
func (c *Coordinator) drain(target model.IssueNumber) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.log.Event(zbdebug.LevelError, "drain_panic", map[string]any{
				"target": int(target),
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			})
		}
	}()

	for {
		c.mu.Lock()
		q := c.queues[target]
		if len(q) == 0 || c.stopped {
			delete(c.queues, target)
			delete(c.running, target)
			c.mu.Unlock()
			return
		}
		m := q[0]
		c.mu.Unlock()

		err := c.send(m)
		if c.ctx.Err() != nil {
			return
		}
		c.resolve(m, err)
	}
}

func (c *Coordinator) send(m *PendingMutation) error {
	defer metrics.Timer(metrics.MutationRoundTrip)()
	switch in := m.Intent.(type) {
	case Move:
		_, err := c.cfg.Board.MoveCard(c.ctx, in.Number, in.PipelineID, in.Position)
		return err
	case Edit:
		_, err := c.cfg.Issues.Update(c.ctx, in.Number, upstream.IssuePatch{Title: in.Title, Body: in.Body})
		return err
	}
	return fmt.Errorf("mutation: unsupported intent %T", m.Intent)
}

// resolve records the outcome of m, pops it from its card queue and
// republishes. Failures are rolled back and never retried.
func (c *Coordinator) resolve(m *PendingMutation, err error) {
	c.mu.Lock()
	if q := c.queues[m.Target]; len(q) > 0 && q[0] == m {
		c.queues[m.Target] = q[1:]
	}
	m.ResolvedAt = c.now()
	var ev Event
	if err == nil {
		m.State = Confirmed
		ev = Event{Kind: EventConfirmed, Mutation: *m, At: m.ResolvedAt}
	} else {
		m.State = Failed
		m.Err = err
		c.active = slices.DeleteFunc(c.active, func(a *PendingMutation) bool { return a == m })
		m.State = RolledBack
		ev = Event{Kind: EventRolledBack, Mutation: *m, At: m.ResolvedAt}
	}
	c.publishLocked()
	c.mu.Unlock()

	fields := map[string]any{
		"seq":        m.Seq,
		"intent":     m.Intent.String(),
		"latency_ms": m.ResolvedAt.Sub(m.SubmittedAt).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err
		fields["kind"] = upstream.Classify(err).String()
		c.log.Event(zbdebug.LevelWarn, "mutation_rolled_back", fields)
	} else {
		c.log.Event(zbdebug.LevelInfo, "mutation_confirmed", fields)
	}
	c.emit(ev)
	if err == nil && c.cfg.OnConfirmed != nil {
		c.cfg.OnConfirmed()
	}
}

// Pending returns the number of mutations awaiting a server response.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.active {
		if m.State == Pending {
			n++
		}
	}
	return n
}

// Active returns copies of the pending and confirmed-but-unreconciled
// mutations in submission order.
func (c *Coordinator) Active() []PendingMutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PendingMutation, len(c.active))
	for i, m := range c.active {
		out[i] = *m
	}
	return out
}

// Stop abandons in-flight submissions. Stop is idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.log.Event(zbdebug.LevelWarn, "shutdown_timeout", nil)
	}
	c.log.Event(zbdebug.LevelInfo, "coordinator_stop", nil)
}

// composeLocked applies the active overlays in sequence order to a copy of
// the base. Overlays whose card or pipeline vanished are skipped.
func (c *Coordinator) composeLocked() *model.Snapshot {
	snap := c.base.Clone()
	for _, m := range c.active {
		if !apply(snap, m.Intent) {
			continue
		}
		if m.State == Pending {
			if snap.Optimistic == nil {
				snap.Optimistic = make(map[model.IssueNumber]bool)
			}
			snap.Optimistic[m.Target] = true
		}
	}
	merge.Summarize(&snap.Board, snap.Cards)
	snap.ComposedAt = c.now()
	return snap
}

func apply(snap *model.Snapshot, intent Intent) bool {
	switch in := intent.(type) {
	case Move:
		card, ok := snap.Cards[in.Number]
		if !ok {
			return false
		}
		p := snap.Board.PipelineIndex(in.PipelineID)
		if p < 0 {
			return false
		}
		snap.Board.Remove(in.Number)
		card.Positioned = true
		card.PipelineID = in.PipelineID
		card.PipelineName = snap.Board.Pipelines[p].Name
		card.Position = snap.Board.Insert(p, in.Position, in.Number)
		snap.Cards[in.Number] = card
		return true
	case Edit:
		card, ok := snap.Cards[in.Number]
		if !ok {
			return false
		}
		if in.Title != nil {
			card.Title = *in.Title
		}
		if in.Body != nil {
			card.Body = *in.Body
		}
		snap.Cards[in.Number] = card
		return true
	}
	return false
}

func (c *Coordinator) publishLocked() {
	defer metrics.Timer(metrics.Compose)()
	c.cfg.Store.Publish(c.composeLocked())
}

// emit delivers ev without blocking; when the channel is full the oldest
// event is dropped.
func (c *Coordinator) emit(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}
