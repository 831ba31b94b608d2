package mutation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/merge"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/store"
	"github.com/vanderheijden86/zenboard/pkg/testutil"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *store.Store
	issues    *testutil.FakeIssueService
	board     *testutil.FakeBoardService
	clock     *testutil.Clock
	coord     *Coordinator
	confirmed atomic.Int32
}

// newFixture builds a board with pipe-0 = [1 2 3], pipe-1 = [4] and
// issue 5 unpositioned.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gen := testutil.NewDefault()
	issues := gen.Issues(5)
	boardData := gen.Layout([]int{1, 2, 3}, []int{4})

	f := &fixture{
		store:  store.New(),
		issues: testutil.NewFakeIssueService(issues),
		board:  testutil.NewFakeBoardService(boardData),
		clock:  testutil.NewClock(t0.Add(time.Hour)),
	}
	c, err := New(Config{
		Store:       f.store,
		Issues:      f.issues,
		Board:       f.board,
		OnConfirmed: func() { f.confirmed.Add(1) },
		Now:         f.clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Stop)
	f.coord = c
	c.SetBase(base(issues, boardData, t0))
	return f
}

func base(issues []model.IssueRecord, board model.BoardData, fetchedAt time.Time) *model.Snapshot {
	res := merge.Merge(issues, board)
	return &model.Snapshot{
		Cards:           res.Cards,
		Board:           res.Board,
		Orphans:         res.Orphans,
		IssuesFetchedAt: fetchedAt,
		BoardFetchedAt:  fetchedAt,
	}
}

func waitEvent(t *testing.T, c *Coordinator, kind EventKind) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without a store")
	}
	if _, err := New(Config{Store: store.New()}); err == nil {
		t.Error("expected error without services")
	}
}

func TestSetBasePublishes(t *testing.T) {
	f := newFixture(t)
	snap := f.store.Current()
	if snap.Version == 0 {
		t.Fatal("base was not published")
	}
	testutil.AssertBoardConsistent(t, snap)
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 1, 2, 3)
	if snap.Board.Pipelines[0].Summary.Count != 3 {
		t.Errorf("summary count = %d", snap.Board.Pipelines[0].Summary.Count)
	}
}

func TestOptimisticMoveVisibleBeforeConfirmation(t *testing.T) {
	f := newFixture(t)
	entered := f.board.Block()

	if _, err := f.coord.Submit(Move{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := f.store.Current()
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 1, 2)
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 3, 4)
	testutil.AssertBoardConsistent(t, snap)
	if !snap.IsOptimistic(3) {
		t.Error("moved card should be marked optimistic")
	}
	card, _ := snap.Card(3)
	if card.PipelineID != testutil.PipelineID(1) || card.Position != 0 || !card.Positioned {
		t.Errorf("card placement not overlaid: %+v", card)
	}
	if f.coord.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", f.coord.Pending())
	}
	if snap.Board.Pipelines[1].Summary.Count != 2 {
		t.Error("summaries should be recomputed for the composed view")
	}

	<-entered
	f.board.Release()
	ev := waitEvent(t, f.coord, EventConfirmed)
	if ev.Mutation.State != Confirmed || ev.Mutation.Target != 3 {
		t.Errorf("unexpected event %+v", ev)
	}

	testutil.WaitFor(t, time.Second, "confirmation hook", func() bool { return f.confirmed.Load() == 1 })
	snap = f.store.Current()
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 3, 4)
	if snap.IsOptimistic(3) {
		t.Error("confirmed card should no longer be optimistic")
	}
	moves := f.board.Moves()
	if len(moves) != 1 || moves[0] != (testutil.MoveCall{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}) {
		t.Errorf("unexpected moves %+v", moves)
	}
}

func TestRollbackOnFailure(t *testing.T) {
	f := newFixture(t)
	f.board.FailNext(&upstream.RejectedError{Service: upstream.ServiceBoard, StatusCode: 422, Message: "Validation Failed"})
	before := f.store.Current().Version

	if _, err := f.coord.Submit(Move{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ev := waitEvent(t, f.coord, EventRolledBack)
	if !upstream.IsRejected(ev.Mutation.Err) {
		t.Errorf("expected rejected error, got %v", ev.Mutation.Err)
	}
	if ev.Mutation.State != RolledBack {
		t.Errorf("state = %s", ev.Mutation.State)
	}

	snap := f.store.Current()
	if snap.Version <= before {
		t.Error("rollback should publish a new snapshot")
	}
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 1, 2, 3)
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 4)
	if snap.IsOptimistic(3) || f.coord.Pending() != 0 || len(f.coord.Active()) != 0 {
		t.Error("rolled back mutation should leave no trace")
	}
	if f.board.Calls() != 1 {
		t.Errorf("failed mutation must not be retried, got %d calls", f.board.Calls())
	}
	if f.confirmed.Load() != 0 {
		t.Error("OnConfirmed must not run for a failure")
	}
}

func TestRollbackRecomposesFromLatestBase(t *testing.T) {
	f := newFixture(t)
	entered := f.board.Block()
	f.board.FailNext(testutil.ErrInjected)

	if _, err := f.coord.Submit(Move{Number: 1, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-entered

	gen := testutil.NewDefault()
	renamed := gen.Issues(5)
	renamed[1].Title = "fresh title"
	f.coord.SetBase(base(renamed, gen.Layout([]int{1, 2, 3}, []int{4}), t0.Add(30*time.Minute)))
	testutil.AssertPipeline(t, f.store.Current(), testutil.PipelineID(1), 1, 4)

	f.board.Release()
	waitEvent(t, f.coord, EventRolledBack)

	snap := f.store.Current()
	testutil.AssertTitle(t, snap, 2, "fresh title")
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 1, 2, 3)
}

func TestSameCardMutationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var started []testutil.MoveCall
	f.board.OnMove(func(call testutil.MoveCall) {
		mu.Lock()
		started = append(started, call)
		mu.Unlock()
	})
	entered := f.board.Block()

	for _, in := range []Move{
		{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0},
		{Number: 3, PipelineID: testutil.PipelineID(0), Position: 0},
	} {
		if _, err := f.coord.Submit(in); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	snap := f.store.Current()
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 3, 1, 2)
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 4)

	<-entered
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	inFlight := len(started)
	mu.Unlock()
	if inFlight != 1 {
		t.Fatalf("expected one request in flight for the card, got %d", inFlight)
	}

	f.board.Release()
	testutil.WaitFor(t, time.Second, "both moves", func() bool { return f.confirmed.Load() == 2 })
	moves := f.board.Moves()
	if len(moves) != 2 || moves[0].PipelineID != testutil.PipelineID(1) || moves[1].PipelineID != testutil.PipelineID(0) {
		t.Errorf("moves not sent in submission order: %+v", moves)
	}
	if f.coord.Pending() != 0 {
		t.Errorf("Pending() = %d after confirmations", f.coord.Pending())
	}
}

func TestDifferentCardsProceedConcurrently(t *testing.T) {
	f := newFixture(t)
	entered := f.board.Block()

	if _, err := f.coord.Submit(Move{Number: 1, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.coord.Submit(Move{Number: 4, PipelineID: testutil.PipelineID(0), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(time.Second):
			t.Fatalf("only %d of 2 independent mutations started", i)
		}
	}
	if f.coord.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", f.coord.Pending())
	}
	f.board.Release()
	testutil.WaitFor(t, time.Second, "both confirmations", func() bool { return f.confirmed.Load() == 2 })
}

func TestConfirmedOverlayKeptUntilLaterBase(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Submit(Move{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitEvent(t, f.coord, EventConfirmed)
	gen := testutil.NewDefault()
	issues := gen.Issues(5)
	stale := gen.Layout([]int{1, 2, 3}, []int{4})

	// A fetch that started before the confirmation does not reflect it.
	f.coord.SetBase(base(issues, stale, t0.Add(30*time.Minute)))
	testutil.AssertPipeline(t, f.store.Current(), testutil.PipelineID(1), 3, 4)
	if len(f.coord.Active()) != 1 {
		t.Fatalf("confirmed overlay should be kept, active = %d", len(f.coord.Active()))
	}

	// A later fetch is authoritative even when it disagrees.
	f.coord.SetBase(base(issues, stale, t0.Add(2*time.Hour)))
	snap := f.store.Current()
	testutil.AssertPipeline(t, snap, testutil.PipelineID(0), 1, 2, 3)
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 4)
	if len(f.coord.Active()) != 0 {
		t.Error("overlay should be dropped once the base catches up")
	}
}

func TestEditOverlay(t *testing.T) {
	f := newFixture(t)
	entered := f.issues.Block()
	title, body := "new title", "new body"

	if _, err := f.coord.Submit(Edit{Number: 2, Title: &title, Body: &body}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := f.store.Current()
	testutil.AssertTitle(t, snap, 2, "new title")
	if c, _ := snap.Card(2); c.Body != "new body" || !snap.IsOptimistic(2) {
		t.Errorf("edit not overlaid: %+v", c)
	}

	<-entered
	f.issues.Release()
	waitEvent(t, f.coord, EventConfirmed)
	updates := f.issues.Updates()
	if len(updates) != 1 || *updates[0].Title != "new title" || *updates[0].Body != "new body" {
		t.Errorf("unexpected patch %+v", updates)
	}

	// A board-only refresh does not reconcile an edit.
	gen := testutil.NewDefault()
	issues := gen.Issues(5)
	layout := gen.Layout([]int{1, 2, 3}, []int{4})
	b := base(issues, layout, t0)
	b.BoardFetchedAt = t0.Add(2 * time.Hour)
	f.coord.SetBase(b)
	testutil.AssertTitle(t, f.store.Current(), 2, "new title")

	issues[1].Title = "server title"
	f.coord.SetBase(base(issues, layout, t0.Add(2*time.Hour)))
	testutil.AssertTitle(t, f.store.Current(), 2, "server title")
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	version := f.store.Current().Version
	empty := ""

	tests := []struct {
		name   string
		intent Intent
		want   error
	}{
		{"unknown card", Move{Number: 99, PipelineID: testutil.PipelineID(0)}, ErrUnknownCard},
		{"unknown pipeline", Move{Number: 1, PipelineID: "nope"}, ErrUnknownPipeline},
		{"edit unknown card", Edit{Number: 99, Title: &empty}, ErrUnknownCard},
		{"empty edit", Edit{Number: 1}, ErrEmptyEdit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Submit(tt.intent)
			if !errors.Is(err, tt.want) {
				t.Errorf("Submit() error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := f.coord.Submit(nil); err == nil {
		t.Error("nil intent should be rejected")
	}

	if f.store.Current().Version != version {
		t.Error("rejected submissions must not publish")
	}
	if f.coord.Pending() != 0 || f.board.Calls() != 0 || f.issues.Calls() != 0 {
		t.Error("rejected submissions must not reach the network")
	}
}

func TestMovePositionIsClamped(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Submit(Move{Number: 1, PipelineID: testutil.PipelineID(1), Position: 99}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	testutil.AssertPipeline(t, f.store.Current(), testutil.PipelineID(1), 4, 1)
	waitEvent(t, f.coord, EventConfirmed)
	if moves := f.board.Moves(); len(moves) != 1 || moves[0].Position != 1 {
		t.Errorf("expected clamped position 1, got %+v", moves)
	}
}

func TestMoveUnpositionedCard(t *testing.T) {
	f := newFixture(t)
	if _, err := f.coord.Submit(Move{Number: 5, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	snap := f.store.Current()
	testutil.AssertPipeline(t, snap, testutil.PipelineID(1), 5, 4)
	if len(snap.Board.Unpositioned) != 0 {
		t.Errorf("card should leave the unpositioned list: %v", snap.Board.Unpositioned)
	}
	testutil.AssertBoardConsistent(t, snap)
}

func TestOverlayForVanishedCardIsSkipped(t *testing.T) {
	f := newFixture(t)
	entered := f.board.Block()
	if _, err := f.coord.Submit(Move{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-entered

	gen := testutil.NewDefault()
	issues := gen.Issues(2)
	f.coord.SetBase(base(issues, gen.Layout([]int{1, 2}, nil), t0.Add(2*time.Hour)))

	snap := f.store.Current()
	testutil.AssertBoardConsistent(t, snap)
	if _, ok := snap.Card(3); ok {
		t.Error("vanished card should not be resurrected by its overlay")
	}
	if f.coord.Pending() != 1 {
		t.Error("overlay for a vanished card stays pending")
	}
	f.board.Release()
}

func TestStopAbandonsInFlight(t *testing.T) {
	f := newFixture(t)
	entered := f.board.Block()
	if _, err := f.coord.Submit(Move{Number: 3, PipelineID: testutil.PipelineID(1), Position: 0}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-entered

	done := make(chan struct{})
	go func() {
		f.coord.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return promptly")
	}
	if _, err := f.coord.Submit(Move{Number: 1, PipelineID: testutil.PipelineID(1)}); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit after Stop = %v, want ErrStopped", err)
	}
	if f.confirmed.Load() != 0 {
		t.Error("abandoned mutation must not be confirmed")
	}
}
