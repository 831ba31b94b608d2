package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// ErrInjected is returned by fakes when a failure has been queued.
var ErrInjected = &upstream.TransportError{Service: "fake", Op: "injected", Err: errors.New("injected failure")}

// gate lets a test hold a call until it is released.
type gate struct {
	mu      sync.Mutex
	blocked chan struct{}
	entered chan struct{}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	blocked, entered := g.blocked, g.entered
	g.mu.Unlock()
	if blocked == nil {
		return nil
	}
	select {
	case entered <- struct{}{}:
	default:
	}
	select {
	case <-blocked:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Block makes subsequent calls wait until Release. Entered receives a value
// each time a call starts waiting.
func (g *gate) Block() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked = make(chan struct{})
	g.entered = make(chan struct{}, 16)
	return g.entered
}

// Release lets waiting and future calls proceed.
func (g *gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.blocked != nil {
		close(g.blocked)
		g.blocked = nil
	}
}

// FakeIssueService is an in-memory upstream.IssueService.
type FakeIssueService struct {
	gate

	mu       sync.Mutex
	issues   map[model.IssueNumber]model.IssueRecord
	failures []error
	listErr  error
	calls    int
	updates  []upstream.IssuePatch
	sinces   []*time.Time
	now      func() time.Time
}

// NewFakeIssueService returns a service holding issues.
func NewFakeIssueService(issues []model.IssueRecord) *FakeIssueService {
	f := &FakeIssueService{issues: map[model.IssueNumber]model.IssueRecord{}, now: time.Now}
	f.SetIssues(issues)
	return f
}

// SetIssues replaces the stored issues.
func (f *FakeIssueService) SetIssues(issues []model.IssueRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = make(map[model.IssueNumber]model.IssueRecord, len(issues))
	for _, is := range issues {
		f.issues[is.Number] = is
	}
}

// FailNext queues errors returned by the next calls, one per call.
func (f *FakeIssueService) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// FailAlways makes every List call fail with err until cleared with nil.
func (f *FakeIssueService) FailAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// Calls returns the number of List and Update calls made.
func (f *FakeIssueService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Sinces returns the since argument of every List call.
func (f *FakeIssueService) Sinces() []*time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sinces)
}

// Updates returns every patch received.
func (f *FakeIssueService) Updates() []upstream.IssuePatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.updates)
}

func (f *FakeIssueService) nextFailure() error {
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

// List implements upstream.IssueService.
func (f *FakeIssueService) List(ctx context.Context, since *time.Time) ([]model.IssueRecord, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if err := f.nextFailure(); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.IssueRecord, 0, len(f.issues))
	for _, is := range f.issues {
		if since != nil && is.UpdatedAt.Before(*since) {
			continue
		}
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b model.IssueRecord) int { return int(a.Number - b.Number) })
	return out, nil
}

// Update implements upstream.IssueService.
func (f *FakeIssueService) Update(ctx context.Context, n model.IssueNumber, patch upstream.IssuePatch) (model.IssueRecord, error) {
	if err := f.wait(ctx); err != nil {
		return model.IssueRecord{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	if err := f.nextFailure(); err != nil {
		return model.IssueRecord{}, err
	}
	rec, ok := f.issues[n]
	if !ok {
		return model.IssueRecord{}, &upstream.RejectedError{Service: upstream.ServiceIssues, StatusCode: 404, Message: "Not Found"}
	}
	if patch.Title != nil {
		rec.Title = *patch.Title
	}
	if patch.Body != nil {
		rec.Body = *patch.Body
	}
	rec.UpdatedAt = f.now()
	f.issues[n] = rec
	return rec, nil
}

// MoveCall records one MoveCard request.
type MoveCall struct {
	Number     model.IssueNumber
	PipelineID string
	Position   int
}

// FakeBoardService is an in-memory upstream.BoardService.
type FakeBoardService struct {
	gate

	mu       sync.Mutex
	board    model.BoardData
	failures []error
	listErr  error
	calls    int
	moves    []MoveCall
	onMove   func(MoveCall)
}

// NewFakeBoardService returns a service holding board.
func NewFakeBoardService(board model.BoardData) *FakeBoardService {
	return &FakeBoardService{board: board}
}

// SetBoard replaces the stored board.
func (f *FakeBoardService) SetBoard(board model.BoardData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.board = board
}

// FailNext queues errors returned by the next calls, one per call.
func (f *FakeBoardService) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// FailAlways makes every List call fail with err until cleared with nil.
func (f *FakeBoardService) FailAlways(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

// OnMove registers a hook run (without locks held) when MoveCard is called.
func (f *FakeBoardService) OnMove(fn func(MoveCall)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMove = fn
}

// Calls returns the number of List and MoveCard calls made.
func (f *FakeBoardService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Moves returns every MoveCard request received.
func (f *FakeBoardService) Moves() []MoveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.moves)
}

func (f *FakeBoardService) nextFailure() error {
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	return nil
}

// List implements upstream.BoardService.
func (f *FakeBoardService) List(ctx context.Context) (model.BoardData, error) {
	if err := f.wait(ctx); err != nil {
		return model.BoardData{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextFailure(); err != nil {
		return model.BoardData{}, err
	}
	if f.listErr != nil {
		return model.BoardData{}, f.listErr
	}
	return model.BoardData{
		Pipelines: slices.Clone(f.board.Pipelines),
		Records:   slices.Clone(f.board.Records),
	}, nil
}

// MoveCard implements upstream.BoardService. A successful move is applied
// to the stored board so later List calls reflect it.
func (f *FakeBoardService) MoveCard(ctx context.Context, n model.IssueNumber, pipelineID string, position int) (model.BoardRecord, error) {
	call := MoveCall{Number: n, PipelineID: pipelineID, Position: position}
	f.mu.Lock()
	hook := f.onMove
	f.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if err := f.wait(ctx); err != nil {
		return model.BoardRecord{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, call)
	if err := f.nextFailure(); err != nil {
		return model.BoardRecord{}, err
	}
	f.applyMoveLocked(call)
	return model.BoardRecord{Number: n, PipelineID: pipelineID, Position: position}, nil
}

func (f *FakeBoardService) applyMoveLocked(call MoveCall) {
	var name string
	for _, p := range f.board.Pipelines {
		if p.ID == call.PipelineID {
			name = p.Name
		}
	}
	var target []model.BoardRecord
	var rest []model.BoardRecord
	for _, r := range f.board.Records {
		switch {
		case r.Number == call.Number:
		case r.PipelineID == call.PipelineID:
			target = append(target, r)
		default:
			rest = append(rest, r)
		}
	}
	slices.SortStableFunc(target, func(a, b model.BoardRecord) int { return a.Position - b.Position })
	pos := model.ClampPosition(call.Position, len(target))
	moved := model.BoardRecord{Number: call.Number, PipelineID: call.PipelineID, PipelineName: name}
	target = slices.Insert(target, pos, moved)
	for i := range target {
		target[i].Position = i
	}
	f.board.Records = append(rest, target...)
}
