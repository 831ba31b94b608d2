package mutation

import (
	"errors"
	"fmt"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

var (
	// ErrUnknownCard is returned when a mutation targets a card that is not
	// on the board.
	ErrUnknownCard = errors.New("unknown card")
	// ErrUnknownPipeline is returned when a move names a pipeline that is
	// not on the board.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrEmptyEdit is returned for an edit that changes nothing.
	ErrEmptyEdit = errors.New("edit changes nothing")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("mutation coordinator stopped")
)

// Intent is a user-requested change to one card.
type Intent interface {
	Target() model.IssueNumber
	String() string
}

// Move places a card at Position within the pipeline PipelineID.
type Move struct {
	Number     model.IssueNumber
	PipelineID string
	Position   int
}

func (m Move) Target() model.IssueNumber { return m.Number }

func (m Move) String() string {
	return fmt.Sprintf("move %s to %s@%d", m.Number, m.PipelineID, m.Position)
}

// Edit replaces a card's title and/or body. Nil fields are left unchanged.
type Edit struct {
	Number model.IssueNumber
	Title  *string
	Body   *string
}

func (e Edit) Target() model.IssueNumber { return e.Number }

func (e Edit) String() string {
	switch {
	case e.Title != nil && e.Body != nil:
		return fmt.Sprintf("edit %s title and body", e.Number)
	case e.Title != nil:
		return fmt.Sprintf("edit %s title", e.Number)
	default:
		return fmt.Sprintf("edit %s body", e.Number)
	}
}

// State is the lifecycle position of a submitted mutation.
type State int

const (
	Pending State = iota
	Confirmed
	Failed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PendingMutation is the coordinator's record of one submitted intent.
type PendingMutation struct {
	Seq         uint64
	Target      model.IssueNumber
	Intent      Intent
	BaseVersion uint64
	State       State
	SubmittedAt time.Time
	ResolvedAt  time.Time
	Err         error
}

// EventKind identifies a mutation event.
type EventKind int

const (
	EventSubmitted EventKind = iota
	EventConfirmed
	EventRolledBack
)

func (k EventKind) String() string {
	switch k {
	case EventSubmitted:
		return "submitted"
	case EventConfirmed:
		return "confirmed"
	case EventRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event reports a mutation state change. Mutation is a copy taken at the
// time of the change.
type Event struct {
	Kind     EventKind
	Mutation PendingMutation
	At       time.Time
}
