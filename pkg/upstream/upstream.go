// Package upstream defines the interfaces zb uses to talk to the issue
// tracker and the board service, and the error taxonomy they share.
package upstream

import (
	"context"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/model"
)

// Service names used in errors and log events.
const (
	ServiceIssues = "issues"
	ServiceBoard  = "board"
)

// IssuePatch is a partial issue update. Nil fields are left unchanged.
type IssuePatch struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

// IsEmpty returns true if the patch changes nothing.
func (p IssuePatch) IsEmpty() bool {
	return p.Title == nil && p.Body == nil
}

// IssueService lists and updates issues.
type IssueService interface {
	// List returns issues. When since is non-nil only issues updated at or
	// after that instant are returned, regardless of their state.
	List(ctx context.Context, since *time.Time) ([]model.IssueRecord, error)
	// Update applies patch and returns the issue as stored upstream.
	Update(ctx context.Context, number model.IssueNumber, patch IssuePatch) (model.IssueRecord, error)
}

// BoardService reads the board and moves cards on it.
type BoardService interface {
	List(ctx context.Context) (model.BoardData, error)
	// MoveCard places the card at position within the pipeline.
	MoveCard(ctx context.Context, number model.IssueNumber, pipelineID string, position int) (model.BoardRecord, error)
}
