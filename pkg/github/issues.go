package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

type user struct {
	Login string `json:"login"`
}

type label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// issue is the REST representation. Pull requests come back from the
// issues endpoint with a non-null pull_request object.
type issue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        *string    `json:"body"`
	State       string     `json:"state"`
	HTMLURL     string     `json:"html_url"`
	User        user       `json:"user"`
	Labels      []label    `json:"labels"`
	PullRequest *struct{}  `json:"pull_request"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

func (i issue) record() model.IssueRecord {
	labels := make([]model.Label, len(i.Labels))
	for j, l := range i.Labels {
		labels[j] = model.Label{Name: l.Name, Color: l.Color}
	}
	rec := model.IssueRecord{
		Number:        model.IssueNumber(i.Number),
		Title:         i.Title,
		Labels:        model.NormalizeLabels(labels),
		Author:        i.User.Login,
		State:         model.IssueState(i.State),
		IsPullRequest: i.PullRequest != nil,
		URL:           i.HTMLURL,
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
		ClosedAt:      i.ClosedAt,
	}
	if i.Body != nil {
		rec.Body = *i.Body
	}
	return rec
}

// updateIssueRequest only sends non-nil fields.
type updateIssueRequest struct {
	Title *string `json:"title,omitempty"`
	Body  *string `json:"body,omitempty"`
}

func (c *Client) listPath(since *time.Time) string {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("sort", "updated")
	q.Set("direction", "asc")
	if since != nil {
		q.Set("state", "all")
		q.Set("since", since.UTC().Format(time.RFC3339))
	} else {
		q.Set("state", c.state)
	}
	return fmt.Sprintf("/repos/%s/%s/issues?%s", c.owner, c.repo, q.Encode())
}

// List returns the repository's issues, including pull requests.
func (c *Client) List(ctx context.Context, since *time.Time) ([]model.IssueRecord, error) {
	defer metrics.Timer(metrics.IssueFetch)()

	raw, err := newPageIterator[issue](c, c.listPath(since)).collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing issues of %s: %w", c.Repository(), err)
	}
	out := make([]model.IssueRecord, 0, len(raw))
	for _, i := range raw {
		rec := i.record()
		if err := rec.Validate(); err != nil {
			return nil, &upstream.MalformedError{Service: upstream.ServiceIssues, Err: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns a single issue.
func (c *Client) Get(ctx context.Context, number model.IssueNumber) (model.IssueRecord, error) {
	var i issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", c.owner, c.repo, number)
	if err := c.get(ctx, path, &i); err != nil {
		return model.IssueRecord{}, fmt.Errorf("getting issue %s%s: %w", c.Repository(), number, err)
	}
	return i.record(), nil
}

// Update patches an issue's title and/or body.
func (c *Client) Update(ctx context.Context, number model.IssueNumber, patch upstream.IssuePatch) (model.IssueRecord, error) {
	if patch.IsEmpty() {
		return c.Get(ctx, number)
	}
	var i issue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", c.owner, c.repo, number)
	req := updateIssueRequest{Title: patch.Title, Body: patch.Body}
	if err := c.patch(ctx, path, req, &i); err != nil {
		return model.IssueRecord{}, fmt.Errorf("updating issue %s%s: %w", c.Repository(), number, err)
	}
	return i.record(), nil
}

var _ upstream.IssueService = (*Client)(nil)
