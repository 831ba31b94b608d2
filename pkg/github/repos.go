package github

import (
	"context"
	"fmt"
)

// Repository is the subset of the repository resource zb uses.
type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// GetRepository fetches the configured repository. The board service keys
// boards by the numeric repository id.
func (c *Client) GetRepository(ctx context.Context) (Repository, error) {
	var r Repository
	path := fmt.Sprintf("/repos/%s/%s", c.owner, c.repo)
	if err := c.get(ctx, path, &r); err != nil {
		return Repository{}, fmt.Errorf("getting repository %s: %w", c.Repository(), err)
	}
	return r, nil
}

// RepositoryID is GetRepository(ctx).ID.
func (c *Client) RepositoryID(ctx context.Context) (int64, error) {
	r, err := c.GetRepository(ctx)
	if err != nil {
		return 0, err
	}
	return r.ID, nil
}
