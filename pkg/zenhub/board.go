package zenhub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

type estimate struct {
	Value float64 `json:"value"`
}

type boardIssue struct {
	IssueNumber int       `json:"issue_number"`
	Estimate    *estimate `json:"estimate"`
	Position    *int      `json:"position"`
	IsEpic      bool      `json:"is_epic"`
}

type pipeline struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Issues []boardIssue `json:"issues"`
}

type board struct {
	Pipelines []pipeline `json:"pipelines"`
}

type epicRef struct {
	IssueNumber int   `json:"issue_number"`
	RepoID      int64 `json:"repo_id"`
}

type moveRequest struct {
	PipelineID string `json:"pipeline_id"`
	Position   int    `json:"position"`
}

// List fetches the repository's board.
func (c *Client) List(ctx context.Context) (model.BoardData, error) {
	defer metrics.Timer(metrics.BoardFetch)()

	repoID, err := c.RepoID(ctx)
	if err != nil {
		return model.BoardData{}, err
	}
	var b board
	if err := c.get(ctx, fmt.Sprintf("/p1/repositories/%d/board", repoID), &b); err != nil {
		return model.BoardData{}, fmt.Errorf("fetching board: %w", err)
	}
	data, err := b.toModel()
	if err != nil {
		return model.BoardData{}, err
	}
	if c.resolveEpics {
		parents, err := c.epicParents(ctx, repoID)
		if err != nil {
			return model.BoardData{}, err
		}
		for i := range data.Records {
			if p, ok := parents[data.Records[i].Number]; ok {
				data.Records[i].Epic = &p
			}
		}
	}
	return data, nil
}

func (b board) toModel() (model.BoardData, error) {
	var out model.BoardData
	for _, p := range b.Pipelines {
		if p.ID == "" {
			return model.BoardData{}, &upstream.MalformedError{Service: upstream.ServiceBoard, Err: errors.New("pipeline without id")}
		}
		out.Pipelines = append(out.Pipelines, model.PipelineRef{ID: p.ID, Name: p.Name})
		for idx, is := range p.Issues {
			if is.IssueNumber <= 0 {
				return model.BoardData{}, &upstream.MalformedError{
					Service: upstream.ServiceBoard,
					Err:     fmt.Errorf("pipeline %q: invalid issue number %d", p.Name, is.IssueNumber),
				}
			}
			rec := model.BoardRecord{
				Number:       model.IssueNumber(is.IssueNumber),
				PipelineID:   p.ID,
				PipelineName: p.Name,
				Position:     idx,
				IsEpic:       is.IsEpic,
			}
			if is.Position != nil {
				rec.Position = *is.Position
			}
			if is.Estimate != nil {
				v := is.Estimate.Value
				rec.Estimate = &v
			}
			out.Records = append(out.Records, rec)
		}
	}
	return out, nil
}

// epicParents maps each child issue to its epic. Epics are fetched
// concurrently; a child listed under several epics keeps the lowest.
func (c *Client) epicParents(ctx context.Context, repoID int64) (map[model.IssueNumber]model.IssueNumber, error) {
	var list struct {
		EpicIssues []epicRef `json:"epic_issues"`
	}
	if err := c.get(ctx, fmt.Sprintf("/p1/repositories/%d/epics", repoID), &list); err != nil {
		return nil, fmt.Errorf("listing epics: %w", err)
	}

	var mu sync.Mutex
	parents := make(map[model.IssueNumber]model.IssueNumber)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(epicFetchLimit)
	for _, epic := range list.EpicIssues {
		if epic.RepoID != 0 && epic.RepoID != repoID {
			continue
		}
		g.Go(func() error {
			var detail struct {
				Issues []epicRef `json:"issues"`
			}
			path := fmt.Sprintf("/p1/repositories/%d/epics/%d", repoID, epic.IssueNumber)
			if err := c.get(gctx, path, &detail); err != nil {
				return fmt.Errorf("fetching epic #%d: %w", epic.IssueNumber, err)
			}
			parent := model.IssueNumber(epic.IssueNumber)
			mu.Lock()
			defer mu.Unlock()
			for _, child := range detail.Issues {
				if child.RepoID != 0 && child.RepoID != repoID {
					continue
				}
				n := model.IssueNumber(child.IssueNumber)
				if prev, ok := parents[n]; !ok || parent < prev {
					parents[n] = parent
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parents, nil
}

// MoveCard moves an issue to position within pipelineID.
func (c *Client) MoveCard(ctx context.Context, number model.IssueNumber, pipelineID string, position int) (model.BoardRecord, error) {
	repoID, err := c.RepoID(ctx)
	if err != nil {
		return model.BoardRecord{}, err
	}
	if position < 0 {
		position = 0
	}
	path := fmt.Sprintf("/p1/repositories/%d/issues/%d/moves", repoID, number)
	if _, err := c.do(ctx, http.MethodPost, path, moveRequest{PipelineID: pipelineID, Position: position}); err != nil {
		return model.BoardRecord{}, fmt.Errorf("moving %s: %w", number, err)
	}
	return model.BoardRecord{Number: number, PipelineID: pipelineID, Position: position}, nil
}

var _ upstream.BoardService = (*Client)(nil)
