package github

import (
	"context"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

// pageIterator walks a paginated listing by following Link rel="next".
// It is not safe for concurrent use.
type pageIterator[T any] struct {
	client  *Client
	nextURL string
}

func newPageIterator[T any](c *Client, path string) *pageIterator[T] {
	return &pageIterator[T]{client: c, nextURL: c.baseURL + path}
}

// next returns the next page, or nil, nil when the listing is exhausted.
func (it *pageIterator[T]) next(ctx context.Context) ([]T, error) {
	if it.nextURL == "" {
		return nil, nil
	}
	data, header, err := it.client.doURL(ctx, http.MethodGet, it.nextURL, nil)
	if err != nil {
		return nil, err
	}
	items := []T{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &upstream.MalformedError{Service: upstream.ServiceIssues, Err: err}
	}
	it.nextURL = parseLinkNext(header.Get("Link"))
	return items, nil
}

// collect fetches every remaining page.
func (it *pageIterator[T]) collect(ctx context.Context) ([]T, error) {
	var all []T
	for it.nextURL != "" {
		items, err := it.next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// parseLinkNext extracts the rel="next" URL from an RFC 5988 Link header.
//
//	<https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkNext(header string) string {
	for _, part := range strings.Split(header, ",") {
		target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
		if !ok || !strings.Contains(params, `rel="next"`) {
			continue
		}
		target = strings.TrimSpace(target)
		if strings.HasPrefix(target, "<") && strings.HasSuffix(target, ">") {
			return target[1 : len(target)-1]
		}
	}
	return ""
}
