// Package github is a small GitHub REST client covering the issue endpoints
// the board needs. It implements upstream.IssueService.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

const (
	apiVersion     = "2022-11-28"
	DefaultBaseURL = "https://api.github.com"
	maxBodyBytes   = 32 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL. Must use HTTPS.
	BaseURL string
	// Token is a personal access token. Required.
	Token string
	// Repository is "owner/name". Required.
	Repository string
	// State filters full listings: "open" (default), "closed" or "all".
	State string
	// PerPage is the page size for listings (max 100).
	PerPage int

	HTTPClient *http.Client
	Log        *debug.EventLogger
}

// Client talks to the GitHub REST API for one repository.
type Client struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	state      string
	perPage    int
	httpClient *http.Client
	etags      *etagCache
	log        *debug.EventLogger
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("github: API client requires HTTPS (got %q)", baseURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("github: no token configured")
	}
	owner, repo, err := SplitRepository(cfg.Repository)
	if err != nil {
		return nil, err
	}
	state := cfg.State
	switch state {
	case "":
		state = "open"
	case "open", "closed", "all":
	default:
		return nil, fmt.Errorf("github: invalid issue state filter %q", cfg.State)
	}
	perPage := cfg.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		owner:      owner,
		repo:       repo,
		state:      state,
		perPage:    perPage,
		httpClient: hc,
		etags:      newETagCache(),
		log:        cfg.Log,
	}, nil
}

// SplitRepository parses "owner/name".
func SplitRepository(full string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("github: repository must be owner/name, got %q", full)
	}
	return owner, repo, nil
}

// Repository returns "owner/name".
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// do executes a request against path (relative to the base URL) and
// returns the response body. GET requests use conditional ETag requests;
// a 304 is answered from the cache.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, http.Header, error) {
	return c.doURL(ctx, method, c.baseURL+path, body)
}

func (c *Client) doURL(ctx context.Context, method, url string, body any) ([]byte, http.Header, error) {
	resp, err := c.doRaw(ctx, method, url, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if cached, header, ok := c.etags.lookup(url); ok {
			metrics.GitHubETag.Hit()
			return cached, header, nil
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, &upstream.TransportError{Service: upstream.ServiceIssues, Op: method + " " + url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, parseAPIError(resp.StatusCode, data)
	}
	if method == http.MethodGet {
		metrics.GitHubETag.Miss()
		if etag := resp.Header.Get("ETag"); etag != "" {
			c.etags.put(url, etag, data, resp.Header)
		}
	}
	return data, resp.Header, nil
}

func (c *Client) doRaw(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet && cacheable(url) {
		if etag := c.etags.get(url); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("github: %s %s: %w", method, url, ctxErr)
		}
		return nil, &upstream.TransportError{Service: upstream.ServiceIssues, Op: method + " " + url, Err: err}
	}
	c.log.Event(debug.LevelTrace, "http", map[string]any{
		"method": method,
		"url":    url,
		"status": resp.StatusCode,
	})
	return resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	data, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decode(data, result)
}

func (c *Client) patch(ctx context.Context, path string, body, result any) error {
	data, _, err := c.do(ctx, http.MethodPatch, path, body)
	if err != nil {
		return err
	}
	return decode(data, result)
}

func decode(data []byte, result any) error {
	if err := json.Unmarshal(data, result); err != nil {
		return &upstream.MalformedError{Service: upstream.ServiceIssues, Err: err}
	}
	return nil
}
