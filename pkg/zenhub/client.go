// Package zenhub is a client for the ZenHub board API. It implements
// upstream.BoardService for a single repository's board.
package zenhub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/zenboard/pkg/debug"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

const (
	DefaultBaseURL = "https://api.zenhub.com"
	maxBodyBytes   = 32 << 20
	epicFetchLimit = 4

	maxMessageRunes = 200
)

// RepoIDFunc resolves the numeric repository id the board is keyed by.
type RepoIDFunc func(ctx context.Context) (int64, error)

// Config configures a Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL. Must use HTTPS.
	BaseURL string
	// Token is the ZenHub API token. Required.
	Token string
	// RepoID is the repository id. When zero, ResolveRepoID is called on
	// first use and the result is kept.
	RepoID        int64
	ResolveRepoID RepoIDFunc
	// ResolveEpics fills BoardRecord.Epic by walking the epic endpoints,
	// which costs one extra request per epic.
	ResolveEpics bool

	HTTPClient *http.Client
	Log        *debug.EventLogger
}

// Client talks to the ZenHub API.
type Client struct {
	baseURL      string
	token        string
	resolveEpics bool
	httpClient   *http.Client
	log          *debug.EventLogger

	mu      sync.Mutex
	repoID  int64
	resolve RepoIDFunc
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("zenhub: API client requires HTTPS (got %q)", baseURL)
	}
	if cfg.Token == "" {
		return nil, errors.New("zenhub: no token configured")
	}
	if cfg.RepoID == 0 && cfg.ResolveRepoID == nil {
		return nil, errors.New("zenhub: repository id unknown and no resolver configured")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:      baseURL,
		token:        cfg.Token,
		resolveEpics: cfg.ResolveEpics,
		httpClient:   hc,
		log:          cfg.Log,
		repoID:       cfg.RepoID,
		resolve:      cfg.ResolveRepoID,
	}, nil
}

// RepoID returns the repository id, resolving it on first use.
func (c *Client) RepoID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repoID != 0 {
		return c.repoID, nil
	}
	id, err := c.resolve(ctx)
	if err != nil {
		return 0, fmt.Errorf("zenhub: resolving repository id: %w", err)
	}
	if id <= 0 {
		return 0, fmt.Errorf("zenhub: resolver returned invalid repository id %d", id)
	}
	c.repoID = id
	c.log.Event(debug.LevelInfo, "repo_id_resolved", map[string]any{"repo_id": id})
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("zenhub: encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("zenhub: creating request: %w", err)
	}
	req.Header.Set("X-Authentication-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("zenhub: %s %s: %w", method, url, ctxErr)
		}
		return nil, &upstream.TransportError{Service: upstream.ServiceBoard, Op: method + " " + url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &upstream.TransportError{Service: upstream.ServiceBoard, Op: method + " " + url, Err: err}
	}
	c.log.Event(debug.LevelTrace, "http", map[string]any{
		"method": method,
		"url":    url,
		"status": resp.StatusCode,
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rejection(resp.StatusCode, data)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &upstream.MalformedError{Service: upstream.ServiceBoard, Err: err}
	}
	return nil
}

func rejection(status int, body []byte) error {
	rejected := &upstream.RejectedError{Service: upstream.ServiceBoard, StatusCode: status}
	var doc struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &doc); err == nil && doc.Message != "" {
		rejected.Message = doc.Message
	} else {
		rejected.Message = clip(strings.TrimSpace(string(body)), maxMessageRunes)
	}
	return rejected
}

// clip shortens s to at most n runes, keeping multi-byte characters whole.
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
