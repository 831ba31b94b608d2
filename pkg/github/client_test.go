package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/vanderheijden86/zenboard/pkg/model"
	"github.com/vanderheijden86/zenboard/pkg/upstream"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      "test-token",
		Repository: "acme/widgets",
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, server
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"http rejected", Config{BaseURL: "http://example.com", Token: "t", Repository: "a/b"}},
		{"missing token", Config{Repository: "a/b"}},
		{"bad repository", Config{Token: "t", Repository: "nope"}},
		{"nested repository", Config{Token: "t", Repository: "a/b/c"}},
		{"bad state", Config{Token: "t", Repository: "a/b", State: "merged"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}

	c, err := NewClient(Config{Token: "t", Repository: "a/b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.baseURL != DefaultBaseURL || c.state != "open" || c.perPage != 100 {
		t.Errorf("defaults not applied: %+v", c)
	}
}

func TestList_PaginatesAndConverts(t *testing.T) {
	var serverURL string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/repos/acme/widgets/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("page") {
		case "":
			if r.URL.Query().Get("state") != "open" {
				t.Errorf("expected state=open, got %q", r.URL.RawQuery)
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/issues?page=2>; rel="next", <%s/x?page=2>; rel="last"`, serverURL, serverURL))
			fmt.Fprint(w, `[{"number":1,"title":"First","body":"hello","state":"open","html_url":"https://gh/1",
				"user":{"login":"alice"},"labels":[{"name":"bug","color":"d73a4a"},{"name":"bug","color":"000000"}],
				"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-02T00:00:00Z"}]`)
		case "2":
			fmt.Fprint(w, `[{"number":2,"title":"A PR","body":null,"state":"open","user":{"login":"bob"},
				"pull_request":{"url":"x"},"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`)
		}
	})
	c, server := newTestClient(t, handler)
	serverURL = server.URL

	issues, err := c.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(issues))
	}
	first := issues[0]
	if first.Number != 1 || first.Author != "alice" || first.Body != "hello" || first.URL != "https://gh/1" {
		t.Errorf("unexpected first issue: %+v", first)
	}
	if len(first.Labels) != 1 || first.Labels[0].Color != "d73a4a" {
		t.Errorf("labels not normalized: %+v", first.Labels)
	}
	if first.IsPullRequest {
		t.Error("issue misreported as pull request")
	}
	if !issues[1].IsPullRequest || issues[1].Body != "" {
		t.Errorf("unexpected PR record: %+v", issues[1])
	}
}

func TestList_SinceRequestsAllStates(t *testing.T) {
	since := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != "all" || q.Get("since") != "2025-03-01T10:00:00Z" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `[]`)
	}))
	issues, err := c.List(context.Background(), &since)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues, got %d", len(issues))
	}
}

func TestList_ETagServesCachedBody(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, `[{"number":7,"title":"cached","state":"open","user":{"login":"x"},
			"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`)
	}))

	for i := 0; i < 2; i++ {
		issues, err := c.List(context.Background(), nil)
		if err != nil {
			t.Fatalf("List #%d: %v", i, err)
		}
		if len(issues) != 1 || issues[0].Title != "cached" {
			t.Fatalf("List #%d returned %+v", i, issues)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 requests, got %d", calls.Load())
	}
}

func TestList_NotModifiedKeepsPaginating(t *testing.T) {
	var serverURL string
	var notModified atomic.Int32
	c, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		etag := `"p1"`
		if page == "2" {
			etag = `"p2"`
		}
		if r.Header.Get("If-None-Match") == etag {
			// Bare 304: no Link header.
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		if page == "2" {
			fmt.Fprint(w, `[{"number":2,"title":"second","state":"open","user":{"login":"x"},
				"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/acme/widgets/issues?page=2>; rel="next"`, serverURL))
		fmt.Fprint(w, `[{"number":1,"title":"first","state":"open","user":{"login":"x"},
			"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`)
	}))
	serverURL = server.URL

	for i := 0; i < 2; i++ {
		issues, err := c.List(context.Background(), nil)
		if err != nil {
			t.Fatalf("List #%d: %v", i, err)
		}
		if len(issues) != 2 {
			t.Fatalf("List #%d: got %d issues, want 2", i, len(issues))
		}
		if issues[0].Number != 1 || issues[1].Number != 2 {
			t.Errorf("List #%d: unexpected order %+v", i, issues)
		}
	}
	if got := notModified.Load(); got != 2 {
		t.Errorf("expected both pages answered with 304, got %d", got)
	}
}

func TestList_SinceBypassesETagCache(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" {
			t.Errorf("conditional request sent for %q", r.URL.RawQuery)
		}
		w.Header().Set("ETag", `"s"`)
		fmt.Fprint(w, `[]`)
	}))

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		since := base.Add(time.Duration(i) * 30 * time.Second)
		if _, err := c.List(context.Background(), &since); err != nil {
			t.Fatalf("List: %v", err)
		}
	}
	if n := c.etags.len(); n != 0 {
		t.Errorf("incremental listings cached %d entries, want 0", n)
	}

	if _, err := c.List(context.Background(), nil); err != nil {
		t.Fatalf("List: %v", err)
	}
	if n := c.etags.len(); n != 1 {
		t.Errorf("full listing cached %d entries, want 1", n)
	}
}

func TestList_ErrorsAreClassified(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, `{"message":"Validation Failed","documentation_url":"https://docs",
				"errors":[{"resource":"Issue","field":"title","code":"missing_field"}]}`)
		}))
		_, err := c.List(context.Background(), nil)
		var rejected *upstream.RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("expected RejectedError, got %v", err)
		}
		if rejected.StatusCode != 422 || !strings.Contains(rejected.Message, "Issue.title: missing_field") {
			t.Errorf("unexpected rejection: %+v", rejected)
		}
		if rejected.DocumentationURL != "https://docs" {
			t.Errorf("documentation url = %q", rejected.DocumentationURL)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"not":"a list"}`)
		}))
		_, err := c.List(context.Background(), nil)
		if !upstream.IsMalformed(err) {
			t.Fatalf("expected malformed error, got %v", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		c, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()
		_, err := c.List(context.Background(), nil)
		if !upstream.IsTransport(err) {
			t.Fatalf("expected transport error, got %v", err)
		}
	})

	t.Run("non-json error body", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream down")
		}))
		_, err := c.List(context.Background(), nil)
		var rejected *upstream.RejectedError
		if !errors.As(err, &rejected) || rejected.StatusCode != 502 || rejected.Message != "upstream down" {
			t.Fatalf("unexpected error %v", err)
		}
	})
}

func TestUpdate_SendsOnlyChangedFields(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/repos/acme/widgets/issues/5" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["body"]; ok {
			t.Errorf("body should be omitted: %s", raw)
		}
		if body["title"] != "Renamed" {
			t.Errorf("title = %v", body["title"])
		}
		fmt.Fprint(w, `{"number":5,"title":"Renamed","state":"open","user":{"login":"x"},
			"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-03T00:00:00Z"}`)
	}))

	title := "Renamed"
	rec, err := c.Update(context.Background(), 5, upstream.IssuePatch{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Number != model.IssueNumber(5) || rec.Title != "Renamed" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestGetRepository(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":4242,"full_name":"acme/widgets"}`)
	}))
	id, err := c.RepositoryID(context.Background())
	if err != nil {
		t.Fatalf("RepositoryID: %v", err)
	}
	if id != 4242 {
		t.Errorf("id = %d, want 4242", id)
	}
}

func TestParseLinkNext(t *testing.T) {
	tests := map[string]string{
		"": "",
		`<https://api.github.com/x?page=2>; rel="next", <https://api.github.com/x?page=5>; rel="last"`: "https://api.github.com/x?page=2",
		`<https://api.github.com/x?page=1>; rel="prev"`:                                               "",
		`garbage`: "",
	}
	for header, want := range tests {
		if got := parseLinkNext(header); got != want {
			t.Errorf("parseLinkNext(%q) = %q, want %q", header, got, want)
		}
	}
}
