package github

import (
	"net/http"
	"net/url"
	"sync"
)

type etagEntry struct {
	etag   string
	body   []byte
	header http.Header
}

// etagCache maps request URLs to the last ETag, body and response header
// seen for them, so unchanged listings come back as 304 Not Modified.
// A 304 need not repeat Link, so the stored header is what pagination
// reads on a hit.
type etagCache struct {
	mu      sync.Mutex
	entries map[string]etagEntry
}

func newETagCache() *etagCache {
	return &etagCache{entries: make(map[string]etagEntry)}
}

// cacheable reports whether rawURL should take part in conditional
// requests. Incremental listings carry a fresh since= on every cycle and
// would never be asked for again.
func cacheable(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return !u.Query().Has("since")
}

func (c *etagCache) get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key].etag
}

// lookup returns the cached body and header for key.
func (c *etagCache) lookup(key string) ([]byte, http.Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.body == nil {
		return nil, nil, false
	}
	return e.body, e.header.Clone(), true
}

func (c *etagCache) put(key, etag string, body []byte, header http.Header) {
	if etag == "" || !cacheable(key) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = etagEntry{etag: etag, body: body, header: header.Clone()}
}

func (c *etagCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
