// Package recordcache keeps the last good records of each upstream source in
// a local SQLite database so zb can show a (stale) board immediately on
// startup while the first fetch is in flight.
package recordcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/zenboard/pkg/metrics"
	"github.com/vanderheijden86/zenboard/pkg/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS issues (
	repository TEXT NOT NULL,
	number     INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	data       BLOB NOT NULL,
	PRIMARY KEY (repository, number)
);
CREATE TABLE IF NOT EXISTS boards (
	repository TEXT PRIMARY KEY,
	data       BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS fetches (
	repository TEXT NOT NULL,
	source     TEXT NOT NULL,
	fetched_at TEXT NOT NULL,
	PRIMARY KEY (repository, source)
);
`

const (
	sourceIssues = "issues"
	sourceBoard  = "board"
)

// Cache stores records for one repository.
type Cache struct {
	db         *sql.DB
	path       string
	repository string
}

// Warm is what a previous run left behind. Nil fields were never saved.
type Warm struct {
	Issues   []model.IssueRecord
	IssuesAt time.Time
	Board    *model.BoardData
	BoardAt  time.Time
}

// Empty reports whether nothing was cached.
func (w Warm) Empty() bool {
	return w.Issues == nil && w.Board == nil
}

// Open opens (creating if needed) the cache database at path.
func Open(path, repository string) (*Cache, error) {
	if repository == "" {
		return nil, errors.New("recordcache: repository is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, path: path, repository: repository}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// migrate creates the schema, discarding caches written by other versions.
func (c *Cache) migrate() error {
	var version int
	if err := c.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading cache version: %w", err)
	}
	if version != 0 && version != schemaVersion {
		for _, table := range []string{"issues", "boards", "fetches"} {
			if _, err := c.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("resetting cache: %w", err)
			}
		}
	}
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("creating cache schema: %w", err)
	}
	if _, err := c.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("writing cache version: %w", err)
	}
	return nil
}

// Path returns the database file.
func (c *Cache) Path() string { return c.path }

// Close closes the database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// SaveIssues replaces the cached issue list.
func (c *Cache) SaveIssues(ctx context.Context, issues []model.IssueRecord, fetchedAt time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM issues WHERE repository = ?", c.repository); err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO issues (repository, number, updated_at, data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("saving issues: %w", err)
	}
	defer stmt.Close()
	for _, is := range issues {
		data, err := json.Marshal(is)
		if err != nil {
			return fmt.Errorf("encoding issue %s: %w", is.Number, err)
		}
		if _, err := stmt.ExecContext(ctx, c.repository, int(is.Number), formatTime(is.UpdatedAt), data); err != nil {
			return fmt.Errorf("saving issue %s: %w", is.Number, err)
		}
	}
	if err := c.touch(ctx, tx, sourceIssues, fetchedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveBoard replaces the cached board.
func (c *Cache) SaveBoard(ctx context.Context, board model.BoardData, fetchedAt time.Time) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("encoding board: %w", err)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving board: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO boards (repository, data) VALUES (?, ?)
		ON CONFLICT(repository) DO UPDATE SET data = excluded.data`, c.repository, data); err != nil {
		return fmt.Errorf("saving board: %w", err)
	}
	if err := c.touch(ctx, tx, sourceBoard, fetchedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Cache) touch(ctx context.Context, tx *sql.Tx, source string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO fetches (repository, source, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(repository, source) DO UPDATE SET fetched_at = excluded.fetched_at`,
		c.repository, source, formatTime(at))
	if err != nil {
		return fmt.Errorf("recording %s fetch time: %w", source, err)
	}
	return nil
}

// Load returns everything cached for the repository. Undecodable rows are
// skipped.
func (c *Cache) Load(ctx context.Context) (Warm, error) {
	var w Warm
	times, err := c.fetchTimes(ctx)
	if err != nil {
		return w, err
	}

	if at, ok := times[sourceIssues]; ok {
		issues, err := c.loadIssues(ctx)
		if err != nil {
			return w, err
		}
		w.Issues, w.IssuesAt = issues, at
	}
	if at, ok := times[sourceBoard]; ok {
		var raw []byte
		err := c.db.QueryRowContext(ctx, "SELECT data FROM boards WHERE repository = ?", c.repository).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return w, fmt.Errorf("loading board: %w", err)
		default:
			var board model.BoardData
			if err := json.Unmarshal(raw, &board); err == nil {
				w.Board, w.BoardAt = &board, at
			}
		}
	}

	if w.Empty() {
		metrics.RecordCacheWarm.Miss()
	} else {
		metrics.RecordCacheWarm.Hit()
	}
	return w, nil
}

func (c *Cache) fetchTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT source, fetched_at FROM fetches WHERE repository = ?", c.repository)
	if err != nil {
		return nil, fmt.Errorf("loading fetch times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var source, at string
		if err := rows.Scan(&source, &at); err != nil {
			return nil, fmt.Errorf("loading fetch times: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			continue
		}
		out[source] = t
	}
	return out, rows.Err()
}

func (c *Cache) loadIssues(ctx context.Context) ([]model.IssueRecord, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT data FROM issues WHERE repository = ? ORDER BY number", c.repository)
	if err != nil {
		return nil, fmt.Errorf("loading issues: %w", err)
	}
	defer rows.Close()

	issues := []model.IssueRecord{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("loading issues: %w", err)
		}
		var is model.IssueRecord
		if err := json.Unmarshal(raw, &is); err != nil {
			continue
		}
		if err := is.Validate(); err != nil {
			continue
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// Clear removes everything cached for the repository.
func (c *Cache) Clear(ctx context.Context) error {
	for _, table := range []string{"issues", "boards", "fetches"} {
		if _, err := c.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE repository = ?", c.repository); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
