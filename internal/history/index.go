package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/vox/internal/domain"
)

// Index is a sqlite search index over session turn text. The JSON history
// file stays the source of truth; the index is derived and rebuildable.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (and migrates) the index database at path.
func OpenIndex(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		app TEXT NOT NULL,
		content TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}
	return &Index{db: db}, nil
}

func (i *Index) Close() error { return i.db.Close() }

// Put upserts a session's searchable text.
func (i *Index) Put(rec domain.Session) error {
	var parts []string
	for _, t := range rec.Turns {
		if !t.Pending && t.Content != "" {
			parts = append(parts, t.Content)
		}
	}
	_, err := i.db.Exec(`
		INSERT INTO sessions (id, started_at, app, content) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`, rec.ID, rec.StartedAt, rec.AppContext.Name, strings.Join(parts, "\n"))
	return err
}

// Delete removes a session from the index.
func (i *Index) Delete(id string) error {
	_, err := i.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Match is one search hit.
type Match struct {
	ID      string
	App     string
	Snippet string
}

// Search returns sessions whose turn text contains the query, newest first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := i.db.QueryContext(ctx, `
		SELECT id, app, content FROM sessions
		WHERE content LIKE ? ORDER BY started_at DESC LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var content string
		if err := rows.Scan(&m.ID, &m.App, &content); err != nil {
			return nil, err
		}
		m.Snippet = snippet(content, query)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// snippet trims content to a short window around the first match.
func snippet(content, query string) string {
	idx := strings.Index(strings.ToLower(content), strings.ToLower(query))
	if idx < 0 {
		idx = 0
	}
	start := idx - 30
	if start < 0 {
		start = 0
	}
	end := idx + len(query) + 30
	if end > len(content) {
		end = len(content)
	}
	// Snap to rune boundaries; byte offsets may land mid-rune.
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}
	out := strings.ReplaceAll(content[start:end], "\n", " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}
