// Package memory retrieves curated contextual notes (tone preferences,
// channel norms, approved phrases, prohibitions) for prompt injection.
// Notes are operator-maintained rows in a sqlite database; this package is
// strictly read-only over them.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Note struct {
	Text      string
	Tags      []string
	UpdatedAt time.Time
	ExpiresAt time.Time
}

type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("memory: empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("memory: %s: %w", pragma, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const notesQuery = `
SELECT note, tags, expires_at, updated_at
FROM cultural_notes
WHERE is_active = 1
ORDER BY updated_at DESC, created_at DESC
LIMIT 200`

// ActiveNotes returns the newest active notes. Expiry filtering happens in
// the injector so it can count dropped rows.
func (s *Store) ActiveNotes(ctx context.Context) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, notesQuery)
	if err != nil {
		return nil, fmt.Errorf("memory: query notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var (
			note      string
			rawTags   sql.NullString
			expiresAt sql.NullString
			updatedAt sql.NullString
		)
		if err := rows.Scan(&note, &rawTags, &expiresAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("memory: scan note: %w", err)
		}
		n := Note{Text: strings.TrimSpace(note), Tags: decodeTags(rawTags.String)}
		if expiresAt.Valid {
			n.ExpiresAt = parseNoteTime(expiresAt.String)
		}
		if updatedAt.Valid {
			n.UpdatedAt = parseNoteTime(updatedAt.String)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

var tagCleanRe = regexp.MustCompile(`[^a-z0-9_]`)

func normalizeTag(raw string) string {
	text := strings.ToLower(strings.TrimSpace(raw))
	text = strings.NewReplacer("-", "_", " ", "_").Replace(text)
	return tagCleanRe.ReplaceAllString(text, "")
}

// decodeTags accepts either a JSON array or a comma-separated list; stored
// rows have appeared in both shapes.
func decodeTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return normalizeTags(parsed)
	}
	return normalizeTags(strings.Split(raw, ","))
}

func normalizeTags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if n := normalizeTag(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func parseNoteTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}
