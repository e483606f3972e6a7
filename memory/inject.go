package memory

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultAllowedKeys are the note tags eligible for prompt injection.
// Anything else stays out of the prompt no matter what the row says.
var DefaultAllowedKeys = []string{
	"tone_preferences",
	"stream_norms",
	"approved_phrases",
	"do_not_do",
}

const (
	DefaultMaxChars = 900
	DefaultMaxItems = 10
)

var (
	emailRe       = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	ipv4Re        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	bearerRe      = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{8,}\b`)
	oauthRe       = regexp.MustCompile(`(?i)\boauth:[A-Za-z0-9._\-]{8,}\b`)
	tokenAssignRe = regexp.MustCompile(`(?i)\b(?:token|secret|api[_\-]?key)\s*[:=]\s*\S+`)
)

func containsPII(text string) bool {
	return emailRe.MatchString(text) ||
		ipv4Re.MatchString(text) ||
		bearerRe.MatchString(text) ||
		oauthRe.MatchString(text) ||
		tokenAssignRe.MatchString(text)
}

// Injection is the bounded, filtered snippet attached to a generation
// request, plus the counters the trace exposes.
type Injection struct {
	Snippet      string
	KeysUsed     []string
	CharsUsed    int
	ItemsUsed    int
	DroppedCount int
}

type NoteSource interface {
	ActiveNotes(ctx context.Context) ([]Note, error)
}

type Injector struct {
	source      NoteSource
	allowedKeys []string
	maxChars    int
	maxItems    int
	now         func() time.Time
}

func NewInjector(source NoteSource, allowedKeys []string, maxChars, maxItems int, now func() time.Time) *Injector {
	if len(allowedKeys) == 0 {
		allowedKeys = DefaultAllowedKeys
	}
	normalized := make([]string, 0, len(allowedKeys))
	seen := map[string]bool{}
	for _, k := range allowedKeys {
		if n := normalizeTag(k); n != "" && !seen[n] {
			normalized = append(normalized, n)
			seen[n] = true
		}
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if now == nil {
		now = time.Now
	}
	return &Injector{source: source, allowedKeys: normalized, maxChars: maxChars, maxItems: maxItems, now: now}
}

// Build assembles the injection snippet: allow-listed tags only, PII and
// credential-shaped rows dropped, expired rows skipped, deterministic char
// and item caps with ellipsis truncation.
func (inj *Injector) Build(ctx context.Context) (Injection, error) {
	if inj == nil || inj.source == nil {
		return Injection{}, nil
	}
	notes, err := inj.source.ActiveNotes(ctx)
	if err != nil {
		return Injection{}, err
	}

	now := inj.now().UTC()
	var (
		lines    []string
		keysUsed []string
		dropped  int
	)
	for _, note := range notes {
		if len(lines) >= inj.maxItems {
			break
		}
		text := strings.TrimSpace(note.Text)
		if text == "" {
			continue
		}
		if !note.ExpiresAt.IsZero() && !note.ExpiresAt.After(now) {
			continue
		}
		if containsPII(text) {
			dropped++
			continue
		}
		matched := ""
		for _, key := range inj.allowedKeys {
			for _, tag := range note.Tags {
				if tag == key {
					matched = key
					break
				}
			}
			if matched != "" {
				break
			}
		}
		if matched == "" {
			continue
		}

		line := "- " + matched + ": " + text
		current := strings.Join(lines, "\n")
		sep := 0
		if current != "" {
			sep = 1
		}
		if len(current)+sep+len(line) > inj.maxChars {
			remaining := inj.maxChars - len(current) - sep
			if remaining <= 0 {
				break
			}
			if remaining > 3 {
				line = strings.TrimSpace(truncateBytes(line, remaining-3)) + "..."
			} else {
				line = truncateBytes(line, remaining)
			}
			if line != "" {
				lines = append(lines, line)
				keysUsed = appendUnique(keysUsed, matched)
			}
			break
		}
		lines = append(lines, line)
		keysUsed = appendUnique(keysUsed, matched)
	}

	snippet := strings.Join(lines, "\n")
	return Injection{
		Snippet:      snippet,
		KeysUsed:     keysUsed,
		CharsUsed:    len(snippet),
		ItemsUsed:    len(lines),
		DroppedCount: dropped,
	}, nil
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}
