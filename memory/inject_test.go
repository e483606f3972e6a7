package memory

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type fakeSource struct {
	notes []Note
	err   error
}

func (f *fakeSource) ActiveNotes(_ context.Context) ([]Note, error) {
	return f.notes, f.err
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
}

func TestBuildFiltersPII(t *testing.T) {
	src := &fakeSource{notes: []Note{
		{Text: "keep it chill during late sets", Tags: []string{"tone_preferences"}},
		{Text: "reach me at someone@example.com", Tags: []string{"tone_preferences"}},
		{Text: "token=abc123supersecret", Tags: []string{"stream_norms"}},
		{Text: "oauth:abcdefgh1234 is the bot login", Tags: []string{"stream_norms"}},
	}}
	inj := NewInjector(src, nil, 0, 0, fixedNow)

	got, err := inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ItemsUsed != 1 {
		t.Fatalf("ItemsUsed = %d, want 1", got.ItemsUsed)
	}
	if got.DroppedCount != 3 {
		t.Fatalf("DroppedCount = %d, want 3", got.DroppedCount)
	}
	if !strings.Contains(got.Snippet, "tone_preferences: keep it chill") {
		t.Fatalf("Snippet = %q", got.Snippet)
	}
}

func TestBuildAllowedKeysOnly(t *testing.T) {
	src := &fakeSource{notes: []Note{
		{Text: "no spoilers about the tracklist", Tags: []string{"do_not_do"}},
		{Text: "mod-only channel plans", Tags: []string{"mod_notes"}},
	}}
	inj := NewInjector(src, nil, 0, 0, fixedNow)

	got, err := inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ItemsUsed != 1 {
		t.Fatalf("ItemsUsed = %d, want 1", got.ItemsUsed)
	}
	if got.KeysUsed[0] != "do_not_do" {
		t.Fatalf("KeysUsed = %v", got.KeysUsed)
	}
}

func TestBuildSkipsExpired(t *testing.T) {
	src := &fakeSource{notes: []Note{
		{Text: "anniversary stream shoutouts", Tags: []string{"stream_norms"}, ExpiresAt: fixedNow().Add(-time.Hour)},
		{Text: "fridays are requests night", Tags: []string{"stream_norms"}, ExpiresAt: fixedNow().Add(time.Hour)},
	}}
	inj := NewInjector(src, nil, 0, 0, fixedNow)

	got, err := inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ItemsUsed != 1 || !strings.Contains(got.Snippet, "requests night") {
		t.Fatalf("Snippet = %q, items = %d", got.Snippet, got.ItemsUsed)
	}
}

func TestBuildCapsItemsAndChars(t *testing.T) {
	var notes []Note
	for i := 0; i < 20; i++ {
		notes = append(notes, Note{Text: "warm and playful with regulars", Tags: []string{"tone_preferences"}})
	}
	src := &fakeSource{notes: notes}

	inj := NewInjector(src, nil, 0, 3, fixedNow)
	got, err := inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.ItemsUsed != 3 {
		t.Fatalf("ItemsUsed = %d, want 3", got.ItemsUsed)
	}

	inj = NewInjector(src, nil, 60, 0, fixedNow)
	got, err = inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got.CharsUsed > 60 {
		t.Fatalf("CharsUsed = %d, want <= 60", got.CharsUsed)
	}
	if !strings.HasSuffix(got.Snippet, "...") {
		t.Fatalf("expected ellipsis truncation, got %q", got.Snippet)
	}
}

func TestBuildTruncatesOnRuneBoundary(t *testing.T) {
	src := &fakeSource{notes: []Note{
		{Text: strings.Repeat("é", 40), Tags: []string{"tone_preferences"}},
	}}
	// The cap lands mid-rune in the note body; the cut must back up to
	// the previous boundary instead of emitting a broken byte.
	inj := NewInjector(src, nil, 30, 0, fixedNow)

	got, err := inj.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !utf8.ValidString(got.Snippet) {
		t.Fatalf("Snippet is not valid UTF-8: %q", got.Snippet)
	}
	if !strings.HasSuffix(got.Snippet, "...") || got.CharsUsed > 30 {
		t.Fatalf("Snippet = %q, chars = %d", got.Snippet, got.CharsUsed)
	}
}

func TestDecodeTags(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`["Tone-Preferences"]`, "tone_preferences"},
		{`stream norms, do-not-do`, "stream_norms"},
	}
	for _, tc := range cases {
		got := decodeTags(tc.raw)
		if len(got) == 0 || got[0] != tc.want {
			t.Fatalf("decodeTags(%q) = %v, want first %q", tc.raw, got, tc.want)
		}
	}
}
