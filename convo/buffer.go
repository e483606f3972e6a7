// Package convo holds per-session conversation state: the bounded turn
// buffer and the short-lived topic anchor. Both are process-local and
// explicitly non-persistent.
package convo

import (
	"regexp"
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type Turn struct {
	At            time.Time
	Speaker       Speaker
	Viewer        string
	Text          string
	Category      string
	DirectAddress bool
	Continuation  bool
}

const (
	// DefaultCapacity bounds the ring; DefaultSurface is how many of the
	// newest turns generation may see.
	DefaultCapacity = 12
	DefaultSurface  = 8
)

var (
	interrogativeRe  = regexp.MustCompile(`(?i)^(what|why|how|where|when|can|do|does|is|are)\b`)
	leadingMentionRe = regexp.MustCompile(`^@[\w_]+\s+`)
)

var utilityCategories = map[string]bool{
	"TRACK_ID":           true,
	"EVENT_FOLLOW":       true,
	"EVENT_SUB":          true,
	"EVENT_CHEER":        true,
	"EVENT_RAID":         true,
	"PROACTIVE_FAVORITE": true,
}

// Buffer is a deterministic in-memory ring of turns. An assistant turn is
// appended only after confirmed emission, never speculatively.
type Buffer struct {
	capacity int
	surface  int
	turns    []Turn
	now      func() time.Time
}

func NewBuffer(capacity, surface int, now func() time.Time) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if surface <= 0 || surface > capacity {
		surface = min(DefaultSurface, capacity)
	}
	if now == nil {
		now = time.Now
	}
	return &Buffer{capacity: capacity, surface: surface, now: now}
}

// AddUserTurn stores the turn when it passes the relevance gate. Returns
// whether it was stored.
func (b *Buffer) AddUserTurn(t Turn) bool {
	t.Speaker = SpeakerUser
	t.Text = strings.TrimSpace(t.Text)
	t.Viewer = strings.ToLower(strings.TrimSpace(t.Viewer))
	if t.Text == "" {
		return false
	}
	if !userRelevant(t) {
		return false
	}
	if t.At.IsZero() {
		t.At = b.now()
	}
	b.append(t)
	return true
}

// AddAssistantTurn appends the persona's reply. Callers invoke it only
// after the output gate confirms emission. It refuses to store a reply
// into a conversation with no user turns.
func (b *Buffer) AddAssistantTurn(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	hasUser := false
	for _, t := range b.turns {
		if t.Speaker == SpeakerUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return false
	}
	b.append(Turn{At: b.now(), Speaker: SpeakerAssistant, Text: text})
	return true
}

func (b *Buffer) append(t Turn) {
	b.turns = append(b.turns, t)
	if len(b.turns) > b.capacity {
		b.turns = b.turns[len(b.turns)-b.capacity:]
	}
}

// Recent returns up to the surface count of newest turns, newest first.
func (b *Buffer) Recent() []Turn {
	n := min(b.surface, len(b.turns))
	out := make([]Turn, 0, n)
	for i := len(b.turns) - 1; i >= len(b.turns)-n; i-- {
		out = append(out, b.turns[i])
	}
	return out
}

func (b *Buffer) Len() int { return len(b.turns) }

func (b *Buffer) Clear() { b.turns = nil }

// LastThread reports who the persona last replied to: the viewer of the
// newest user turn preceding the last emitted assistant turn, and how many
// stored user turns from other viewers have arrived since that reply.
func (b *Buffer) LastThread() (viewer string, intervening int, ok bool) {
	lastAssistant := -1
	for i := len(b.turns) - 1; i >= 0; i-- {
		if b.turns[i].Speaker == SpeakerAssistant {
			lastAssistant = i
			break
		}
	}
	if lastAssistant < 0 {
		return "", 0, false
	}
	for i := lastAssistant - 1; i >= 0; i-- {
		if b.turns[i].Speaker == SpeakerUser {
			viewer = b.turns[i].Viewer
			break
		}
	}
	if viewer == "" {
		return "", 0, false
	}
	for i := lastAssistant + 1; i < len(b.turns); i++ {
		t := b.turns[i]
		if t.Speaker == SpeakerUser && t.Viewer != viewer {
			intervening++
		}
	}
	return viewer, intervening, true
}

func userRelevant(t Turn) bool {
	if t.DirectAddress || t.Continuation {
		return true
	}
	if strings.Contains(t.Text, "?") {
		return true
	}
	probe := leadingMentionRe.ReplaceAllString(t.Text, "")
	if interrogativeRe.MatchString(probe) {
		return true
	}
	return utilityCategories[strings.ToUpper(t.Category)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
