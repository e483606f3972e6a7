package convo

import (
	"regexp"
	"strings"
)

type AnchorKind string

const (
	AnchorMusic   AnchorKind = "music"
	AnchorGeneral AnchorKind = "general"
)

// DefaultAnchorTTL is how many turns an anchor survives without renewal.
const DefaultAnchorTTL = 8

// Distinctive "proper noun + small number" phrases ("Purple Disco 93",
// "episode 12") make useful subject anchors; plain chatter does not.
var anchorRe = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9]*(?:\s+[A-Za-z0-9]+){0,2}\s+\d{1,3})\b`)

var anchorArticles = map[string]bool{
	"the": true, "latest": true, "this": true, "that": true, "a": true, "an": true,
}

// Anchor tracks the active subject of recent chat. It is consulted only
// under explicit continuity signals; stale anchors decay by turn count.
type Anchor struct {
	token     string
	kind      AnchorKind
	remaining int
	ttl       int
}

func NewAnchor(ttl int) *Anchor {
	if ttl <= 0 {
		ttl = DefaultAnchorTTL
	}
	return &Anchor{ttl: ttl}
}

// Observe extracts an anchor candidate from the message and, when found,
// replaces the current anchor with a fresh TTL.
func (a *Anchor) Observe(message string, kind AnchorKind) {
	token := ExtractAnchorToken(message)
	if token == "" {
		return
	}
	if kind != AnchorMusic {
		kind = AnchorGeneral
	}
	a.token = token
	a.kind = kind
	a.remaining = a.ttl
}

// Tick ages the anchor by one turn; at zero it is discarded.
func (a *Anchor) Tick() {
	if a.remaining <= 0 {
		return
	}
	a.remaining--
	if a.remaining == 0 {
		a.token = ""
	}
}

func (a *Anchor) Current() (string, AnchorKind, bool) {
	if a.token == "" || a.remaining <= 0 {
		return "", "", false
	}
	return a.token, a.kind, true
}

func (a *Anchor) Clear() {
	a.token = ""
	a.kind = ""
	a.remaining = 0
}

// Overlaps reports lexical overlap between the anchor token and a message.
func (a *Anchor) Overlaps(message string) bool {
	token, _, ok := a.Current()
	if !ok {
		return false
	}
	msg := strings.ToLower(message)
	for _, word := range strings.Fields(strings.ToLower(token)) {
		if len(word) >= 3 && strings.Contains(msg, word) {
			return true
		}
	}
	return false
}

func ExtractAnchorToken(message string) string {
	text := strings.TrimSpace(message)
	if text == "" {
		return ""
	}
	text = leadingMentionRe.ReplaceAllString(text, "")
	m := anchorRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	tokens := strings.Fields(m[1])
	for len(tokens) > 0 && anchorArticles[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		tokens = strings.Fields(m[1])
	}
	return strings.Join(tokens, " ")
}
