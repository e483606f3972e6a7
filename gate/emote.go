package gate

import (
	"regexp"
	"strings"
)

// TokenClassifier is the strategy the gate uses to find tokens that must
// not leave the process. The heuristic boundary is empirically tuned, so
// it stays injectable rather than inline.
type TokenClassifier interface {
	// Disallowed returns the first offending token in candidate, given the
	// viewer's own message for echo exemptions.
	Disallowed(candidate, viewerMessage string) (string, bool)
}

var tokenRe = regexp.MustCompile(`[A-Za-z0-9_]{3,32}`)

// EmoteClassifier flags emote-shaped tokens (camelCase or underscored)
// that are not on the allow-list, not echoed by the viewer, and not
// @-prefixed user handles.
type EmoteClassifier struct {
	allowed map[string]bool
}

func NewEmoteClassifier(allowList []string) *EmoteClassifier {
	allowed := make(map[string]bool, len(allowList))
	for _, item := range allowList {
		if t := strings.TrimSpace(item); t != "" {
			allowed[t] = true
		}
	}
	return &EmoteClassifier{allowed: allowed}
}

func (c *EmoteClassifier) Disallowed(candidate, viewerMessage string) (string, bool) {
	if strings.TrimSpace(candidate) == "" {
		return "", false
	}
	echo := map[string]bool{}
	for _, tok := range tokenRe.FindAllString(viewerMessage, -1) {
		echo[tok] = true
	}
	for _, loc := range tokenRe.FindAllStringIndex(candidate, -1) {
		token := candidate[loc[0]:loc[1]]
		if !looksLikeEmote(token) {
			continue
		}
		if c.allowed[token] {
			continue
		}
		// The viewer typed it themselves; not ours to police.
		if echo[token] {
			continue
		}
		// @handle, not an emote.
		if loc[0] > 0 && candidate[loc[0]-1] == '@' {
			continue
		}
		return token, true
	}
	return "", false
}

func looksLikeEmote(token string) bool {
	if token == "" {
		return false
	}
	if strings.Contains(token, "_") {
		return true
	}
	for i := 1; i < len(token); i++ {
		if isUpper(token[i]) && isLower(token[i-1]) {
			return true
		}
	}
	return false
}

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
func isLower(b byte) bool { return b >= 'a' && b <= 'z' }
