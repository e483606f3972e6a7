// Package safety classifies inbound chat messages before any generation
// happens. It is a pure function of the message text: no I/O, no state.
package safety

import (
	"regexp"
	"strings"
)

type Classification string

const (
	Allowed             Classification = "allowed"
	Refuse              Classification = "refuse"
	SensitiveNoFollowup Classification = "sensitive_no_followup"
)

// ReasonPrivateInfo is the refusal reason code for personal-data and
// doxxing asks. It is stable: the trace schema exposes it to the dashboard.
const ReasonPrivateInfo = "REF_PRIVATE_INFO_DOXXING"

// Strip common prompt-injection wrappers before policy checks.
var injectionPrefixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*\[(?:system|assistant|user|inst)[^\]]*\]\s*`),
	regexp.MustCompile(`(?i)^\s*</?(?:system|assistant|user|inst|s)\b[^>]*>\s*`),
}

var refusePatterns = []*regexp.Regexp{
	// Direct personal/contact info
	regexp.MustCompile(`(?i)\b(?:your|my|his|her|their)\s+address\b`),
	regexp.MustCompile(`(?i)\b(?:home|house|street|mailing)\s+address\b`),
	regexp.MustCompile(`(?i)\b(?:phone|cell|mobile|telephone)\s+(?:number|#)\b`),
	regexp.MustCompile(`(?i)\b(?:real|full|legal)\s+name\b`),
	regexp.MustCompile(`(?i)\b(?:email|e-mail)\s+address\b`),
	// Explicit doxxing/network asks
	regexp.MustCompile(`(?i)\b(?:doxx?|doxing|doxxing)\b`),
	regexp.MustCompile(`(?i)\b(?:ip|ip\s+address|ipv4|ipv6)\b`),
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdepress(?:ed|ion)?\b`),
	regexp.MustCompile(`(?i)\bsuicid(?:e|al)\b`),
	regexp.MustCompile(`(?i)\bself[-\s]?harm\b`),
	regexp.MustCompile(`(?i)\bkill\s+myself\b`),
	regexp.MustCompile(`(?i)\b(?:want|wanna)\s+to\s+die\b`),
	regexp.MustCompile(`(?i)\bend\s+my\s+life\b`),
}

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize strips injection wrappers and collapses whitespace. Wrappers can
// nest, so stripping repeats until the text stops changing.
func Normalize(message string) string {
	text := strings.TrimSpace(message)
	for text != "" {
		changed := false
		for _, p := range injectionPrefixPatterns {
			updated := strings.TrimSpace(p.ReplaceAllString(text, ""))
			if updated != text {
				text = updated
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.TrimSpace(spaceRun.ReplaceAllString(text, " "))
}

// Classify maps a message to a safety verdict. The second return value is a
// refusal reason code, set only for Refuse.
func Classify(message string) (Classification, string) {
	normalized := Normalize(message)
	if normalized == "" {
		return Allowed, ""
	}
	for _, p := range refusePatterns {
		if p.MatchString(normalized) {
			return Refuse, ReasonPrivateInfo
		}
	}
	for _, p := range sensitivePatterns {
		if p.MatchString(normalized) {
			return SensitiveNoFollowup, ""
		}
	}
	return Allowed, ""
}
