package director

import (
	"regexp"
	"strings"

	"github.com/cland3stine/roonie/behavior"
	"github.com/cland3stine/roonie/convo"
)

// Defaults for the continuation thresholds. These were tuned against live
// chat and are kept overridable rather than generalized.
const (
	DefaultMaxIntervening = 3
	DefaultStreakCap      = 4
)

var defaultMusicKeywords = []string{
	"track", "song", "tune", "mix", "set", "remix", "drop", "bpm",
	"vinyl", "deck", "bassline", "transition", "genre", "artist", "label",
}

var defaultDeicticPhrases = []string{
	"what about", "how about", "and the", "same for",
	"that one", "this one", "the other one",
}

var secondPersonRe = regexp.MustCompile(`\b(?:you|your|yours|u|ur)\b`)

// ContinuationConfig tunes when a non-addressed message is treated as part
// of an open thread with the same viewer.
type ContinuationConfig struct {
	MaxIntervening int
	StreakCap      int
	OtherNames     []string // recognized people whose mentions redirect the thread away
	MusicKeywords  []string
	DeicticPhrases []string
}

func (c ContinuationConfig) withDefaults() ContinuationConfig {
	if c.MaxIntervening <= 0 {
		c.MaxIntervening = DefaultMaxIntervening
	}
	if c.StreakCap <= 0 {
		c.StreakCap = DefaultStreakCap
	}
	if len(c.MusicKeywords) == 0 {
		c.MusicKeywords = defaultMusicKeywords
	}
	if len(c.DeicticPhrases) == 0 {
		c.DeicticPhrases = defaultDeicticPhrases
	}
	return c
}

// evaluateContinuation decides whether a non-addressed message continues
// the open thread. First match wins; the hard-negative vetoes run before
// any affinity scoring because stealing a reply meant for another human is
// the costly failure.
func evaluateContinuation(
	ev Event,
	category behavior.Category,
	cls *behavior.Classifier,
	buf *convo.Buffer,
	anchor *convo.Anchor,
	streak int,
	cfg ContinuationConfig,
) (bool, NoopReason) {
	viewer, intervening, ok := buf.LastThread()
	if !ok || viewer != strings.ToLower(strings.TrimSpace(ev.Viewer)) {
		return false, NoopNoRecentThread
	}
	if intervening > cfg.MaxIntervening {
		return false, NoopNoRecentThread
	}

	if ev.ReplyParent != "" && !cls.IsPersonaName(ev.ReplyParent) {
		return false, NoopReplyParentOther
	}
	if _, other := cls.MentionsOtherHandle(ev.Text); other {
		return false, NoopMentionOtherUser
	}
	if tail, isGreeting := behavior.GreetingTail(ev.Text); isGreeting && namesOther(tail, cfg.OtherNames) {
		return false, NoopGreetingOtherUser
	}
	if vocativeNamesOther(ev.Text, cfg.OtherNames) {
		return false, NoopTargetingOtherName
	}

	if category == behavior.CategoryOther && !hasContinuityCue(ev.Text, anchor, cfg) {
		return false, NoopLowAffinityOther
	}

	if streak >= cfg.StreakCap {
		return false, NoopCapped
	}
	return true, ""
}

// hasContinuityCue looks for evidence the message still talks to the
// persona: music vocabulary, second-person pronouns, a deictic follow-up,
// or overlap with the active topic anchor.
func hasContinuityCue(text string, anchor *convo.Anchor, cfg ContinuationConfig) bool {
	lowered := strings.ToLower(text)
	for _, kw := range cfg.MusicKeywords {
		if containsWord(lowered, kw) {
			return true
		}
	}
	if secondPersonRe.MatchString(lowered) {
		return true
	}
	for _, phrase := range cfg.DeicticPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return anchor != nil && anchor.Overlaps(text)
}

func namesOther(token string, others []string) bool {
	t := strings.ToLower(strings.Trim(strings.TrimSpace(token), "@!?.,:;"))
	if t == "" {
		return false
	}
	for _, name := range others {
		if t == strings.ToLower(strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

// vocativeNamesOther checks whether the message opens or closes by naming
// one of the configured other significant people.
func vocativeNamesOther(text string, others []string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return namesOther(fields[0], others) || namesOther(fields[len(fields)-1], others)
}

func containsWord(lowered, word string) bool {
	idx := 0
	for {
		i := strings.Index(lowered[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(lowered[start-1])
		afterOK := end == len(lowered) || !isWordByte(lowered[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
