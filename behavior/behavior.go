// Package behavior maps an inbound event to a tone category and computes
// the addressing and trigger flags the director branches on.
package behavior

import (
	"regexp"
	"strings"
)

type Category string

const (
	CategoryGreeting          Category = "GREETING"
	CategoryBanter            Category = "BANTER"
	CategoryTrackID           Category = "TRACK_ID"
	CategoryEventFollow       Category = "EVENT_FOLLOW"
	CategoryEventSub          Category = "EVENT_SUB"
	CategoryEventCheer        Category = "EVENT_CHEER"
	CategoryEventRaid         Category = "EVENT_RAID"
	CategoryProactiveFavorite Category = "PROACTIVE_FAVORITE"
	CategoryOther             Category = "OTHER"
)

var eventTypeToCategory = map[string]Category{
	"FOLLOW":   CategoryEventFollow,
	"SUB":      CategoryEventSub,
	"CHEER":    CategoryEventCheer,
	"RAID":     CategoryEventRaid,
	"FAVORITE": CategoryProactiveFavorite,
}

// IsEventCategory reports whether the category came from a platform event
// rather than message text.
func IsEventCategory(c Category) bool {
	switch c {
	case CategoryEventFollow, CategoryEventSub, CategoryEventCheer, CategoryEventRaid, CategoryProactiveFavorite:
		return true
	}
	return false
}

var (
	greetingRe = regexp.MustCompile(`(?i)^(?:@[\w_]+\s*)?(?:hey|heya|hi|hello|yo|sup|what'?s up|whats up)\b`)
	trackIDRe  = regexp.MustCompile(`(?i)\b(track\s*id|what(?:'s| is)?\s+(?:this|that)\s+track|id\?|what\s+track|track\?)\b`)
	followupRe = regexp.MustCompile(`(?i)\b(how|what|why|when|where|which|who|can|do|does|did|is|are)\b`)
	mentionRe  = regexp.MustCompile(`@[\w_]+`)
)

var defaultDirectVerbs = []string{
	"fix", "switch", "change", "do", "tell", "show", "check",
	"turn", "mute", "unmute", "refresh", "restart", "help",
}

// Low-substance fragments that should not be promoted to banter on their own.
var fillerWords = map[string]bool{
	"ok": true, "okay": true, "k": true, "yeah": true, "yea": true, "yep": true,
	"lol": true, "lmao": true, "kek": true, "nice": true, "cool": true,
	"same": true, "true": true, "this": true, "fr": true, "word": true,
}

const (
	defaultShortAckMaxChars = 48
	defaultBanterMaxChars   = 80
)

type Config struct {
	PersonaName      string
	Aliases          []string
	DirectVerbs      []string
	ShortAckMaxChars int
	BanterMaxChars   int
}

type Result struct {
	Category  Category
	Addressed bool
	Triggered bool
	Promoted  bool
}

type Classifier struct {
	persona     string
	names       []string
	directVerbs []string
	shortAckCap int
	banterCap   int
}

func New(cfg Config) *Classifier {
	persona := strings.ToLower(strings.TrimSpace(cfg.PersonaName))
	names := []string{persona}
	for _, a := range cfg.Aliases {
		if n := strings.ToLower(strings.TrimSpace(a)); n != "" && n != persona {
			names = append(names, n)
		}
	}
	verbs := cfg.DirectVerbs
	if len(verbs) == 0 {
		verbs = defaultDirectVerbs
	}
	ackCap := cfg.ShortAckMaxChars
	if ackCap <= 0 {
		ackCap = defaultShortAckMaxChars
	}
	banterCap := cfg.BanterMaxChars
	if banterCap <= 0 {
		banterCap = defaultBanterMaxChars
	}
	return &Classifier{persona: persona, names: names, directVerbs: verbs, shortAckCap: ackCap, banterCap: banterCap}
}

func (c *Classifier) Classify(text string, explicitMention bool, eventType string) Result {
	category := c.ClassifyCategory(text, eventType)
	addressed := c.IsAddressed(text, explicitMention)

	res := Result{Category: category, Addressed: addressed}
	if !addressed {
		return res
	}

	res.Triggered = category != CategoryOther || c.isTrigger(text)
	if !res.Triggered && category == CategoryOther {
		if c.shortAckPromotes(text) {
			res.Category = CategoryBanter
			res.Triggered = true
			res.Promoted = true
		}
	}
	return res
}

// ClassifyCategory ignores addressing; platform events win over text.
func (c *Classifier) ClassifyCategory(text string, eventType string) Category {
	if cat, ok := eventTypeToCategory[strings.ToUpper(strings.TrimSpace(eventType))]; ok {
		return cat
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return CategoryOther
	}
	if trackIDRe.MatchString(trimmed) {
		return CategoryTrackID
	}
	if looksLikePureGreeting(trimmed) {
		return CategoryGreeting
	}
	if strings.Contains(trimmed, "?") || len(trimmed) <= c.banterCap {
		return CategoryBanter
	}
	return CategoryOther
}

// IsAddressed decides whether the message speaks to the persona directly.
// A possessive or third-person reference ("Roonie's setup is cool") must not
// count: that is how replies meant for other humans get stolen.
func (c *Classifier) IsAddressed(text string, explicitMention bool) bool {
	if explicitMention {
		return true
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || c.persona == "" {
		return false
	}
	// Mentions compare whole handles: "@roonies" belongs to someone else
	// even though it starts with the persona's name.
	for _, m := range mentionRe.FindAllString(strings.ToLower(trimmed), -1) {
		handle := strings.TrimPrefix(m, "@")
		for _, name := range c.names {
			if handle == name {
				return true
			}
		}
	}
	return c.opensWithVocative(trimmed) || c.closesWithVocative(trimmed)
}

func (c *Classifier) opensWithVocative(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return c.isVocativeToken(fields[0])
}

func (c *Classifier) closesWithVocative(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return c.isVocativeToken(fields[len(fields)-1])
}

// isVocativeToken matches "roonie", "roonie!", "roonie," but rejects the
// possessive "roonie's".
func (c *Classifier) isVocativeToken(token string) bool {
	t := strings.ToLower(strings.TrimRight(token, "!?.,:;"))
	if strings.HasSuffix(t, "'s") || strings.HasSuffix(t, "’s") {
		return false
	}
	for _, name := range c.names {
		if t == name || t == "@"+name {
			return true
		}
	}
	return false
}

func (c *Classifier) isTrigger(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "?") {
		return true
	}
	// Verb and length checks apply to what remains once the address itself
	// is stripped ("@roonie check the lows" opens with "check").
	t := strings.TrimSpace(mentionRe.ReplaceAllString(trimmed, ""))
	t = strings.ToLower(c.stripVocative(t))
	if t == "" {
		return false
	}
	for _, verb := range c.directVerbs {
		if strings.HasPrefix(t, verb) {
			return true
		}
	}
	return len(t) <= 3
}

// shortAckPromotes upgrades a short addressed remark so it still gets a
// reply instead of silently dropping.
func (c *Classifier) shortAckPromotes(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || strings.Contains(trimmed, "?") {
		return false
	}
	stripped := strings.TrimSpace(mentionRe.ReplaceAllString(trimmed, ""))
	stripped = c.stripVocative(stripped)
	if stripped == "" {
		return false
	}
	if len(stripped) >= c.shortAckCap {
		return false
	}
	words := strings.Fields(strings.ToLower(stripped))
	if len(words) == 1 && fillerWords[strings.TrimRight(words[0], "!.,")] {
		return false
	}
	return true
}

func (c *Classifier) stripVocative(text string) string {
	fields := strings.Fields(text)
	if len(fields) > 0 && c.isVocativeToken(fields[0]) {
		fields = fields[1:]
	}
	if len(fields) > 0 && c.isVocativeToken(fields[len(fields)-1]) {
		fields = fields[:len(fields)-1]
	}
	return strings.TrimSpace(strings.Join(fields, " "))
}

// IsPersonaName reports whether a bare name or handle refers to the
// persona itself.
func (c *Classifier) IsPersonaName(name string) bool {
	n := strings.ToLower(strings.Trim(strings.TrimSpace(name), "@!?.,:;"))
	for _, own := range c.names {
		if n == own {
			return true
		}
	}
	return false
}

// MentionsOtherHandle reports an @-handle in the text that is not one of
// the persona's own names, and returns the first such handle.
func (c *Classifier) MentionsOtherHandle(text string) (string, bool) {
	for _, m := range mentionRe.FindAllString(text, -1) {
		handle := strings.ToLower(strings.TrimPrefix(m, "@"))
		own := false
		for _, name := range c.names {
			if handle == name {
				own = true
				break
			}
		}
		if !own {
			return handle, true
		}
	}
	return "", false
}

// GreetingTail returns the trailing content after a greeting opener, when
// the message is a greeting shape at all.
func GreetingTail(text string) (string, bool) {
	loc := greetingRe.FindStringIndex(strings.TrimSpace(text))
	if loc == nil {
		return "", false
	}
	tail := strings.Trim(strings.TrimSpace(text)[loc[1]:], " \t\r\n,!.?-")
	return tail, true
}

func looksLikePureGreeting(text string) bool {
	tail, ok := GreetingTail(text)
	if !ok {
		return false
	}
	if tail == "" {
		return true
	}
	if strings.Contains(tail, "?") {
		return false
	}
	if followupRe.MatchString(tail) {
		return false
	}
	// Keep one-word tails ("hey there") in the greeting bucket.
	return len(strings.Fields(tail)) <= 2
}
