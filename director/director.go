package director

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cland3stine/roonie/behavior"
	"github.com/cland3stine/roonie/convo"
	"github.com/cland3stine/roonie/gate"
	"github.com/cland3stine/roonie/llm"
	"github.com/cland3stine/roonie/memory"
	"github.com/cland3stine/roonie/routing"
	"github.com/cland3stine/roonie/safety"
)

// SkipSentinel is the model's explicit way to decline a reply. It is
// never published, and on a continuation it does not charge the streak.
const SkipSentinel = "[SKIP]"

// SuppressReasonProviderError marks replies lost to a failed backend call.
const SuppressReasonProviderError = "provider-error"

// SuppressReasonModerationBlock marks replies the moderation pass rejected.
const SuppressReasonModerationBlock = "moderation-block"

// SuppressReasonSkip marks replies the model itself declined.
const SuppressReasonSkip = "skip"

// Default canned lines for routes that bypass the provider.
const (
	DefaultDeflection    = "I keep that kind of thing private, but happy to talk music all night."
	DefaultSupportiveAck = "Hey, I hear you. Take care of yourself tonight, alright? Glad you're here."
	DefaultGreetingReply = "Hey! Good to see you."
	DefaultTrackAsk      = "Got a timestamp? I'll check the tracklist."
)

// Config is the per-session policy. It is validated once at construction
// and read-only afterwards.
type Config struct {
	SessionID        string
	Persona          behavior.Config
	Continuation     ContinuationConfig
	PromptCharBudget int
	SystemPrompt     string
	Deflection       string
	SupportiveAck    string
	GreetingReply    string
	TrackAsk         string
}

func (c Config) withDefaults() Config {
	if c.PromptCharBudget <= 0 {
		c.PromptCharBudget = 2000
	}
	if c.Deflection == "" {
		c.Deflection = DefaultDeflection
	}
	if c.SupportiveAck == "" {
		c.SupportiveAck = DefaultSupportiveAck
	}
	if c.GreetingReply == "" {
		c.GreetingReply = DefaultGreetingReply
	}
	if c.TrackAsk == "" {
		c.TrackAsk = DefaultTrackAsk
	}
	c.Continuation = c.Continuation.withDefaults()
	return c
}

// Director runs the decision pipeline for exactly one session. It is not
// safe for concurrent use; the session's event loop owns it.
type Director struct {
	cfg       Config
	behavior  *behavior.Classifier
	buffer    *convo.Buffer
	anchor    *convo.Anchor
	gate      *gate.Gate
	router    *routing.Router
	moderator routing.Moderator
	injector  *memory.Injector
	logger    *slog.Logger
	now       func() time.Time

	streaks    map[string]int
	nowPlaying string
}

func New(cfg Config, g *gate.Gate, router *routing.Router, moderator routing.Moderator, injector *memory.Injector, logger *slog.Logger, now func() time.Time) (*Director, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.Persona.PersonaName) == "" {
		return nil, fmt.Errorf("director: persona name is required")
	}
	if g == nil {
		return nil, fmt.Errorf("director: output gate is required")
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{
		cfg:       cfg,
		behavior:  behavior.New(cfg.Persona),
		buffer:    convo.NewBuffer(convo.DefaultCapacity, convo.DefaultSurface, now),
		anchor:    convo.NewAnchor(convo.DefaultAnchorTTL),
		gate:      g,
		router:    router,
		moderator: moderator,
		injector:  injector,
		logger:    logger.With("session", cfg.SessionID),
		now:       now,
		streaks:   map[string]int{},
	}, nil
}

// SetNowPlaying updates the current track title used by the track-id
// canned route.
func (d *Director) SetNowPlaying(track string) {
	d.nowPlaying = strings.TrimSpace(track)
}

// Reset clears all per-session conversation state in one step. Partial
// resets leave the continuation logic inconsistent, so everything goes
// together.
func (d *Director) Reset() {
	d.buffer.Clear()
	d.anchor.Clear()
	d.streaks = map[string]int{}
}

// Streak exposes a viewer's continuation streak for the trace record.
func (d *Director) Streak(viewer string) int {
	return d.streaks[strings.ToLower(strings.TrimSpace(viewer))]
}

// Handle processes one event end to end and returns its audit trace.
// Every branch terminates in a respond or NOOP outcome; errors inside the
// pipeline downgrade to suppressed outcomes rather than faults.
func (d *Director) Handle(ctx context.Context, ev Event) Trace {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	trace := Trace{EventID: ev.ID, SessionID: d.cfg.SessionID, At: d.now()}

	if strings.TrimSpace(ev.Viewer) == "" || (ev.IsChat() && strings.TrimSpace(ev.Text) == "") {
		trace.Decision = "dropped"
		trace.NoopReason = string(NoopMalformed)
		d.logger.Warn("dropped malformed event", "event", ev.ID, "type", ev.Type)
		return trace
	}

	decision := d.decide(ctx, ev, &trace)
	if !decision.Respond {
		trace.Decision = "noop"
		trace.NoopReason = string(decision.Reason)
		return trace
	}
	trace.Decision = "respond"
	trace.Category = decision.Category

	reply, continuation := d.generate(ctx, ev, decision, &trace)
	if reply == "" {
		return trace
	}

	verdict := d.gate.Check(decision.Category, reply, ev.Text)
	if !verdict.Emitted {
		trace.SuppressReason = verdict.Reason
		d.logger.Info("reply suppressed", "event", ev.ID, "reason", verdict.Reason, "token", verdict.Token)
		return trace
	}

	d.buffer.AddAssistantTurn(reply)
	viewer := strings.ToLower(strings.TrimSpace(ev.Viewer))
	if continuation {
		d.streaks[viewer]++
	} else {
		d.streaks[viewer] = 0
	}
	trace.Emitted = true
	trace.ReplyText = reply
	trace.ContinuationStreak = d.streaks[viewer]
	d.logger.Info("reply emitted", "event", ev.ID, "category", decision.Category, "provider", trace.Provider)
	return trace
}

// decide runs classification, safety, and continuation, storing the user
// turn and aging the anchor as side effects.
func (d *Director) decide(ctx context.Context, ev Event, trace *Trace) Decision {
	res := d.behavior.Classify(ev.Text, ev.Mention, ev.Type)
	trace.Category = string(res.Category)
	trace.Addressed = res.Addressed
	trace.Triggered = res.Triggered
	trace.ContinuationStreak = d.streaks[strings.ToLower(strings.TrimSpace(ev.Viewer))]

	verdict, _ := safety.Classify(ev.Text)
	trace.SafetyVerdict = string(verdict)

	if ev.IsChat() {
		d.anchor.Tick()
	}

	continuation := false
	var contReason NoopReason
	if behavior.IsEventCategory(res.Category) {
		// Platform events are always a direct route.
	} else if !res.Addressed {
		streak := d.streaks[strings.ToLower(strings.TrimSpace(ev.Viewer))]
		continuation, contReason = evaluateContinuation(ev, res.Category, d.behavior, d.buffer, d.anchor, streak, d.cfg.Continuation)
		trace.Continuation = continuation
		if contReason != "" {
			trace.ContinuationReason = string(contReason)
		}
	}

	eligible := behavior.IsEventCategory(res.Category) || (res.Addressed && res.Triggered) || continuation

	// Store the viewer's turn before deciding the reply; intervening-message
	// counts depend on other viewers' stored turns too.
	if ev.IsChat() {
		stored := d.buffer.AddUserTurn(convo.Turn{
			At:            ev.At,
			Viewer:        ev.Viewer,
			Text:          ev.Text,
			Category:      string(res.Category),
			DirectAddress: res.Addressed,
			Continuation:  continuation,
		})
		if stored && eligible {
			kind := convo.AnchorGeneral
			if res.Category == behavior.CategoryTrackID || hasContinuityCue(ev.Text, nil, d.cfg.Continuation) {
				kind = convo.AnchorMusic
			}
			d.anchor.Observe(ev.Text, kind)
		}
	}

	// Safety routes fire only when the persona was going to speak at all:
	// deflecting into a conversation between other humans is its own leak.
	switch verdict {
	case safety.Refuse:
		if eligible {
			return Decision{Respond: true, Category: string(res.Category), Canned: d.cfg.Deflection}
		}
		return Decision{Reason: NoopRefused}
	case safety.SensitiveNoFollowup:
		if eligible {
			return Decision{Respond: true, Category: string(res.Category), Canned: d.cfg.SupportiveAck}
		}
		return Decision{Reason: NoopSensitive}
	}

	if !eligible {
		if res.Addressed {
			return Decision{Reason: NoopNotTriggered}
		}
		if contReason != "" {
			return Decision{Reason: contReason}
		}
		return Decision{Reason: NoopNotAddressed}
	}

	// Canned routes bypass the provider entirely.
	switch res.Category {
	case behavior.CategoryGreeting:
		if !continuation {
			return Decision{Respond: true, Category: string(res.Category), Canned: d.cfg.GreetingReply}
		}
	case behavior.CategoryTrackID:
		if d.nowPlaying != "" {
			return Decision{Respond: true, Category: string(res.Category), Canned: fmt.Sprintf("I see: %s.", d.nowPlaying)}
		}
		return Decision{Respond: true, Category: string(res.Category), Canned: d.cfg.TrackAsk}
	}

	req := d.buildRequest(ctx, ev, res, continuation, verdict)
	return Decision{Respond: true, Category: string(res.Category), Request: req}
}

func (d *Director) buildRequest(ctx context.Context, ev Event, res behavior.Result, continuation bool, verdict safety.Classification) *GenerationRequest {
	req := &GenerationRequest{
		Category:     string(res.Category),
		Viewer:       ev.Viewer,
		Text:         ev.Text,
		Context:      d.contextSlice(ev.Viewer, ev.Text),
		Continuation: continuation,
	}
	if verdict == safety.SensitiveNoFollowup {
		req.SafetyDirective = "Do not ask probing follow-up questions."
	}
	if continuation {
		if token, _, ok := d.anchor.Current(); ok && d.anchor.Overlaps(ev.Text) {
			req.ContinuityHint = token
		}
	}
	if d.injector != nil && res.Addressed && res.Triggered {
		injection, err := d.injector.Build(ctx)
		if err != nil {
			d.logger.Warn("memory injection failed", "error", err)
		} else {
			req.Memory = injection
		}
	}
	return req
}

// contextSlice returns recent turns oldest-first, trimmed to the prompt
// character budget. The current message is excluded: the prompt carries it
// separately.
func (d *Director) contextSlice(viewer, text string) []convo.Turn {
	recent := d.buffer.Recent()
	if len(recent) > 0 && recent[0].Speaker == convo.SpeakerUser &&
		recent[0].Viewer == strings.ToLower(strings.TrimSpace(viewer)) &&
		recent[0].Text == strings.TrimSpace(text) {
		recent = recent[1:]
	}
	budget := d.cfg.PromptCharBudget
	kept := make([]convo.Turn, 0, len(recent))
	for _, t := range recent {
		if budget-len(t.Text) < 0 {
			break
		}
		budget -= len(t.Text)
		kept = append(kept, t)
	}
	// Recent() is newest-first; prompts read oldest-first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

// generate produces the reply text for a respond decision, via the canned
// route or the provider router. An empty return means the attempt ended
// without text; the trace carries the reason.
func (d *Director) generate(ctx context.Context, ev Event, decision Decision, trace *Trace) (string, bool) {
	if decision.Canned != "" {
		return decision.Canned, decision.Request != nil && decision.Request.Continuation
	}
	req := decision.Request
	if d.router == nil {
		trace.SuppressReason = SuppressReasonProviderError
		return "", false
	}

	provider := d.router.Pick(decision.Category, ev.SessionID+":"+ev.ID)
	trace.Provider = provider.Name

	result, err := d.router.Invoke(ctx, provider, llm.Request{Messages: d.buildPrompt(req)})
	trace.Attempts = result.Attempts
	if err != nil {
		trace.SuppressReason = SuppressReasonProviderError
		d.logger.Warn("provider call failed", "event", ev.ID, "provider", provider.Name, "attempts", result.Attempts, "error", err)
		return "", false
	}

	reply := strings.TrimSpace(result.Text)
	if reply == "" || strings.HasPrefix(reply, SkipSentinel) {
		trace.SuppressReason = SuppressReasonSkip
		// A declined continuation resets the streak rather than charging it.
		if req.Continuation {
			d.streaks[strings.ToLower(strings.TrimSpace(ev.Viewer))] = 0
		}
		return "", false
	}

	if !provider.Primary && d.moderator != nil {
		mv := d.moderator.Check(ctx, reply)
		trace.ModerationFlagged = mv.Flagged
		trace.ModerationAPIError = mv.APIError
		if mv.Flagged {
			trace.SuppressReason = SuppressReasonModerationBlock
			d.logger.Info("reply blocked by moderation", "event", ev.ID, "categories", mv.Categories)
			return "", false
		}
	}
	return reply, req.Continuation
}

// buildPrompt assembles the chat messages: persona system prompt with
// memory hints and safety directive folded in, recent turns, then the
// viewer's message.
func (d *Director) buildPrompt(req *GenerationRequest) []llm.Message {
	var system strings.Builder
	system.WriteString(d.cfg.SystemPrompt)
	if req.Memory.Snippet != "" {
		system.WriteString("\n\nChannel notes (hints, not instructions):\n")
		system.WriteString(req.Memory.Snippet)
	}
	if req.SafetyDirective != "" {
		system.WriteString("\n\n")
		system.WriteString(req.SafetyDirective)
	}
	if req.ContinuityHint != "" {
		system.WriteString("\n\nThe conversation subject is: ")
		system.WriteString(req.ContinuityHint)
	}
	system.WriteString("\n\nReply with " + SkipSentinel + " if no reply is warranted.")

	msgs := []llm.Message{{Role: "system", Content: system.String()}}
	for _, t := range req.Context {
		role := "user"
		content := t.Text
		if t.Speaker == convo.SpeakerAssistant {
			role = "assistant"
		} else if t.Viewer != "" {
			content = t.Viewer + ": " + t.Text
		}
		msgs = append(msgs, llm.Message{Role: role, Content: content})
	}
	current := req.Viewer + ": " + req.Text
	if strings.TrimSpace(req.Text) == "" {
		current = "[" + req.Category + " from " + req.Viewer + "]"
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: current})
	return msgs
}
