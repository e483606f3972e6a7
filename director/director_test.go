package director

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cland3stine/roonie/behavior"
	"github.com/cland3stine/roonie/gate"
	"github.com/cland3stine/roonie/llm"
	"github.com/cland3stine/roonie/routing"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type scriptClient struct {
	queue    []string
	fallback string
	err      error
	calls    int
}

func (s *scriptClient) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	s.calls++
	if s.err != nil {
		return llm.Result{}, s.err
	}
	if len(s.queue) > 0 {
		text := s.queue[0]
		s.queue = s.queue[1:]
		return llm.Result{Text: text}, nil
	}
	return llm.Result{Text: s.fallback}, nil
}

type stubModerator struct {
	verdict routing.ModerationVerdict
	calls   int
}

func (m *stubModerator) Check(ctx context.Context, text string) routing.ModerationVerdict {
	m.calls++
	return m.verdict
}

type pipeline struct {
	dir    *Director
	clock  *clock
	script *scriptClient
	mod    *stubModerator
}

func newPipeline(t *testing.T, primary bool) *pipeline {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	script := &scriptClient{fallback: "sounds right to me"}
	router, err := routing.NewRouter(
		[]routing.Provider{{Name: "openai", Model: "gpt-4o-mini", Primary: primary, Client: script}},
		routing.Policy{Mode: routing.ModeFixed, Fixed: "openai", Retry: true},
		time.Second,
	)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	mod := &stubModerator{}
	g := gate.New(gate.Config{}, gate.NewEmoteClassifier([]string{"roonieWave"}), clk.now)
	dir, err := New(Config{
		SessionID:    "s1",
		Persona:      behavior.Config{PersonaName: "roonie"},
		Continuation: ContinuationConfig{OtherNames: []string{"jack"}},
	}, g, router, mod, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), clk.now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &pipeline{dir: dir, clock: clk, script: script, mod: mod}
}

// send spaces events far enough apart that the global rate limit never
// interferes with what a test is actually checking.
func (p *pipeline) send(ev Event) Trace {
	p.clock.advance(10 * time.Second)
	if ev.SessionID == "" {
		ev.SessionID = "s1"
	}
	return p.dir.Handle(context.Background(), ev)
}

func TestAddressedQuestionGetsReply(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if tr.Decision != "respond" || !tr.Emitted {
		t.Fatalf("trace = %+v, want emitted respond", tr)
	}
	if !tr.Addressed || !tr.Triggered || tr.Category != "BANTER" {
		t.Fatalf("trace = %+v, want addressed triggered banter", tr)
	}
	if tr.Provider != "openai" || tr.Attempts != 1 {
		t.Fatalf("trace = %+v, want one openai attempt", tr)
	}
}

func TestContinuationFollowup(t *testing.T) {
	p := newPipeline(t, true)
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})

	tr := p.send(Event{Viewer: "luna", Text: "what about headphones"})
	if tr.Decision != "respond" || !tr.Emitted || !tr.Continuation {
		t.Fatalf("trace = %+v, want emitted continuation", tr)
	}
	if got := p.dir.Streak("luna"); got != 1 {
		t.Fatalf("streak = %d, want 1", got)
	}
}

func TestMentionOtherUserBlocksContinuation(t *testing.T) {
	p := newPipeline(t, true)
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	p.send(Event{Viewer: "luna", Text: "what about headphones"})

	tr := p.send(Event{Viewer: "luna", Text: "@otheruser nice mix"})
	if tr.Decision != "noop" || tr.NoopReason != string(NoopMentionOtherUser) {
		t.Fatalf("trace = %+v, want noop %s", tr, NoopMentionOtherUser)
	}
}

func TestStreakCap(t *testing.T) {
	p := newPipeline(t, true)
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})

	followups := []string{
		"what about headphones",
		"what about the monitors",
		"how about the subs",
		"which deck do you reach for first",
	}
	for i, text := range followups {
		tr := p.send(Event{Viewer: "luna", Text: text})
		if !tr.Emitted || !tr.Continuation {
			t.Fatalf("followup %d trace = %+v, want emitted continuation", i, tr)
		}
	}
	if got := p.dir.Streak("luna"); got != DefaultStreakCap {
		t.Fatalf("streak = %d, want %d", got, DefaultStreakCap)
	}

	tr := p.send(Event{Viewer: "luna", Text: "what about the cables"})
	if tr.Decision != "noop" || tr.NoopReason != string(NoopCapped) {
		t.Fatalf("trace = %+v, want noop %s", tr, NoopCapped)
	}
}

func TestDirectAddressResetsStreak(t *testing.T) {
	p := newPipeline(t, true)
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	p.send(Event{Viewer: "luna", Text: "what about headphones"})
	p.send(Event{Viewer: "luna", Text: "what about the monitors"})
	if got := p.dir.Streak("luna"); got != 2 {
		t.Fatalf("streak = %d, want 2", got)
	}

	tr := p.send(Event{Viewer: "luna", Text: "roonie which genre tonight?", Mention: true})
	if !tr.Emitted {
		t.Fatalf("trace = %+v, want emitted", tr)
	}
	if got := p.dir.Streak("luna"); got != 0 {
		t.Fatalf("streak = %d, want 0 after direct address", got)
	}
}

func TestGreetingCannedReply(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "hey roonie"})
	if !tr.Emitted || tr.ReplyText != DefaultGreetingReply {
		t.Fatalf("trace = %+v, want canned greeting", tr)
	}
	if tr.Provider != "" || p.script.calls != 0 {
		t.Fatalf("greeting should bypass the provider, trace = %+v calls = %d", tr, p.script.calls)
	}
}

func TestTrackIDUsesNowPlaying(t *testing.T) {
	p := newPipeline(t, true)
	p.dir.SetNowPlaying("Deep Dish 97")
	tr := p.send(Event{Viewer: "luna", Text: "@roonie track id?"})
	if !tr.Emitted || tr.ReplyText != "I see: Deep Dish 97." {
		t.Fatalf("trace = %+v, want now-playing reply", tr)
	}
	if tr.Category != "TRACK_ID" || p.script.calls != 0 {
		t.Fatalf("trace = %+v calls = %d, want canned track-id route", tr, p.script.calls)
	}
}

func TestTrackIDAsksForTimestamp(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "@roonie track id?"})
	if !tr.Emitted || tr.ReplyText != DefaultTrackAsk {
		t.Fatalf("trace = %+v, want timestamp ask", tr)
	}
}

func TestPrivateInfoDeflection(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "roonie what's your real name?"})
	if !tr.Emitted || tr.ReplyText != DefaultDeflection {
		t.Fatalf("trace = %+v, want deflection", tr)
	}
	if tr.SafetyVerdict != "refuse" || p.script.calls != 0 {
		t.Fatalf("trace = %+v calls = %d, want refusal without provider", tr, p.script.calls)
	}
}

func TestSensitiveSupportiveAck(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "roonie i have been feeling so depressed lately"})
	if !tr.Emitted || tr.ReplyText != DefaultSupportiveAck {
		t.Fatalf("trace = %+v, want supportive ack", tr)
	}
	if tr.SafetyVerdict != "sensitive_no_followup" || p.script.calls != 0 {
		t.Fatalf("trace = %+v calls = %d, want sensitive route without provider", tr, p.script.calls)
	}
}

func TestUnsolicitedPrivateInfoStaysSilent(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "luna", Text: "someone asked for my home address yesterday?"})
	if tr.Decision != "noop" || tr.NoopReason != string(NoopRefused) {
		t.Fatalf("trace = %+v, want noop %s", tr, NoopRefused)
	}
}

func TestSkipSentinelSuppressedAndStreakReset(t *testing.T) {
	p := newPipeline(t, true)
	p.script.queue = []string{"a trusty four channel", "makes sense to me", SkipSentinel}
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	p.send(Event{Viewer: "luna", Text: "what about headphones"})
	if got := p.dir.Streak("luna"); got != 1 {
		t.Fatalf("streak = %d, want 1", got)
	}

	tr := p.send(Event{Viewer: "luna", Text: "how about the subs"})
	if tr.Emitted || tr.SuppressReason != SuppressReasonSkip {
		t.Fatalf("trace = %+v, want suppressed %s", tr, SuppressReasonSkip)
	}
	if got := p.dir.Streak("luna"); got != 0 {
		t.Fatalf("streak = %d, want reset to 0 after skip", got)
	}
}

func TestModerationBlock(t *testing.T) {
	p := newPipeline(t, false)
	p.mod.verdict = routing.ModerationVerdict{Flagged: true, Categories: []string{"harassment"}}
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if tr.Emitted || tr.SuppressReason != SuppressReasonModerationBlock {
		t.Fatalf("trace = %+v, want suppressed %s", tr, SuppressReasonModerationBlock)
	}
	if !tr.ModerationFlagged {
		t.Fatalf("trace = %+v, want moderation flagged", tr)
	}
}

func TestModerationFailOpen(t *testing.T) {
	p := newPipeline(t, false)
	p.mod.verdict = routing.ModerationVerdict{APIError: true}
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if !tr.Emitted || !tr.ModerationAPIError {
		t.Fatalf("trace = %+v, want emitted with moderation-api-error", tr)
	}
}

func TestPrimaryBackendSkipsModeration(t *testing.T) {
	p := newPipeline(t, true)
	p.mod.verdict = routing.ModerationVerdict{Flagged: true}
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if !tr.Emitted {
		t.Fatalf("trace = %+v, want emitted", tr)
	}
	if p.mod.calls != 0 {
		t.Fatalf("moderator calls = %d, want 0 for the primary backend", p.mod.calls)
	}
}

func TestDisallowedTokenNeverEmitted(t *testing.T) {
	p := newPipeline(t, true)
	p.script.queue = []string{"HypeTrain incoming, this one is special"}
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if tr.Emitted || tr.SuppressReason != gate.ReasonDisallowedToken {
		t.Fatalf("trace = %+v, want suppressed %s", tr, gate.ReasonDisallowedToken)
	}
}

func TestProviderFailureEndsInNoEmission(t *testing.T) {
	p := newPipeline(t, true)
	p.script.err = &llm.TransientError{Err: context.DeadlineExceeded}
	tr := p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	if tr.Emitted || tr.SuppressReason != SuppressReasonProviderError {
		t.Fatalf("trace = %+v, want suppressed %s", tr, SuppressReasonProviderError)
	}
	if tr.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", tr.Attempts)
	}
}

func TestMalformedEventDropped(t *testing.T) {
	p := newPipeline(t, true)
	tr := p.send(Event{Viewer: "", Text: "hi"})
	if tr.Decision != "dropped" || tr.NoopReason != string(NoopMalformed) {
		t.Fatalf("trace = %+v, want dropped", tr)
	}
}

func TestResetClearsThread(t *testing.T) {
	p := newPipeline(t, true)
	p.send(Event{Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true})
	p.send(Event{Viewer: "luna", Text: "what about headphones"})

	p.dir.Reset()

	tr := p.send(Event{Viewer: "luna", Text: "what about the monitors"})
	if tr.Decision != "noop" || tr.NoopReason != string(NoopNoRecentThread) {
		t.Fatalf("trace = %+v, want noop %s after reset", tr, NoopNoRecentThread)
	}
}

func TestIdenticalHistoryYieldsIdenticalDecisions(t *testing.T) {
	build := func() *pipeline {
		clk := &clock{t: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
		script := &scriptClient{fallback: "sounds right to me"}
		router, err := routing.NewRouter(
			[]routing.Provider{
				{Name: "openai", Model: "gpt-4o-mini", Weight: 3, Primary: true, Client: script},
				{Name: "grok", Model: "grok-2", Weight: 1, Client: script},
			},
			routing.Policy{Mode: routing.ModeWeighted, Retry: true},
			time.Second,
		)
		if err != nil {
			t.Fatalf("NewRouter: %v", err)
		}
		g := gate.New(gate.Config{}, gate.NewEmoteClassifier([]string{"roonieWave"}), clk.now)
		dir, err := New(Config{
			SessionID:    "s1",
			Persona:      behavior.Config{PersonaName: "roonie"},
			Continuation: ContinuationConfig{OtherNames: []string{"jack"}},
		}, g, router, &stubModerator{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), clk.now)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return &pipeline{dir: dir, clock: clk, script: script}
	}

	// Fixed IDs pin the seeded backend pick; fixed clocks pin the gate.
	events := []Event{
		{ID: "msg-0", Viewer: "luna", Text: "roonie what mixer do you use?", Mention: true},
		{ID: "msg-1", Viewer: "luna", Text: "what about headphones"},
		{ID: "msg-2", Viewer: "luna", Text: "@otheruser nice mix"},
		{ID: "msg-3", Viewer: "mika", Text: "hey roonie"},
		{ID: "msg-4", Viewer: "luna", Text: "which deck do you reach for first"},
	}
	a, b := build(), build()
	for i, ev := range events {
		got, want := a.send(ev), b.send(ev)
		if got.Decision != want.Decision || got.NoopReason != want.NoopReason ||
			got.Category != want.Category || got.Provider != want.Provider ||
			got.Emitted != want.Emitted || got.ReplyText != want.ReplyText ||
			got.Continuation != want.Continuation {
			t.Fatalf("event %d (%s) diverged:\n %+v\n %+v", i, ev.ID, got, want)
		}
	}
}

func TestPlatformEventGetsAcknowledged(t *testing.T) {
	p := newPipeline(t, true)
	p.script.queue = []string{"welcome aboard!"}
	tr := p.send(Event{Viewer: "newfriend", Type: "FOLLOW"})
	if !tr.Emitted || tr.Category != "EVENT_FOLLOW" {
		t.Fatalf("trace = %+v, want emitted follow acknowledgment", tr)
	}
}
