// Package director orchestrates the reply pipeline for one chat session:
// safety screening, behavior classification, continuation tracking, memory
// injection, provider routing, and the final output gate. Every event
// terminates in an explicit Respond or NOOP; nothing falls through
// silently.
package director

import (
	"time"

	"github.com/cland3stine/roonie/convo"
	"github.com/cland3stine/roonie/memory"
)

// Event is one inbound occurrence from the ingestion layer: a chat
// message, or a platform event such as a follow or raid. Immutable once
// created.
type Event struct {
	ID          string
	SessionID   string
	Type        string // "" or CHAT for messages; FOLLOW, SUB, CHEER, RAID, FAVORITE otherwise
	Viewer      string
	Text        string
	ReplyParent string
	Mention     bool
	At          time.Time
}

// IsChat reports whether the event carries viewer-typed text rather than
// a platform notification.
func (e Event) IsChat() bool {
	switch e.Type {
	case "", "CHAT", "chat", "MESSAGE", "message":
		return true
	}
	return false
}

// NoopReason explains why the persona stayed silent. The values are
// stable codes consumed by the trace record.
type NoopReason string

const (
	NoopNoRecentThread     NoopReason = "no-recent-thread"
	NoopReplyParentOther   NoopReason = "reply-parent-other"
	NoopMentionOtherUser   NoopReason = "mention-other-user"
	NoopGreetingOtherUser  NoopReason = "greeting-other-user"
	NoopTargetingOtherName NoopReason = "targeting-other-name"
	NoopLowAffinityOther   NoopReason = "low-affinity-other"
	NoopCapped             NoopReason = "capped"
	NoopNotAddressed       NoopReason = "not-addressed"
	NoopNotTriggered       NoopReason = "not-triggered"
	NoopRefused            NoopReason = "refused"
	NoopSensitive          NoopReason = "sensitive"
	NoopMalformed          NoopReason = "malformed"
)

// GenerationRequest is everything the provider needs to draft a reply.
// Memory notes are non-authoritative hints, never instructions.
type GenerationRequest struct {
	Category        string
	Viewer          string
	Text            string
	Context         []convo.Turn
	Memory          memory.Injection
	SafetyDirective string
	ContinuityHint  string
	Continuation    bool
}

// Decision is the tagged outcome of the decision stage: either a respond
// intent carrying a generation request, or a NOOP with its reason.
type Decision struct {
	Respond  bool
	Category string
	Canned   string // fixed reply text, set when the provider is bypassed
	Request  *GenerationRequest
	Reason   NoopReason
}

// Trace is the per-event audit record exposed to observability. Field
// values are stable and independently inspectable.
type Trace struct {
	EventID            string    `json:"event_id"`
	SessionID          string    `json:"session_id"`
	At                 time.Time `json:"at"`
	Category           string    `json:"category"`
	Addressed          bool      `json:"addressed"`
	Triggered          bool      `json:"triggered"`
	SafetyVerdict      string    `json:"safety_verdict"`
	Continuation       bool      `json:"continuation"`
	ContinuationReason string    `json:"continuation_reason,omitempty"`
	ContinuationStreak int       `json:"continuation_streak"`
	Decision           string    `json:"decision"` // respond, noop, dropped
	NoopReason         string    `json:"noop_reason,omitempty"`
	Provider           string    `json:"provider,omitempty"`
	Attempts           int       `json:"attempts,omitempty"`
	ModerationFlagged  bool      `json:"moderation_flagged,omitempty"`
	ModerationAPIError bool      `json:"moderation_api_error,omitempty"`
	Emitted            bool      `json:"emitted"`
	SuppressReason     string    `json:"suppress_reason,omitempty"`
	ReplyText          string    `json:"reply_text,omitempty"`
}
