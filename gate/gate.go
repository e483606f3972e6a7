// Package gate is the last checkpoint before a reply is published. Every
// outbound message passes its checks in a fixed order; a failed check
// suppresses the message with a stable reason code.
package gate

import (
	"time"
)

// Suppression reason codes, in check order.
const (
	ReasonOutputDisabled   = "output-disabled"
	ReasonDryRun           = "dry-run"
	ReasonRateLimit        = "rate-limit"
	ReasonCategoryCooldown = "category-cooldown"
	ReasonDisallowedToken  = "disallowed-token"
)

// DefaultMinInterval is the global spacing floor between any two emissions.
const DefaultMinInterval = 6 * time.Second

// DefaultCooldowns spaces repeated replies within the same event category.
func DefaultCooldowns() map[string]time.Duration {
	return map[string]time.Duration{
		"EVENT_FOLLOW": 45 * time.Second,
		"EVENT_SUB":    20 * time.Second,
		"EVENT_CHEER":  20 * time.Second,
		"EVENT_RAID":   30 * time.Second,
		"GREETING":     15 * time.Second,
	}
}

type Config struct {
	Disabled    bool
	DryRun      bool
	MinInterval time.Duration
	Cooldowns   map[string]time.Duration
}

// Verdict reports whether the candidate may be published.
type Verdict struct {
	Emitted bool
	Reason  string
	Token   string
}

// Gate holds per-session emission state. It is not safe for concurrent
// use; the session loop serializes access.
type Gate struct {
	cfg        Config
	classifier TokenClassifier
	now        func() time.Time

	lastEmit       time.Time
	lastByCategory map[string]time.Time
}

func New(cfg Config, classifier TokenClassifier, now func() time.Time) *Gate {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	if cfg.Cooldowns == nil {
		cfg.Cooldowns = DefaultCooldowns()
	}
	if now == nil {
		now = time.Now
	}
	return &Gate{
		cfg:            cfg,
		classifier:     classifier,
		now:            now,
		lastByCategory: map[string]time.Time{},
	}
}

// Check runs the gate checks in order against the candidate reply. On
// success it records the emission time for the global and per-category
// timers; a dry-run short-circuits before the timer and token checks,
// records nothing, and is reported as suppressed.
func (g *Gate) Check(category, candidate, viewerMessage string) Verdict {
	if g.cfg.Disabled {
		return Verdict{Reason: ReasonOutputDisabled}
	}
	if g.cfg.DryRun {
		return Verdict{Reason: ReasonDryRun}
	}
	now := g.now()
	if !g.lastEmit.IsZero() && now.Sub(g.lastEmit) < g.cfg.MinInterval {
		return Verdict{Reason: ReasonRateLimit}
	}
	if cooldown, ok := g.cfg.Cooldowns[category]; ok {
		if last, seen := g.lastByCategory[category]; seen && now.Sub(last) < cooldown {
			return Verdict{Reason: ReasonCategoryCooldown}
		}
	}
	if g.classifier != nil {
		if token, bad := g.classifier.Disallowed(candidate, viewerMessage); bad {
			return Verdict{Reason: ReasonDisallowedToken, Token: token}
		}
	}
	g.lastEmit = now
	g.lastByCategory[category] = now
	return Verdict{Emitted: true}
}
