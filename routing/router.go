// Package routing picks which model backend answers a generation request
// and shepherds the call: bounded timeout, one retry on transient
// failure, and an external moderation pass for non-primary backends.
package routing

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cland3stine/roonie/llm"
)

// Selection modes.
const (
	ModeFixed    = "fixed"
	ModeUniform  = "uniform"
	ModeWeighted = "weighted"
)

// DefaultInvokeTimeout bounds a single backend call.
const DefaultInvokeTimeout = 20 * time.Second

// Provider is a registered model backend. Primary marks the backend whose
// output ships without a second moderation pass.
type Provider struct {
	Name    string
	Model   string
	Weight  int
	Primary bool
	Client  llm.Client
}

// Policy controls provider selection. Overrides pin a category to a named
// provider regardless of mode. Retry allows one extra attempt after a
// transient failure.
type Policy struct {
	Mode      string
	Fixed     string
	Overrides map[string]string
	Retry     bool
}

type Router struct {
	providers []Provider
	index     map[string]int
	policy    Policy
	timeout   time.Duration
}

func NewRouter(providers []Provider, policy Policy, timeout time.Duration) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("routing: no providers registered")
	}
	index := make(map[string]int, len(providers))
	for i := range providers {
		p := &providers[i]
		if p.Name == "" {
			return nil, fmt.Errorf("routing: provider %d has no name", i)
		}
		if _, dup := index[p.Name]; dup {
			return nil, fmt.Errorf("routing: duplicate provider %q", p.Name)
		}
		if p.Client == nil {
			return nil, fmt.Errorf("routing: provider %q has no client", p.Name)
		}
		if p.Weight <= 0 {
			p.Weight = 1
		}
		index[p.Name] = i
	}
	switch policy.Mode {
	case ModeFixed:
		if _, ok := index[policy.Fixed]; !ok {
			return nil, fmt.Errorf("routing: fixed provider %q not registered", policy.Fixed)
		}
	case ModeUniform, ModeWeighted:
	case "":
		policy.Mode = ModeWeighted
	default:
		return nil, fmt.Errorf("routing: unknown selection mode %q", policy.Mode)
	}
	for category, name := range policy.Overrides {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("routing: override for %s names unknown provider %q", category, name)
		}
	}
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &Router{providers: providers, index: index, policy: policy, timeout: timeout}, nil
}

// Pick selects the provider for a request. seed must be stable per
// message so that replays of the same event land on the same backend.
func (r *Router) Pick(category, seed string) Provider {
	if name, ok := r.policy.Overrides[category]; ok {
		return r.providers[r.index[name]]
	}
	switch r.policy.Mode {
	case ModeFixed:
		return r.providers[r.index[r.policy.Fixed]]
	case ModeUniform:
		return r.providers[seededIndex(seed, len(r.providers))]
	default:
		return r.pickWeighted(seed)
	}
}

func (r *Router) pickWeighted(seed string) Provider {
	total := 0
	for _, p := range r.providers {
		total += p.Weight
	}
	n := seededValue(seed) % uint64(total)
	for _, p := range r.providers {
		if n < uint64(p.Weight) {
			return p
		}
		n -= uint64(p.Weight)
	}
	return r.providers[len(r.providers)-1]
}

func seededIndex(seed string, n int) int {
	return int(seededValue(seed) % uint64(n))
}

func seededValue(seed string) uint64 {
	sum := sha256.Sum256([]byte(seed))
	return binary.BigEndian.Uint64(sum[:8])
}

// InvokeResult carries the backend reply plus routing metadata for the
// decision trace.
type InvokeResult struct {
	llm.Result
	Provider string
	Attempts int
}

// Invoke calls the provider with the configured timeout and retries once
// on a transient failure. The request's model defaults to the provider's
// configured model.
func (r *Router) Invoke(ctx context.Context, p Provider, req llm.Request) (InvokeResult, error) {
	if req.Model == "" {
		req.Model = p.Model
	}
	attempts := 0
	for {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		res, err := p.Client.Chat(callCtx, req)
		cancel()
		if err == nil {
			return InvokeResult{Result: res, Provider: p.Name, Attempts: attempts}, nil
		}
		if !r.policy.Retry || attempts >= 2 || !llm.IsTransient(err) || ctx.Err() != nil {
			return InvokeResult{Provider: p.Name, Attempts: attempts},
				fmt.Errorf("provider %s: %d attempt(s): %w", p.Name, attempts, err)
		}
	}
}
