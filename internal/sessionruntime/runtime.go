// Package sessionruntime runs one serialized event loop per chat session.
// Continuation logic and cooldown state depend on arrival order, so a
// session's events are handled by a single goroutine; different sessions
// share nothing mutable and never block each other.
package sessionruntime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cland3stine/roonie/behavior"
	"github.com/cland3stine/roonie/config"
	"github.com/cland3stine/roonie/director"
	"github.com/cland3stine/roonie/gate"
	"github.com/cland3stine/roonie/llm"
	"github.com/cland3stine/roonie/memory"
	"github.com/cland3stine/roonie/providers/anthropic"
	"github.com/cland3stine/roonie/providers/openai"
	"github.com/cland3stine/roonie/routing"
)

const defaultQueueSize = 64

type job struct {
	ctx    context.Context
	event  director.Event
	reset  bool
	result chan director.Trace
}

type session struct {
	jobs chan job
	dir  *director.Director
}

// Manager owns the session loops and the process-wide read-only pieces:
// provider router, moderation client, and memory source.
type Manager struct {
	cfg       config.Config
	logger    *slog.Logger
	router    *routing.Router
	moderator routing.Moderator
	injector  *memory.Injector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(cfg config.Config, injector *memory.Injector, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	router, err := buildRouter(cfg.Providers)
	if err != nil {
		return nil, err
	}
	var moderator routing.Moderator
	if cfg.Moderation.Enabled {
		moderator = routing.NewModerationClient(cfg.Moderation.Endpoint, cfg.Moderation.APIKey)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		moderator: moderator,
		injector:  injector,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  map[string]*session{},
	}, nil
}

// buildRouter assembles the provider registry from configuration. No
// backends is a valid setup: only the canned routes can reply then.
func buildRouter(cfg config.ProvidersConfig) (*routing.Router, error) {
	if len(cfg.Backends) == 0 {
		return nil, nil
	}
	provs := make([]routing.Provider, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		var client llm.Client
		switch b.Kind {
		case "anthropic":
			client = anthropic.New(b.APIKey)
		default:
			client = openai.New(b.Endpoint, b.APIKey)
		}
		provs = append(provs, routing.Provider{
			Name:    b.Name,
			Model:   b.Model,
			Weight:  b.Weight,
			Primary: b.Primary,
			Client:  client,
		})
	}
	return routing.NewRouter(provs, routing.Policy{
		Mode:      cfg.Mode,
		Fixed:     cfg.Fixed,
		Overrides: cfg.Overrides,
		Retry:     cfg.Retry,
	}, cfg.Timeout)
}

func (m *Manager) buildSession(id string) (*session, error) {
	g := gate.New(gate.Config{
		Disabled:    m.cfg.Gate.Disabled,
		DryRun:      m.cfg.Gate.DryRun,
		MinInterval: m.cfg.Gate.MinInterval,
		Cooldowns:   m.cfg.Gate.Cooldowns,
	}, gate.NewEmoteClassifier(m.cfg.Gate.EmoteAllowList), nil)

	dir, err := director.New(director.Config{
		SessionID: id,
		Persona: behavior.Config{
			PersonaName:      m.cfg.Persona.Name,
			Aliases:          m.cfg.Persona.Aliases,
			DirectVerbs:      m.cfg.Persona.DirectVerbs,
			ShortAckMaxChars: m.cfg.Persona.ShortAckMaxChars,
			BanterMaxChars:   m.cfg.Persona.BanterMaxChars,
		},
		Continuation: director.ContinuationConfig{
			MaxIntervening: m.cfg.Continuation.MaxIntervening,
			StreakCap:      m.cfg.Continuation.StreakCap,
			OtherNames:     m.cfg.Continuation.OtherNames,
			MusicKeywords:  m.cfg.Continuation.MusicKeywords,
			DeicticPhrases: m.cfg.Continuation.DeicticPhrases,
		},
		PromptCharBudget: m.cfg.Persona.PromptCharBudget,
		SystemPrompt:     m.cfg.Persona.SystemPrompt,
	}, g, m.router, m.moderator, m.injector, m.logger, nil)
	if err != nil {
		return nil, err
	}

	s := &session{jobs: make(chan job, defaultQueueSize), dir: dir}
	m.wg.Add(1)
	go m.run(s)
	return s, nil
}

// run is a session's single logical thread. Only it touches the
// director's state.
func (m *Manager) run(s *session) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case j, ok := <-s.jobs:
			if !ok {
				return
			}
			ctx := j.ctx
			if ctx == nil {
				ctx = m.ctx
			}
			if j.reset {
				s.dir.Reset()
				if j.result != nil {
					j.result <- director.Trace{}
				}
				continue
			}
			trace := s.dir.Handle(ctx, j.event)
			if j.result != nil {
				j.result <- trace
			}
		}
	}
}

func (m *Manager) session(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s, err := m.buildSession(id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

// Dispatch queues an event for its session and returns without waiting
// for the decision.
func (m *Manager) Dispatch(ctx context.Context, ev director.Event) error {
	return m.enqueue(ctx, ev, nil)
}

// Handle queues an event and waits for its trace.
func (m *Manager) Handle(ctx context.Context, ev director.Event) (director.Trace, error) {
	result := make(chan director.Trace, 1)
	if err := m.enqueue(ctx, ev, result); err != nil {
		return director.Trace{}, err
	}
	select {
	case <-ctx.Done():
		return director.Trace{}, ctx.Err()
	case <-m.ctx.Done():
		return director.Trace{}, m.ctx.Err()
	case trace := <-result:
		return trace, nil
	}
}

func (m *Manager) enqueue(ctx context.Context, ev director.Event, result chan director.Trace) error {
	if ev.SessionID == "" {
		return fmt.Errorf("sessionruntime: event has no session id")
	}
	if ctx == nil {
		ctx = m.ctx
	}
	s, err := m.session(ev.SessionID)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	case s.jobs <- job{ctx: ctx, event: ev, result: result}:
		return nil
	}
}

// Reset clears a session's conversation state in one step. The reset runs
// on the session's own loop so it cannot interleave with event handling.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = m.ctx
	}
	done := make(chan director.Trace, 1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	case s.jobs <- job{ctx: ctx, reset: true, result: done}:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	case <-done:
		return nil
	}
}

// Close stops all session loops and waits for them to drain.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
