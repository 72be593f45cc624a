package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/interview"
	"github.com/lifeline-edge/triage/internal/navigator"
	"github.com/lifeline-edge/triage/internal/pending"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/risk"
	"github.com/lifeline-edge/triage/internal/sensor"
)

// crashHazard is the category suggested by the crash detector.
const crashHazard = "accident"

// session is the state of one person working through an emergency. Fields
// below mu are guarded by it. Never hold mu while calling into classify or
// plans.
type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	bus    *sensor.Bus

	classify pending.Latest
	plans    pending.Latest

	mu           sync.Mutex
	locale       string
	interview    *interview.Interview
	remoteHazard string
	nav          *navigator.Navigator
	risk         risk.Context
	level        risk.Level
	sensor       risk.Snapshot
	plan         *planner.Plan

	// generation counts interview restarts. Remote results carry the
	// generation they were requested for.
	generation uint64
}

func (s *session) close() {
	s.cancel()
	s.classify.Cancel()
	s.plans.Cancel()
}

// Sessions keeps live sessions in memory. Idle sessions expire after the
// TTL; expiry stops their sensor goroutines.
type Sessions struct {
	items   *cache.Cache
	catalog *hazard.Catalog
	scorer  *risk.Scorer
	broker  *Broker
	logger  *slog.Logger
}

func NewSessions(ttl time.Duration, catalog *hazard.Catalog, broker *Broker, logger *slog.Logger) *Sessions {
	c := cache.New(ttl, 10*time.Minute)
	c.OnEvicted(func(id string, v any) {
		v.(*session).close()
		logger.Debug("session closed", "session", id)
	})
	return &Sessions{
		items:   c,
		catalog: catalog,
		scorer:  catalog.Scorer(),
		broker:  broker,
		logger:  logger,
	}
}

// Create starts a session. A non-empty suggestion is offered for
// confirmation before the first interview question.
func (m *Sessions) Create(locale string, persona risk.Persona, suggestion string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        uuid.NewString(),
		ctx:       ctx,
		cancel:    cancel,
		bus:       sensor.NewBus(),
		locale:    m.catalog.Locale(locale),
		interview: interview.New(m.catalog.InterviewTable(), suggestion),
		risk:      risk.Context{Persona: persona},
	}
	s.level = m.scorer.Score(s.risk)

	detector := sensor.NewCrashDetector(crashHazard)
	detector.Start(ctx, s.bus, func(sg sensor.Suggestion) { m.suggest(s, sg) })

	m.items.Set(s.id, s, cache.DefaultExpiration)
	return s
}

// Get returns the session and extends its lifetime.
func (m *Sessions) Get(id string) (*session, bool) {
	v, ok := m.items.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*session)
	if s.ctx.Err() != nil {
		return nil, false
	}
	m.items.Set(id, s, cache.DefaultExpiration)
	return s, true
}

func (m *Sessions) Delete(id string) bool {
	if _, ok := m.items.Get(id); !ok {
		return false
	}
	m.items.Delete(id)
	return true
}

func (m *Sessions) Count() int { return m.items.ItemCount() }

// CloseAll ends every session.
func (m *Sessions) CloseAll() {
	for id := range m.items.Items() {
		m.items.Delete(id)
	}
}

// suggest records a crash suggestion: it raises the crash confidence of the
// risk context and, before the first answer, offers the hazard for
// confirmation.
func (m *Sessions) suggest(s *session, sg sensor.Suggestion) {
	s.mu.Lock()
	offered := s.interview.Suggest(sg.Hazard)
	s.risk.Env.CrashConfidence = max(s.risk.Env.CrashConfidence, sg.Confidence)
	changed := m.rescore(s)
	level := s.level
	view := interviewView(s, m.catalog)
	s.mu.Unlock()

	m.logger.Info("crash suggestion", "session", s.id, "confidence", sg.Confidence, "reasons", sg.Reasons)
	m.broker.Publish(s.id, Event{Type: EventSuggestion, Data: sg})
	if offered {
		m.broker.Publish(s.id, Event{Type: EventInterview, Data: view})
	}
	if changed {
		m.broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: level}})
	}
}

// rescore recomputes the risk level from the session context. It reports
// whether the level changed. Callers hold s.mu.
func (m *Sessions) rescore(s *session) bool {
	level := m.scorer.Score(s.risk)
	changed := level != s.level
	s.level = level
	return changed
}

// applyRemote records a remote classification requested for interview
// generation gen. A result for a restarted interview or a superseded ticket
// is dropped. It reports whether the risk level changed.
func (m *Sessions) applyRemote(s *session, tk pending.Ticket, gen uint64, slug string) (changed bool) {
	s.classify.Apply(tk, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.generation != gen {
			return
		}
		s.remoteHazard = slug
		s.risk.Hazard = slug
		changed = m.rescore(s)
	})
	return changed
}
