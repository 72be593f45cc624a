package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/interview"
	"github.com/lifeline-edge/triage/internal/navigator"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/remote"
	"github.com/lifeline-edge/triage/internal/risk"
	"github.com/lifeline-edge/triage/internal/sensor"
)

type CreateSessionRequest struct {
	Locale     string       `json:"lang,omitempty"`
	Persona    risk.Persona `json:"persona,omitempty" validate:"omitempty,oneof=default child senior cognitive"`
	Suggestion string       `json:"suggestion,omitempty"`
}

type SessionResponse struct {
	ID        string            `json:"id"`
	Locale    string            `json:"lang"`
	Risk      risk.Level        `json:"risk"`
	Interview InterviewResponse `json:"interview"`
}

func handleCreateSession(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		if req.Suggestion != "" {
			if _, ok := sessions.catalog.Category(req.Suggestion); !ok {
				writeError(w, http.StatusBadRequest, "unknown hazard")
				return
			}
		}

		s := sessions.Create(req.Locale, req.Persona, req.Suggestion)
		s.mu.Lock()
		resp := SessionResponse{
			ID:        s.id,
			Locale:    s.locale,
			Risk:      s.level,
			Interview: interviewView(s, sessions.catalog),
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, resp)
	}
}

type SessionState struct {
	ID       string        `json:"id"`
	Locale   string        `json:"lang"`
	Context  risk.Context  `json:"context"`
	Risk     risk.Level    `json:"risk"`
	TreeOpen bool          `json:"treeOpen"`
	Plan     *planner.Plan `json:"plan,omitempty"`
}

func handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		s.mu.Lock()
		st := SessionState{
			ID:       s.id,
			Locale:   s.locale,
			Context:  s.risk,
			Risk:     s.level,
			TreeOpen: s.nav != nil,
			Plan:     s.plan,
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, st)
	}
}

func handleDeleteSession(sessions *Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions.Delete(sessionFrom(r).id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- interview ---

type QuestionView struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type InterviewResponse struct {
	State        string            `json:"state"`
	Suggestion   string            `json:"suggestion,omitempty"`
	Index        int               `json:"index"`
	Total        int               `json:"total"`
	Question     *QuestionView     `json:"question,omitempty"`
	Result       *interview.Result `json:"result,omitempty"`
	RemoteHazard string            `json:"remoteHazard,omitempty"`
	Degraded     bool              `json:"degraded,omitempty"`
}

// interviewView renders the interview of s. Callers hold s.mu.
func interviewView(s *session, catalog *hazard.Catalog) InterviewResponse {
	iv := s.interview
	v := InterviewResponse{
		State:        iv.State().String(),
		Index:        iv.Index(),
		Total:        iv.Total(),
		RemoteHazard: s.remoteHazard,
	}
	if iv.State() == interview.AwaitingConfirmation {
		v.Suggestion = iv.Suggestion()
	}
	if q, ok := iv.Question(); ok {
		v.Question = &QuestionView{Key: q.Key, Text: hazard.Text(q.Text).In(s.locale, catalog.DefaultLocale)}
	}
	if res, ok := iv.Result(); ok {
		v.Result = &res
	}
	return v
}

func handleInterview(catalog *hazard.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		s.mu.Lock()
		view := interviewView(s, catalog)
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, view)
	}
}

type InterviewAnswerRequest struct {
	// Answer is "yes", "no" or "skip". Missing counts as skip.
	Answer interview.Answer `json:"answer"`
}

func handleInterviewAnswer(logger *slog.Logger, sessions *Sessions, classifier *remote.Classifier, broker *Broker) http.HandlerFunc {
	catalog := sessions.catalog

	return func(w http.ResponseWriter, r *http.Request) {
		var req InterviewAnswerRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s := sessionFrom(r)

		s.mu.Lock()
		state, err := s.interview.Answer(req.Answer)
		if err != nil {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		var (
			askRemote   bool
			description string
			riskChanged bool
		)
		gen := s.generation
		if state == interview.Complete {
			res, _ := s.interview.Result()
			s.risk.Hazard = res.Hazard
			riskChanged = sessions.rescore(s)
			askRemote = res.Hazard == catalog.Unclear && classifier != nil
			description = s.interview.Describe(s.locale)
		}
		locale := s.locale
		s.mu.Unlock()

		degraded := false
		if askRemote {
			ctx, tk := s.classify.Begin(r.Context())
			slug, ok, err := classifier.Classify(ctx, description, locale)
			switch {
			case err != nil:
				logger.Info("remote classification unavailable", "session", s.id, "error", err)
				degraded = true
			case ok:
				if _, known := catalog.Category(slug); known {
					riskChanged = sessions.applyRemote(s, tk, gen, slug) || riskChanged
				}
			}
			s.classify.Done(tk)
		}

		s.mu.Lock()
		view := interviewView(s, catalog)
		level := s.level
		s.mu.Unlock()
		view.Degraded = degraded

		broker.Publish(s.id, Event{Type: EventInterview, Data: view})
		if riskChanged {
			broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: level}})
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func handleInterviewRestart(catalog *hazard.Catalog, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		s.classify.Cancel()

		s.mu.Lock()
		s.interview.Restart()
		s.generation++
		s.remoteHazard = ""
		view := interviewView(s, catalog)
		s.mu.Unlock()

		broker.Publish(s.id, Event{Type: EventInterview, Data: view})
		writeJSON(w, http.StatusOK, view)
	}
}

// --- decision tree ---

type OpenTreeRequest struct {
	// Hazard defaults to the interview result.
	Hazard string `json:"hazard,omitempty"`
	Locale string `json:"lang,omitempty"`
}

type SelectRequest struct {
	NodeID string `json:"nodeId" validate:"required"`
}

type TreeResponse struct {
	navigator.View
	Hazard string     `json:"hazard"`
	Risk   risk.Level `json:"risk"`
	Exited bool       `json:"exited,omitempty"`
}

// treeView renders the open tree of s. Callers hold s.mu.
func treeView(s *session, simplified bool) (TreeResponse, error) {
	if s.nav == nil {
		return TreeResponse{}, navigator.ErrNoContent
	}
	simplified = simplified || s.risk.Persona == risk.PersonaCognitive
	view, err := s.nav.View(simplified)
	return TreeResponse{View: view, Hazard: s.risk.Hazard, Risk: s.level}, err
}

func writeTree(w http.ResponseWriter, resp TreeResponse, err error) {
	if errors.Is(err, navigator.ErrNoContent) {
		writeError(w, http.StatusNotFound, "no content")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleOpenTree(content *remote.Content, sessions *Sessions, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenTreeRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		s := sessionFrom(r)

		s.mu.Lock()
		slug := req.Hazard
		if slug == "" {
			slug = s.remoteHazard
		}
		if res, ok := s.interview.Result(); ok && slug == "" {
			slug = res.Hazard
		}
		locale := s.locale
		if req.Locale != "" {
			locale = sessions.catalog.Locale(req.Locale)
		}
		s.mu.Unlock()

		if slug == "" {
			writeError(w, http.StatusBadRequest, "hazard required")
			return
		}

		tree, _, err := content.Tree(r.Context(), slug, locale)
		if err != nil {
			sessions.logger.Info("tree unavailable", "session", s.id, "hazard", slug, "error", err)
		}

		s.mu.Lock()
		s.nav = navigator.New(tree)
		s.risk.Hazard = slug
		s.risk.NodeID = s.nav.Current()
		changed := sessions.rescore(s)
		resp, viewErr := treeView(s, false)
		s.mu.Unlock()

		if changed {
			broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: resp.Risk}})
		}
		if viewErr == nil {
			broker.Publish(s.id, Event{Type: EventTree, Data: resp})
		}
		writeTree(w, resp, viewErr)
	}
}

func handleTree() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)
		simplified := r.URL.Query().Get("simplified") == "true"

		s.mu.Lock()
		resp, err := treeView(s, simplified)
		s.mu.Unlock()
		writeTree(w, resp, err)
	}
}

func handleTreeSelect(sessions *Sessions, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s := sessionFrom(r)

		s.mu.Lock()
		if s.nav == nil {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "no content")
			return
		}
		selErr := s.nav.Select(req.NodeID)
		changed := false
		if selErr == nil {
			s.risk.NodeID = s.nav.Current()
			changed = sessions.rescore(s)
		}
		resp, err := treeView(s, false)
		s.mu.Unlock()

		if changed {
			broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: resp.Risk}})
		}
		if selErr == nil {
			broker.Publish(s.id, Event{Type: EventTree, Data: resp})
		}
		writeTree(w, resp, err)
	}
}

func handleTreeBack(sessions *Sessions, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := sessionFrom(r)

		s.mu.Lock()
		if s.nav == nil {
			s.mu.Unlock()
			writeJSON(w, http.StatusOK, TreeResponse{Exited: true})
			return
		}
		var (
			resp TreeResponse
			err  error
		)
		if s.nav.Back() {
			s.nav = nil
			s.risk.NodeID = ""
			sessions.rescore(s)
			resp = TreeResponse{Hazard: s.risk.Hazard, Risk: s.level, Exited: true}
		} else {
			s.risk.NodeID = s.nav.Current()
			sessions.rescore(s)
			resp, err = treeView(s, false)
		}
		s.mu.Unlock()

		broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: resp.Risk}})
		if resp.Exited {
			writeJSON(w, http.StatusOK, resp)
			return
		}
		broker.Publish(s.id, Event{Type: EventTree, Data: resp})
		writeTree(w, resp, err)
	}
}

// --- risk context and sensors ---

type ContextUpdate struct {
	Persona         *risk.Persona  `json:"persona,omitempty" validate:"omitempty,oneof=default child senior cognitive"`
	Breathing       *bool          `json:"breathing,omitempty"`
	Bleeding        *risk.Bleeding `json:"bleeding,omitempty" validate:"omitempty,oneof=none minor severe"`
	Night           *bool          `json:"night,omitempty"`
	SpeedKmh        *float64       `json:"speedKmh,omitempty" validate:"omitempty,min=0"`
	CrashConfidence *float64       `json:"crashConfidence,omitempty" validate:"omitempty,min=0,max=1"`
}

type ContextResponse struct {
	Context risk.Context `json:"context"`
	Risk    risk.Level   `json:"risk"`
}

func handleContext(sessions *Sessions, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ContextUpdate
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s := sessionFrom(r)

		s.mu.Lock()
		if req.Persona != nil {
			s.risk.Persona = *req.Persona
		}
		if req.Breathing != nil {
			s.risk.Vitals.Breathing = req.Breathing
		}
		if req.Bleeding != nil {
			s.risk.Vitals.Bleeding = *req.Bleeding
		}
		if req.Night != nil {
			s.risk.Env.Night = *req.Night
		}
		if req.SpeedKmh != nil {
			s.risk.Env.SpeedKmh = *req.SpeedKmh
		}
		if req.CrashConfidence != nil {
			s.risk.Env.CrashConfidence = *req.CrashConfidence
		}
		sessions.rescore(s)
		resp := ContextResponse{Context: s.risk, Risk: s.level}
		s.mu.Unlock()

		broker.Publish(s.id, Event{Type: EventRisk, Data: RiskResponse{Risk: resp.Risk}})
		writeJSON(w, http.StatusOK, resp)
	}
}

type SensorRequest struct {
	Kind     sensor.Kind `json:"kind" validate:"required,oneof=motion location"`
	Accel    float64     `json:"accel,omitempty" validate:"min=0"`
	SpeedKmh float64     `json:"speedKmh,omitempty" validate:"min=0"`
	Time     time.Time   `json:"time,omitzero"`
}

func handleSensor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SensorRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s := sessionFrom(r)

		rd := sensor.Reading{Kind: req.Kind, Accel: req.Accel, SpeedKmh: req.SpeedKmh, Time: req.Time}
		if rd.Time.IsZero() {
			rd.Time = time.Now()
		}

		s.mu.Lock()
		s.sensor.Time = rd.Time
		switch rd.Kind {
		case sensor.Motion:
			s.sensor.Accel = rd.Accel
		case sensor.Location:
			s.sensor.SpeedKmh = rd.SpeedKmh
			s.risk.Env.SpeedKmh = rd.SpeedKmh
		}
		s.mu.Unlock()

		s.bus.Publish(rd)
		w.WriteHeader(http.StatusAccepted)
	}
}

// --- plans ---

type SessionPlanRequest struct {
	Text        string         `json:"text,omitempty" validate:"max=4000"`
	VisionHints []string       `json:"visionHints,omitempty" validate:"max=16"`
	Sensor      *risk.Snapshot `json:"sensor,omitempty"`
	Online      *bool          `json:"online,omitempty"`
}

// handleSessionPlan plans from the session state. A newer plan request
// supersedes a running one; the superseded request gets 409.
func handleSessionPlan(p *planner.Planner, window time.Duration, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionPlanRequest
		if r.ContentLength != 0 {
			if err := decode(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		s := sessionFrom(r)

		s.mu.Lock()
		preq := planner.Request{
			Text:        req.Text,
			Locale:      s.locale,
			Online:      req.Online == nil || *req.Online,
			VisionHints: req.VisionHints,
			Hazard:      s.risk.Hazard,
			NodeID:      s.risk.NodeID,
			Persona:     s.risk.Persona,
			Vitals:      s.risk.Vitals,
			Env:         s.risk.Env,
		}
		snap := s.sensor
		s.mu.Unlock()

		ctx, tk := s.plans.Begin(r.Context())
		defer s.plans.Done(tk)

		switch {
		case req.Sensor != nil:
			snap = *req.Sensor
		case snap.Time.IsZero():
			if rd, ok := sensor.ReadWithin(ctx, s.bus, sensor.Motion, window); ok {
				snap = rd.Snapshot()
			}
		}
		snap.CrashConfidence = max(snap.CrashConfidence, preq.Env.CrashConfidence)
		preq.Sensor = snap

		plan := p.Plan(ctx, preq)

		applied := s.plans.Apply(tk, func() {
			s.mu.Lock()
			s.plan = &plan
			s.mu.Unlock()
		})
		if !applied {
			writeError(w, http.StatusConflict, "superseded")
			return
		}
		broker.Publish(s.id, Event{Type: EventPlan, Data: plan})
		writeJSON(w, http.StatusOK, plan)
	}
}
