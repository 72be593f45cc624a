package server

import (
	"log/slog"
	"net/http"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/remote"
	"github.com/lifeline-edge/triage/internal/risk"
)

type ClassifyRequest struct {
	Text   string `json:"text" validate:"required,max=4000"`
	Locale string `json:"lang,omitempty"`
}

type ClassifyResponse struct {
	Hazard     string  `json:"hazard"`
	Confidence float64 `json:"confidence"`
	// Source is "synonyms" or "remote".
	Source   string `json:"source"`
	Degraded bool   `json:"degraded,omitempty"`
}

func handleClassify(logger *slog.Logger, catalog *hazard.Catalog, classifier *remote.Classifier) http.HandlerFunc {
	matcher := catalog.Matcher()

	return func(w http.ResponseWriter, r *http.Request) {
		var req ClassifyRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		locale := catalog.Locale(req.Locale)

		m := matcher.Classify(req.Text, locale)
		resp := ClassifyResponse{Hazard: m.Hazard, Confidence: m.Confidence, Source: "synonyms"}
		if m.Hazard != catalog.Unclear || classifier == nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}

		slug, ok, err := classifier.Classify(r.Context(), req.Text, locale)
		switch {
		case err != nil:
			logger.Info("remote classification unavailable", "error", err)
			resp.Degraded = true
		case ok:
			if _, known := catalog.Category(slug); known {
				resp.Hazard = slug
				resp.Source = "remote"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type RiskRequest struct {
	Hazard  string       `json:"hazard"`
	NodeID  string       `json:"nodeId,omitempty"`
	Persona risk.Persona `json:"persona,omitempty" validate:"omitempty,oneof=default child senior cognitive"`
	Vitals  risk.Vitals  `json:"vitals"`
	Env     risk.Env     `json:"env"`
}

type RiskResponse struct {
	Risk risk.Level `json:"risk"`
}

func handleRisk(catalog *hazard.Catalog) http.HandlerFunc {
	scorer := catalog.Scorer()

	return func(w http.ResponseWriter, r *http.Request) {
		var req RiskRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level := scorer.Score(risk.Context{
			Hazard:  req.Hazard,
			NodeID:  req.NodeID,
			Persona: req.Persona,
			Vitals:  req.Vitals,
			Env:     req.Env,
		})
		writeJSON(w, http.StatusOK, RiskResponse{Risk: level})
	}
}

type PlanRequest struct {
	Text        string         `json:"text,omitempty" validate:"max=4000"`
	Hazard      string         `json:"hazard,omitempty"`
	Locale      string         `json:"lang,omitempty"`
	Sensor      *risk.Snapshot `json:"sensor,omitempty"`
	VisionHints []string       `json:"visionHints,omitempty" validate:"max=16"`
	Persona     risk.Persona   `json:"persona,omitempty" validate:"omitempty,oneof=default child senior cognitive"`
	NodeID      string         `json:"nodeId,omitempty"`
	Vitals      risk.Vitals    `json:"vitals"`
	// Online defaults to true. False skips remote refinement.
	Online *bool `json:"online,omitempty"`
}

func (req PlanRequest) planner() planner.Request {
	out := planner.Request{
		Text:        req.Text,
		Locale:      req.Locale,
		Online:      req.Online == nil || *req.Online,
		VisionHints: req.VisionHints,
		Hazard:      req.Hazard,
		NodeID:      req.NodeID,
		Persona:     req.Persona,
		Vitals:      req.Vitals,
	}
	if req.Sensor != nil {
		out.Sensor = *req.Sensor
	}
	return out
}

func handlePlan(p *planner.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PlanRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p.Plan(r.Context(), req.planner()))
	}
}
