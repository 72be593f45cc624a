// Package planner assembles an ordered, locale-specific action plan from a
// free-text description, sensor readings and vision hints.
package planner

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/risk"
	"github.com/lifeline-edge/triage/internal/synonym"
)

type Source string

const (
	SourceRules   Source = "rules"
	SourceRefined Source = "rules+remote-refinement"
)

type Step struct {
	Text     string `json:"text"`
	Critical bool   `json:"critical,omitempty"`
}

type Plan struct {
	Hazard     string     `json:"hazard"`
	Confidence float64    `json:"confidence"`
	Risk       risk.Level `json:"risk"`
	Steps      []Step     `json:"steps"`
	Source     Source     `json:"source"`
	CTA        string     `json:"cta,omitempty"`
	// Degraded is set when a remote refinement was attempted and discarded.
	Degraded bool `json:"degraded,omitempty"`
}

// Texts returns the plain step strings.
func (p Plan) Texts() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Text
	}
	return out
}

type Request struct {
	Text        string
	Sensor      risk.Snapshot
	Locale      string
	Online      bool
	VisionHints []string

	// Hazard skips text inference when set and known. Vision hints still win.
	Hazard  string
	NodeID  string
	Persona risk.Persona
	Vitals  risk.Vitals
	// Env is context already known to the caller. It is merged with the
	// environment derived from Sensor.
	Env risk.Env
}

type Planner struct {
	catalog *hazard.Catalog
	matcher *synonym.Matcher
	scorer  *risk.Scorer
	refiner Refiner
	logger  *slog.Logger
}

// New returns a planner over catalog. refiner may be nil, in which case
// plans are never refined.
func New(catalog *hazard.Catalog, refiner Refiner, logger *slog.Logger) *Planner {
	return &Planner{
		catalog: catalog,
		matcher: catalog.Matcher(),
		scorer:  catalog.Scorer(),
		refiner: refiner,
		logger:  logger,
	}
}

// Plan never returns an empty step list.
func (p *Planner) Plan(ctx context.Context, req Request) Plan {
	locale := p.catalog.Locale(req.Locale)
	plan := Plan{Source: SourceRules}

	hints := p.hints(req.VisionHints)
	plan.Hazard, plan.Confidence = p.infer(req, locale, hints)

	env := mergeEnv(risk.FromSensor(req.Sensor), req.Env)
	plan.Risk = p.scorer.Score(risk.Context{
		Hazard:  plan.Hazard,
		NodeID:  req.NodeID,
		Persona: req.Persona,
		Vitals:  req.Vitals,
		Env:     env,
	})

	critical := p.catalog.Critical(locale)
	steps := tag(p.catalog.Steps(plan.Hazard, locale), critical)
	if plan.Risk == risk.High {
		slices.SortStableFunc(steps, func(a, b Step) int {
			switch {
			case a.Critical == b.Critical:
				return 0
			case a.Critical:
				return -1
			default:
				return 1
			}
		})
	}

	var prefix []Step
	for _, h := range hints {
		text := h.Step.In(locale, p.catalog.DefaultLocale)
		if text == "" || mentions(append(slices.Clone(prefix), steps...), h.Concepts[locale]) {
			continue
		}
		prefix = append(prefix, Step{Text: text, Critical: isCritical(text, critical)})
	}
	plan.Steps = dedupe(append(prefix, steps...))

	plan.CTA = p.cta(plan, locale, hints)

	if req.Online && p.refiner != nil {
		p.refine(ctx, &plan, req, locale, critical)
	}
	return plan
}

// mergeEnv combines two environments: night if either says so, the higher
// crash confidence and speed otherwise.
func mergeEnv(a, b risk.Env) risk.Env {
	return risk.Env{
		CrashConfidence: max(a.CrashConfidence, b.CrashConfidence),
		Night:           a.Night || b.Night,
		SpeedKmh:        max(a.SpeedKmh, b.SpeedKmh),
	}
}

func (p *Planner) hints(names []string) []hazard.Hint {
	var out []hazard.Hint
	for _, name := range names {
		if h, ok := p.catalog.Hint(name); ok {
			out = append(out, h)
		}
	}
	return out
}

func (p *Planner) infer(req Request, locale string, hints []hazard.Hint) (string, float64) {
	for _, h := range hints {
		if h.Hazard != "" {
			return h.Hazard, 1
		}
	}
	if _, ok := p.catalog.Category(req.Hazard); ok {
		return req.Hazard, 1
	}
	m := p.matcher.Classify(req.Text, locale)
	return m.Hazard, m.Confidence
}

func (p *Planner) cta(plan Plan, locale string, hints []hazard.Hint) string {
	for _, h := range hints {
		if s := h.CTA.In(locale, p.catalog.DefaultLocale); s != "" {
			return s
		}
	}
	if s := p.catalog.CTA(plan.Hazard, locale); s != "" {
		return s
	}
	return p.catalog.RiskCTAFor(plan.Risk, locale)
}

func (p *Planner) refine(ctx context.Context, plan *Plan, req Request, locale string, critical []string) {
	res, err := p.refiner.Refine(ctx, RefineRequest{
		Hazard: plan.Hazard,
		Steps:  plan.Texts(),
		Sensor: req.Sensor,
		Locale: locale,
	})
	if err != nil {
		p.logger.Debug("plan refinement failed", "hazard", plan.Hazard, "error", err)
		plan.Degraded = true
		return
	}

	checked := Check(res)
	if !checked.Valid() {
		p.logger.Debug("plan refinement discarded", "hazard", plan.Hazard, "reason", checked.Reason)
		plan.Degraded = true
		return
	}
	if steps := dedupe(tag(checked.Steps, critical)); len(steps) > 0 {
		plan.Steps = steps
	}
	if checked.CTA != "" {
		plan.CTA = checked.CTA
	}
	plan.Source = SourceRefined
}

func tag(texts []string, critical []string) []Step {
	out := make([]Step, len(texts))
	for i, t := range texts {
		out[i] = Step{Text: t, Critical: isCritical(t, critical)}
	}
	return out
}

func isCritical(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func mentions(steps []Step, concepts []string) bool {
	for _, s := range steps {
		n := synonym.Normalize(s.Text)
		for _, c := range concepts {
			if c = synonym.Normalize(c); c != "" && strings.Contains(n, c) {
				return true
			}
		}
	}
	return false
}

// dedupe keeps the first occurrence of each step, comparing normalized text.
func dedupe(steps []Step) []Step {
	seen := make(map[string]bool, len(steps))
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		key := synonym.Normalize(s.Text)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
