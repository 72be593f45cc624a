// Package risk maps a situation context to an urgency level. Everything
// here is pure: identical inputs always produce identical levels.
package risk

import (
	"fmt"
	"time"
)

type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

func (l Level) rank() int {
	switch l {
	case Medium:
		return 1
	case High:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether l is as urgent as other.
func (l Level) AtLeast(other Level) bool { return l.rank() >= other.rank() }

func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case Low, Medium, High:
		return Level(s), nil
	case "":
		return Low, nil
	}
	return Low, fmt.Errorf("unknown risk level %q", s)
}

type Persona string

const (
	PersonaDefault   Persona = "default"
	PersonaChild     Persona = "child"
	PersonaSenior    Persona = "senior"
	PersonaCognitive Persona = "cognitive"
)

type Bleeding string

const (
	BleedingNone   Bleeding = "none"
	BleedingMinor  Bleeding = "minor"
	BleedingSevere Bleeding = "severe"
)

type Vitals struct {
	// Breathing is nil when unknown.
	Breathing *bool    `json:"breathing,omitempty"`
	Bleeding  Bleeding `json:"bleeding,omitempty"`
}

type Env struct {
	CrashConfidence float64 `json:"crashConfidence,omitempty"`
	Night           bool    `json:"night,omitempty"`
	SpeedKmh        float64 `json:"speedKmh,omitempty"`
}

// Context is a read-only snapshot, computed fresh for every evaluation.
type Context struct {
	Hazard  string  `json:"hazard"`
	NodeID  string  `json:"nodeId,omitempty"`
	Persona Persona `json:"persona,omitempty"`
	Vitals  Vitals  `json:"vitals"`
	Env     Env     `json:"env"`
}

// CrashThreshold is the crash confidence above which risk is always high.
const CrashThreshold = 0.6

var defaultEscalationNodes = []string{"no-breathing", "unresponsive", "severe-bleeding", "shock-signs"}

// Scorer holds the static baseline table and escalation node set.
type Scorer struct {
	baseline   map[string]Level
	escalation map[string]struct{}
}

// NewScorer copies its inputs. A nil escalation list uses the default set.
func NewScorer(baseline map[string]Level, escalation []string) *Scorer {
	if escalation == nil {
		escalation = defaultEscalationNodes
	}
	s := &Scorer{
		baseline:   make(map[string]Level, len(baseline)),
		escalation: make(map[string]struct{}, len(escalation)),
	}
	for k, v := range baseline {
		s.baseline[k] = v
	}
	for _, id := range escalation {
		s.escalation[id] = struct{}{}
	}
	return s
}

// Baseline returns the static level for hazard, low when unknown.
func (s *Scorer) Baseline(hazard string) Level {
	if l, ok := s.baseline[hazard]; ok {
		return l
	}
	return Low
}

// Score never lowers the baseline; escalations only raise it.
func (s *Scorer) Score(ctx Context) Level {
	base := s.Baseline(ctx.Hazard)
	level := base

	if _, ok := s.escalation[ctx.NodeID]; ok && ctx.NodeID != "" {
		level = High
	}
	if ctx.Vitals.Breathing != nil && !*ctx.Vitals.Breathing {
		level = High
	}
	if ctx.Vitals.Bleeding == BleedingSevere {
		level = High
	}
	if ctx.Persona == PersonaChild && base != Low {
		level = High
	}
	if ctx.Env.CrashConfidence > CrashThreshold {
		level = High
	}
	if ctx.Env.Night && level == Medium {
		level = High
	}
	return level
}

// Snapshot is a raw sensor reading as delivered by the device bridge.
type Snapshot struct {
	// Accel is the summed absolute acceleration in m/s².
	Accel           float64   `json:"accel,omitempty"`
	Time            time.Time `json:"time"`
	CrashConfidence float64   `json:"crashConfidence,omitempty"`
	SpeedKmh        float64   `json:"speedKmh,omitempty"`
}

// ImpactAccel is the acceleration magnitude treated as a possible crash or fall.
const ImpactAccel = 25.0

const impactConfidence = 0.7

// IsNight reports whether t falls in 22:00–06:00 local time.
func IsNight(t time.Time) bool {
	h := t.Hour()
	return h >= 22 || h < 6
}

// FromSensor derives the lightweight environment used by the planner.
// A zero Time means the clock is unavailable and never counts as night.
func FromSensor(s Snapshot) Env {
	env := Env{CrashConfidence: s.CrashConfidence, SpeedKmh: s.SpeedKmh}
	if s.Accel > ImpactAccel && env.CrashConfidence < impactConfidence {
		env.CrashConfidence = impactConfidence
	}
	if !s.Time.IsZero() {
		env.Night = IsNight(s.Time)
	}
	return env
}
