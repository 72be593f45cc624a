package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testScorer() *Scorer {
	return NewScorer(map[string]Level{
		"cardiac-arrest":       High,
		"breathing-difficulty": Medium,
		"stable-position":      Low,
	}, nil)
}

func ptr(b bool) *bool { return &b }

func TestScore(t *testing.T) {
	s := testScorer()

	tests := []struct {
		name string
		ctx  Context
		want Level
	}{
		{"baseline high", Context{Hazard: "cardiac-arrest"}, High},
		{"baseline medium", Context{Hazard: "breathing-difficulty"}, Medium},
		{"unknown hazard defaults low", Context{Hazard: "nope"}, Low},
		{"child on low baseline stays low", Context{Hazard: "stable-position", Persona: PersonaChild}, Low},
		{"child on medium baseline escalates", Context{Hazard: "breathing-difficulty", Persona: PersonaChild}, High},
		{"senior keeps medium", Context{Hazard: "breathing-difficulty", Persona: PersonaSenior}, Medium},
		{"cognitive keeps medium", Context{Hazard: "breathing-difficulty", Persona: PersonaCognitive}, Medium},
		{"escalation node", Context{Hazard: "stable-position", NodeID: "unresponsive"}, High},
		{"non-escalation node", Context{Hazard: "stable-position", NodeID: "check-airway"}, Low},
		{"severe bleeding", Context{Hazard: "stable-position", Vitals: Vitals{Bleeding: BleedingSevere}}, High},
		{"minor bleeding", Context{Hazard: "stable-position", Vitals: Vitals{Bleeding: BleedingMinor}}, Low},
		{"not breathing", Context{Hazard: "stable-position", Vitals: Vitals{Breathing: ptr(false)}}, High},
		{"breathing", Context{Hazard: "stable-position", Vitals: Vitals{Breathing: ptr(true)}}, Low},
		{"crash above threshold", Context{Hazard: "nope", Env: Env{CrashConfidence: 0.61}}, High},
		{"crash at threshold", Context{Hazard: "nope", Env: Env{CrashConfidence: 0.6}}, Low},
		{"night raises medium", Context{Hazard: "breathing-difficulty", Env: Env{Night: true}}, High},
		{"night alone keeps low", Context{Hazard: "stable-position", Env: Env{Night: true}}, Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Score(tt.ctx))
		})
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := testScorer()
	ctx := Context{Hazard: "breathing-difficulty", Persona: PersonaSenior, Env: Env{Night: true, SpeedKmh: 40}}
	first := s.Score(ctx)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, s.Score(ctx))
	}
}

func TestScoreMonotonic(t *testing.T) {
	s := testScorer()
	hazards := []string{"cardiac-arrest", "breathing-difficulty", "stable-position", "unknown"}

	for _, h := range hazards {
		base := s.Score(Context{Hazard: h})
		raised := []Context{
			{Hazard: h, NodeID: "shock-signs"},
			{Hazard: h, Persona: PersonaChild},
			{Hazard: h, Vitals: Vitals{Bleeding: BleedingSevere}},
			{Hazard: h, Env: Env{CrashConfidence: 0.9}},
			{Hazard: h, Env: Env{Night: true}},
		}
		for _, ctx := range raised {
			assert.Truef(t, s.Score(ctx).AtLeast(base), "%s lowered by %+v", h, ctx)
		}
	}
}

func TestFromSensor(t *testing.T) {
	noon := time.Date(2025, 8, 3, 12, 0, 0, 0, time.Local)
	late := time.Date(2025, 8, 3, 23, 30, 0, 0, time.Local)

	env := FromSensor(Snapshot{Accel: 30, Time: noon})
	assert.Greater(t, env.CrashConfidence, CrashThreshold)
	assert.False(t, env.Night)

	env = FromSensor(Snapshot{Accel: 3, Time: late})
	assert.Zero(t, env.CrashConfidence)
	assert.True(t, env.Night)

	env = FromSensor(Snapshot{Accel: 30, CrashConfidence: 0.95})
	assert.Equal(t, 0.95, env.CrashConfidence)
	assert.False(t, env.Night, "zero time is never night")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("medium")
	assert.NoError(t, err)
	assert.Equal(t, Medium, l)

	l, err = ParseLevel("")
	assert.NoError(t, err)
	assert.Equal(t, Low, l)

	_, err = ParseLevel("extreme")
	assert.Error(t, err)
}
