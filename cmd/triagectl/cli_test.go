package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/risk"
)

// execute runs the CLI with args and stdin, resetting flag state first.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	locale, asJSON, verbose = "de", false, false
	riskFlags.hazard, riskFlags.node = "", ""
	riskFlags.persona, riskFlags.breathing, riskFlags.bleeding = "default", "", "none"
	riskFlags.night, riskFlags.crash, riskFlags.speed = false, 0, 0
	planFlags.hints, planFlags.hazard = nil, ""
	suggestion = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestClassifyCommand(t *testing.T) {
	out, err := execute(t, "", "classify", "Es", "brennt,", "überall", "Rauch")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "fire ("), out)

	out, err = execute(t, "", "classify", "--json", "etwas Seltsames passiert")
	require.NoError(t, err)
	var m struct{ Hazard string }
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "unclear", m.Hazard)
}

func TestRiskCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want risk.Level
	}{
		{"unknown hazard", []string{"--hazard", "meteor"}, risk.Low},
		{"fire baseline", []string{"--hazard", "fire"}, risk.High},
		{"not breathing", []string{"--breathing", "no"}, risk.High},
		{"crash", []string{"--crash", "0.9"}, risk.High},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", append([]string{"risk"}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, string(tt.want)+"\n", out)
		})
	}

	_, err := execute(t, "", "risk", "--persona", "robot")
	assert.Error(t, err)
	_, err = execute(t, "", "risk", "--breathing", "maybe")
	assert.Error(t, err)
}

func TestPlanCommand(t *testing.T) {
	out, err := execute(t, "", "plan", "--json", "Es brennt in der Küche")
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "fire", plan.Hazard)
	assert.Equal(t, planner.SourceRules, plan.Source)
	assert.NotEmpty(t, plan.Steps)

	out, err = execute(t, "", "plan", "--hazard", "fire")
	require.NoError(t, err)
	assert.Contains(t, out, "1. ")

	_, err = execute(t, "", "plan")
	assert.Error(t, err)
}

func TestInterviewCommand(t *testing.T) {
	out, err := execute(t, "y\n", "interview", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"hazard": "fire"`)

	out, err = execute(t, "vielleicht\ny\n", "interview", "--suggest", "accident", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown answer")
	assert.Contains(t, out, `"hazard": "accident"`)

	_, err = execute(t, "s\n", "interview")
	assert.Error(t, err, "stdin ended before the interview completed")
}

func TestCacheCommands(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("STATIC_CACHE_VERSION", "cli")

	out, err := execute(t, "", "cache", "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "installed triage-static-cli")

	out, err = execute(t, "", "cache", "status", "--json")
	require.NoError(t, err)
	var st struct{ Static string }
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "triage-static-cli", st.Static)
}
