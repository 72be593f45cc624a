package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/interview"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/risk"
)

// =============================================================================
// CLASSIFY
// =============================================================================

var classifyCmd = &cobra.Command{
	Use:   "classify <description...>",
	Short: "Classify a free-text description by synonym matching",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

func runClassify(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	m := cat.Matcher().Classify(strings.Join(args, " "), cat.Locale(locale))
	if asJSON {
		return printJSON(cmd.OutOrStdout(), m)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%.2f)\n", m.Hazard, m.Confidence)
	return nil
}

// =============================================================================
// RISK
// =============================================================================

var riskFlags struct {
	hazard    string
	node      string
	persona   string
	breathing string
	bleeding  string
	night     bool
	crash     float64
	speed     float64
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Score a risk context",
	Args:  cobra.NoArgs,
	RunE:  runRisk,
}

func init() {
	f := riskCmd.Flags()
	f.StringVar(&riskFlags.hazard, "hazard", "", "Hazard slug")
	f.StringVar(&riskFlags.node, "node", "", "Current decision tree node")
	f.StringVar(&riskFlags.persona, "persona", string(risk.PersonaDefault), "default, child, senior or cognitive")
	f.StringVar(&riskFlags.breathing, "breathing", "", "yes, no or empty when unknown")
	f.StringVar(&riskFlags.bleeding, "bleeding", string(risk.BleedingNone), "none, minor or severe")
	f.BoolVar(&riskFlags.night, "night", false, "Night time")
	f.Float64Var(&riskFlags.crash, "crash", 0, "Crash confidence between 0 and 1")
	f.Float64Var(&riskFlags.speed, "speed", 0, "Speed in km/h")
}

func riskContext() (risk.Context, error) {
	rc := risk.Context{
		Hazard:  riskFlags.hazard,
		NodeID:  riskFlags.node,
		Persona: risk.Persona(riskFlags.persona),
		Vitals:  risk.Vitals{Bleeding: risk.Bleeding(riskFlags.bleeding)},
		Env: risk.Env{
			CrashConfidence: riskFlags.crash,
			Night:           riskFlags.night,
			SpeedKmh:        riskFlags.speed,
		},
	}
	switch rc.Persona {
	case risk.PersonaDefault, risk.PersonaChild, risk.PersonaSenior, risk.PersonaCognitive:
	default:
		return rc, fmt.Errorf("unknown persona %q", riskFlags.persona)
	}
	switch rc.Vitals.Bleeding {
	case risk.BleedingNone, risk.BleedingMinor, risk.BleedingSevere:
	default:
		return rc, fmt.Errorf("unknown bleeding %q", riskFlags.bleeding)
	}
	if riskFlags.breathing != "" {
		a, err := interview.ParseAnswer(riskFlags.breathing)
		if err != nil || a == interview.Skip {
			return rc, fmt.Errorf("breathing must be yes or no, got %q", riskFlags.breathing)
		}
		breathing := a == interview.Yes
		rc.Vitals.Breathing = &breathing
	}
	return rc, nil
}

func runRisk(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	rc, err := riskContext()
	if err != nil {
		return err
	}
	level := cat.Scorer().Score(rc)
	if asJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"context": rc, "risk": level})
	}
	fmt.Fprintln(cmd.OutOrStdout(), level)
	return nil
}

// =============================================================================
// PLAN
// =============================================================================

var planFlags struct {
	hints  []string
	hazard string
}

var planCmd = &cobra.Command{
	Use:   "plan [description...]",
	Short: "Build an action plan from the local rules",
	Long: `Builds an action plan from a description, vision hints and the risk
flags shared with the risk command. Planning is always local; the remote
refinement is only available through the service.`,
	RunE: runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringSliceVar(&planFlags.hints, "hint", nil, "Vision hint, repeatable")
	f.StringVar(&planFlags.hazard, "hazard", "", "Hazard slug; skips text inference")
	f.StringVar(&riskFlags.persona, "persona", string(risk.PersonaDefault), "default, child, senior or cognitive")
	f.StringVar(&riskFlags.breathing, "breathing", "", "yes, no or empty when unknown")
	f.StringVar(&riskFlags.bleeding, "bleeding", string(risk.BleedingNone), "none, minor or severe")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	rc, err := riskContext()
	if err != nil {
		return err
	}
	if len(args) == 0 && planFlags.hazard == "" && len(planFlags.hints) == 0 {
		return fmt.Errorf("need a description, --hazard or --hint")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	p := planner.New(cat, nil, newLogger(cmd))
	plan := p.Plan(ctx, planner.Request{
		Text:        strings.Join(args, " "),
		Locale:      cat.Locale(locale),
		VisionHints: planFlags.hints,
		Hazard:      planFlags.hazard,
		Persona:     rc.Persona,
		Vitals:      rc.Vitals,
	})
	if asJSON {
		return printJSON(cmd.OutOrStdout(), plan)
	}

	out := cmd.OutOrStdout()
	name := plan.Hazard
	if c, ok := cat.Category(plan.Hazard); ok {
		name = c.Name.In(cat.Locale(locale), cat.DefaultLocale)
	}
	fmt.Fprintf(out, "%s (risk %s)\n", name, plan.Risk)
	for i, s := range plan.Steps {
		mark := " "
		if s.Critical {
			mark = "!"
		}
		fmt.Fprintf(out, "%s %d. %s\n", mark, i+1, s.Text)
	}
	if plan.CTA != "" {
		fmt.Fprintf(out, "→ %s\n", plan.CTA)
	}
	return nil
}

// =============================================================================
// INTERVIEW
// =============================================================================

var suggestion string

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Answer the yes/no interview on stdin",
	Long: `Asks the interview questions one at a time. Answer with y, n or s
(skip). The first matching rule ends the interview.`,
	Args: cobra.NoArgs,
	RunE: runInterview,
}

func init() {
	interviewCmd.Flags().StringVar(&suggestion, "suggest", "", "Hazard to offer for confirmation first")
}

func parseReply(s string) (interview.Answer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "j", "ja":
		return interview.Yes, nil
	case "n", "nein":
		return interview.No, nil
	case "s":
		return interview.Skip, nil
	}
	return interview.ParseAnswer(s)
}

func runInterview(cmd *cobra.Command, args []string) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	if suggestion != "" {
		if _, ok := cat.Category(suggestion); !ok {
			return fmt.Errorf("unknown hazard %q", suggestion)
		}
	}
	loc := cat.Locale(locale)
	iv := interview.New(cat.InterviewTable(), suggestion)
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())

	for iv.State() != interview.Complete {
		if iv.State() == interview.AwaitingConfirmation {
			fmt.Fprintf(out, "%s? [y/n] ", hazardName(cat, iv.Suggestion(), loc))
		} else {
			q, _ := iv.Question()
			fmt.Fprintf(out, "(%d/%d) %s [y/n/s] ", iv.Index()+1, iv.Total(), hazard.Text(q.Text).In(loc, cat.DefaultLocale))
		}
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return err
			}
			return fmt.Errorf("interview aborted")
		}
		a, err := parseReply(in.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if _, err := iv.Answer(a); err != nil {
			return err
		}
	}

	res, _ := iv.Result()
	if asJSON {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "\n%s\n", hazardName(cat, res.Hazard, loc))
	for i, s := range cat.Steps(res.Hazard, loc) {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s)
	}
	return nil
}

func hazardName(cat *hazard.Catalog, slug, loc string) string {
	if c, ok := cat.Category(slug); ok {
		if n := c.Name.In(loc, cat.DefaultLocale); n != "" {
			return n
		}
	}
	return slug
}
