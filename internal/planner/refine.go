package planner

import (
	"context"
	"strings"

	"github.com/lifeline-edge/triage/internal/risk"
	"github.com/lifeline-edge/triage/internal/synonym"
)

// Refiner improves a locally computed plan over the network.
type Refiner interface {
	Refine(ctx context.Context, req RefineRequest) (Refinement, error)
}

type RefineRequest struct {
	Hazard string        `json:"hazard"`
	Steps  []string      `json:"steps"`
	Sensor risk.Snapshot `json:"sensor"`
	Locale string        `json:"locale"`
}

// Refinement is the undecided remote response. Pointer fields distinguish
// an absent key from an empty value.
type Refinement struct {
	Steps *[]string `json:"steps,omitempty"`
	CTA   *string   `json:"cta,omitempty"`
}

// Checked is a Refinement after validation. Either Reason is set and
// nothing may be applied, or at least one of Steps and CTA is usable.
type Checked struct {
	Steps  []string
	CTA    string
	Reason string
}

func (c Checked) Valid() bool { return c.Reason == "" }

// Check validates r. Steps are usable only as a non-empty list of strings
// that each keep some text after normalization, the CTA only when non-blank.
func Check(r Refinement) Checked {
	var c Checked
	stepsReason := ""
	if r.Steps == nil {
		stepsReason = "no steps"
	} else if len(*r.Steps) == 0 {
		stepsReason = "empty steps"
	} else {
		for _, s := range *r.Steps {
			if synonym.Normalize(s) == "" {
				stepsReason = "blank step"
				break
			}
		}
	}
	if stepsReason == "" {
		c.Steps = make([]string, len(*r.Steps))
		for i, s := range *r.Steps {
			c.Steps[i] = strings.TrimSpace(s)
		}
	}
	if r.CTA != nil {
		c.CTA = strings.TrimSpace(*r.CTA)
	}
	if len(c.Steps) == 0 && c.CTA == "" {
		c.Reason = stepsReason
		if r.CTA != nil {
			c.Reason += ", blank cta"
		}
	}
	return c
}
