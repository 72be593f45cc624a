package remote

import (
	"context"
	"time"

	"github.com/lifeline-edge/triage/internal/planner"
)

// Classifier asks a remote model to name the hazard behind a free-text
// description.
type Classifier struct {
	c caller
}

func NewClassifier(f Fetcher, baseURL string, timeout time.Duration) *Classifier {
	return &Classifier{c: newCaller(f, baseURL, timeout)}
}

type classifyRequest struct {
	Description string `json:"description"`
	Locale      string `json:"locale"`
}

type classifyResponse struct {
	Hazard *string `json:"hazard"`
}

// Classify returns the suggested hazard slug. ok is false when the remote
// explicitly declined with a null hazard.
func (cl *Classifier) Classify(ctx context.Context, description, locale string) (slug string, ok bool, err error) {
	var out classifyResponse
	if err := cl.c.post(ctx, "/classify", classifyRequest{Description: description, Locale: locale}, &out); err != nil {
		return "", false, err
	}
	if out.Hazard == nil || *out.Hazard == "" {
		return "", false, nil
	}
	return *out.Hazard, true, nil
}

// Refiner implements planner.Refiner over HTTP.
type Refiner struct {
	c caller
}

var _ planner.Refiner = (*Refiner)(nil)

func NewRefiner(f Fetcher, baseURL string, timeout time.Duration) *Refiner {
	return &Refiner{c: newCaller(f, baseURL, timeout)}
}

func (r *Refiner) Refine(ctx context.Context, req planner.RefineRequest) (planner.Refinement, error) {
	var out planner.Refinement
	if err := r.c.post(ctx, "/refine", req, &out); err != nil {
		return planner.Refinement{}, err
	}
	return out, nil
}
