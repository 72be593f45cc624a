package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/lifeline-edge/triage/internal/risk"
)

const (
	crashImpact   = 30.0
	crashStill    = 3.0
	crashSpeed    = 25.0
	impactWindow  = 15 * time.Second
	stillDuration = 3 * time.Second

	// SuggestThreshold is the score at which a crash suggestion is raised.
	SuggestThreshold = 0.6
)

// Suggestion proposes a hazard to the interview. It is never acted on
// without the user confirming it.
type Suggestion struct {
	Hazard     string   `json:"hazard"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// CrashDetector scores motion and location readings for signs of a crash or
// fall. Readings are evaluated at their own timestamps, so replaying a
// recorded series gives the same result.
type CrashDetector struct {
	hazard string

	mu         sync.Mutex
	spike      float64
	lastImpact time.Time
	stillSince time.Time
	speedKmh   float64
}

// NewCrashDetector suggests hazard when a crash is likely.
func NewCrashDetector(hazard string) *CrashDetector {
	return &CrashDetector{hazard: hazard}
}

// Observe folds r into the detector state and reports a suggestion when the
// score reaches SuggestThreshold.
func (d *CrashDetector) Observe(r Reading) (Suggestion, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := r.Time
	if now.IsZero() {
		now = time.Now()
	}

	switch r.Kind {
	case Motion:
		if r.Accel > crashImpact {
			d.spike = r.Accel
			d.lastImpact = now
		}
		if !d.lastImpact.IsZero() && now.Sub(d.lastImpact) < impactWindow {
			if r.Accel < crashStill {
				if d.stillSince.IsZero() {
					d.stillSince = now
				}
			} else {
				d.stillSince = time.Time{}
			}
		} else {
			d.stillSince = time.Time{}
		}
	case Location:
		d.speedKmh = max(0, r.SpeedKmh)
	}

	return d.evaluate(now)
}

func (d *CrashDetector) evaluate(now time.Time) (Suggestion, bool) {
	var (
		score   float64
		reasons []string
	)
	if d.spike > crashImpact && now.Sub(d.lastImpact) < impactWindow {
		score += 0.4
		reasons = append(reasons, "impact")
	}
	if !d.stillSince.IsZero() && now.Sub(d.stillSince) > stillDuration {
		score += 0.3
		reasons = append(reasons, "stillness")
	}
	if d.speedKmh > crashSpeed {
		score += 0.2
		reasons = append(reasons, "driving")
	}
	if risk.IsNight(now) {
		score += 0.05
		reasons = append(reasons, "night")
	}
	if score < SuggestThreshold {
		return Suggestion{}, false
	}
	return Suggestion{Hazard: d.hazard, Confidence: min(1, score), Reasons: reasons}, true
}

// Confidence returns the current crash score for use as risk input,
// evaluated at now.
func (d *CrashDetector) Confidence(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.evaluate(now)
	if !ok {
		return 0
	}
	return s.Confidence
}

// Run feeds every reading published on b into the detector and calls
// suggest for each suggestion until ctx ends.
func (d *CrashDetector) Run(ctx context.Context, b *Bus, suggest func(Suggestion)) {
	tok, ch := b.Subscribe(Motion, Location)
	defer b.Unsubscribe(tok)
	d.loop(ctx, ch, suggest)
}

// Start is Run in a new goroutine, except that the subscription exists
// before Start returns. The returned channel closes once processing stops.
func (d *CrashDetector) Start(ctx context.Context, b *Bus, suggest func(Suggestion)) <-chan struct{} {
	tok, ch := b.Subscribe(Motion, Location)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.Unsubscribe(tok)
		d.loop(ctx, ch, suggest)
	}()
	return done
}

func (d *CrashDetector) loop(ctx context.Context, ch <-chan Reading, suggest func(Suggestion)) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			if s, ok := d.Observe(r); ok {
				suggest(s)
			}
		}
	}
}
