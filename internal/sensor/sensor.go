// Package sensor distributes device readings to interested components and
// derives crash suggestions from them.
package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/lifeline-edge/triage/internal/risk"
)

type Kind string

const (
	Motion   Kind = "motion"
	Location Kind = "location"
)

// Reading is one sample from the device bridge. Accel is the acceleration
// magnitude in m/s², SpeedKmh the ground speed.
type Reading struct {
	Kind     Kind      `json:"kind"`
	Accel    float64   `json:"accel,omitempty"`
	SpeedKmh float64   `json:"speedKmh,omitempty"`
	Time     time.Time `json:"time"`
}

// Snapshot converts r into the input of risk.FromSensor.
func (r Reading) Snapshot() risk.Snapshot {
	return risk.Snapshot{Accel: r.Accel, SpeedKmh: r.SpeedKmh, Time: r.Time}
}

// Token identifies a subscription.
type Token uint64

type subscription struct {
	kinds []Kind
	ch    chan Reading
}

func (s subscription) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	for _, want := range s.kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Bus is an in-process pub/sub for readings. Slow subscribers lose readings
// rather than block the publisher.
type Bus struct {
	mu   sync.RWMutex
	next Token
	subs map[Token]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Token]subscription)}
}

// Subscribe returns a channel receiving readings of the given kinds, or of
// every kind when none are given.
func (b *Bus) Subscribe(kinds ...Kind) (Token, <-chan Reading) {
	ch := make(chan Reading, 16)
	b.mu.Lock()
	b.next++
	tok := b.next
	b.subs[tok] = subscription{kinds: kinds, ch: ch}
	b.mu.Unlock()
	return tok, ch
}

// Unsubscribe closes the channel of tok. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	if s, ok := b.subs[tok]; ok {
		delete(b.subs, tok)
		close(s.ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(r Reading) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	b.mu.RLock()
	for _, s := range b.subs {
		if !s.wants(r.Kind) {
			continue
		}
		select {
		case s.ch <- r:
		default:
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// DefaultWindow is how long ReadWithin waits when given no window.
const DefaultWindow = 500 * time.Millisecond

// ReadWithin waits for the next reading of kind. ok is false when none
// arrives within window or ctx ends first; the sensor then counts as
// unavailable.
func ReadWithin(ctx context.Context, b *Bus, kind Kind, window time.Duration) (Reading, bool) {
	if window <= 0 {
		window = DefaultWindow
	}
	tok, ch := b.Subscribe(kind)
	defer b.Unsubscribe(tok)

	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case r, ok := <-ch:
		return r, ok
	case <-timer.C:
		return Reading{}, false
	case <-ctx.Done():
		return Reading{}, false
	}
}
