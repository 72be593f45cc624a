package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitSubscribers(t *testing.T, b *Bus, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, time.Second, time.Millisecond)
}

func TestReadWithinTimesOut(t *testing.T) {
	b := NewBus()
	start := time.Now()
	_, ok := ReadWithin(context.Background(), b, Motion, 20*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Zero(t, b.Subscribers())
}

func TestReadWithinReceives(t *testing.T) {
	b := NewBus()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for b.Subscribers() == 0 {
			time.Sleep(time.Millisecond)
		}
		b.Publish(Reading{Kind: Location, SpeedKmh: 50, Time: at})
		b.Publish(Reading{Kind: Motion, Accel: 12, Time: at})
	}()

	r, ok := ReadWithin(context.Background(), b, Motion, time.Second)
	<-done
	require.True(t, ok)
	assert.Equal(t, Motion, r.Kind)
	assert.Equal(t, 12.0, r.Accel)
	assert.Equal(t, 12.0, r.Snapshot().Accel)
	assert.Zero(t, b.Subscribers())
}

func TestReadWithinCancelled(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := ReadWithin(ctx, b, Motion, time.Minute)
	assert.False(t, ok)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	tok, ch := b.Subscribe()
	b.Publish(Reading{Kind: Location})
	b.Unsubscribe(tok)
	b.Unsubscribe(tok)
	b.Unsubscribe(Token(99))

	r, ok := <-ch
	assert.True(t, ok)
	assert.Equal(t, Location, r.Kind)
	assert.False(t, r.Time.IsZero(), "publish stamps missing time")
	_, ok = <-ch
	assert.False(t, ok, "channel closed")
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	tok, ch := b.Subscribe(Motion)
	defer b.Unsubscribe(tok)
	for range 40 {
		b.Publish(Reading{Kind: Motion})
	}
	assert.Len(t, ch, cap(ch))
}

func TestCrashDetector(t *testing.T) {
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	night := time.Date(2025, 6, 1, 23, 0, 0, 0, time.Local)
	at := func(base time.Time, d time.Duration) time.Time { return base.Add(d) }

	tests := []struct {
		name        string
		readings    []Reading
		wantSuggest bool
		wantReasons []string
	}{
		{
			name: "impact then stillness",
			readings: []Reading{
				{Kind: Motion, Accel: 35, Time: noon},
				{Kind: Motion, Accel: 1, Time: at(noon, time.Second)},
				{Kind: Motion, Accel: 1, Time: at(noon, 5*time.Second)},
			},
			wantSuggest: true,
			wantReasons: []string{"impact", "stillness"},
		},
		{
			name: "impact while driving",
			readings: []Reading{
				{Kind: Location, SpeedKmh: 40, Time: noon},
				{Kind: Motion, Accel: 35, Time: at(noon, time.Second)},
			},
			wantSuggest: true,
			wantReasons: []string{"impact", "driving"},
		},
		{
			name: "impact at night alone",
			readings: []Reading{
				{Kind: Motion, Accel: 35, Time: night},
			},
		},
		{
			name: "driving at night",
			readings: []Reading{
				{Kind: Location, SpeedKmh: 80, Time: night},
			},
		},
		{
			name: "movement resets stillness",
			readings: []Reading{
				{Kind: Motion, Accel: 35, Time: noon},
				{Kind: Motion, Accel: 1, Time: at(noon, time.Second)},
				{Kind: Motion, Accel: 9, Time: at(noon, 3*time.Second)},
				{Kind: Motion, Accel: 1, Time: at(noon, 5*time.Second)},
			},
		},
		{
			name: "stillness long after impact",
			readings: []Reading{
				{Kind: Motion, Accel: 35, Time: noon},
				{Kind: Motion, Accel: 1, Time: at(noon, 20*time.Second)},
				{Kind: Motion, Accel: 1, Time: at(noon, 25*time.Second)},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCrashDetector("accident")
			var (
				got Suggestion
				ok  bool
			)
			for _, r := range tt.readings {
				got, ok = d.Observe(r)
			}
			assert.Equal(t, tt.wantSuggest, ok)
			if !tt.wantSuggest {
				return
			}
			assert.Equal(t, "accident", got.Hazard)
			assert.GreaterOrEqual(t, got.Confidence, SuggestThreshold)
			assert.LessOrEqual(t, got.Confidence, 1.0)
			assert.Equal(t, tt.wantReasons, got.Reasons)
		})
	}
}

func TestCrashDetectorNightBonus(t *testing.T) {
	night := time.Date(2025, 6, 1, 2, 0, 0, 0, time.Local)
	d := NewCrashDetector("accident")
	d.Observe(Reading{Kind: Motion, Accel: 35, Time: night})
	d.Observe(Reading{Kind: Motion, Accel: 1, Time: night.Add(time.Second)})
	s, ok := d.Observe(Reading{Kind: Motion, Accel: 1, Time: night.Add(5 * time.Second)})
	require.True(t, ok)
	assert.InDelta(t, 0.75, s.Confidence, 1e-9)
	assert.Equal(t, []string{"impact", "stillness", "night"}, s.Reasons)
	assert.InDelta(t, 0.75, d.Confidence(night.Add(5*time.Second)), 1e-9)
}

func TestCrashDetectorRun(t *testing.T) {
	b := NewBus()
	d := NewCrashDetector("accident")
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Suggestion, 4)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx, b, func(s Suggestion) { got <- s })
	}()
	waitSubscribers(t, b, 1)

	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	b.Publish(Reading{Kind: Location, SpeedKmh: 60, Time: noon})
	b.Publish(Reading{Kind: Motion, Accel: 40, Time: noon.Add(time.Second)})

	select {
	case s := <-got:
		assert.Equal(t, "accident", s.Hazard)
	case <-time.After(2 * time.Second):
		t.Fatal("no suggestion")
	}

	cancel()
	<-stopped
	assert.Zero(t, b.Subscribers())
}

func TestCrashDetectorStart(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan Suggestion, 4)
	done := NewCrashDetector("accident").Start(ctx, b, func(s Suggestion) { got <- s })
	assert.Equal(t, 1, b.Subscribers())

	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)
	b.Publish(Reading{Kind: Motion, Accel: 35, Time: noon})
	b.Publish(Reading{Kind: Motion, Accel: 1, Time: noon.Add(time.Second)})
	b.Publish(Reading{Kind: Motion, Accel: 1, Time: noon.Add(5 * time.Second)})

	select {
	case s := <-got:
		assert.Equal(t, []string{"impact", "stillness"}, s.Reasons)
	case <-time.After(2 * time.Second):
		t.Fatal("no suggestion")
	}

	cancel()
	<-done
	assert.Zero(t, b.Subscribers())
}
