package server

import (
	"testing"
)

func TestBrokerPublish(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("s1")
	other := b.Subscribe("s2")

	b.Publish("s1", Event{Type: EventRisk, Data: RiskResponse{Risk: "high"}})

	select {
	case msg := <-a:
		if msg.event != EventRisk {
			t.Errorf("event = %q, want %q", msg.event, EventRisk)
		}
		if string(msg.data) != `{"risk":"high"}` {
			t.Errorf("data = %s", msg.data)
		}
	default:
		t.Fatal("expected a message for s1")
	}

	select {
	case msg := <-other:
		t.Fatalf("s2 received %q", msg.event)
	default:
	}
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1")

	for range 20 {
		b.Publish("s1", Event{Type: EventPlan, Data: struct{}{}})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered = %d, want %d", len(ch), cap(ch))
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1")
	b.Subscribe("s1")

	if got := b.Subscribers("s1"); got != 2 {
		t.Fatalf("subscribers = %d, want 2", got)
	}
	b.Unsubscribe("s1", ch)
	if got := b.Subscribers("s1"); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	b.Publish("s1", Event{Type: EventTree, Data: nil})
	if len(ch) != 0 {
		t.Error("unsubscribed channel received a message")
	}
}
