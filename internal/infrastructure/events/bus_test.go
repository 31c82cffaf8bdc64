package events

import (
	"testing"

	"github.com/hivemesh/swarmcore/internal/shared"
)

func TestSubscribeReceivesMatchingKind(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, _ := bus.Subscribe(shared.EventTaskCompleted)

	bus.Emit(shared.Event{Kind: shared.EventTaskSubmitted, EntityID: "t1"})
	bus.Emit(shared.Event{Kind: shared.EventTaskCompleted, EntityID: "t2"})

	got := <-ch
	if got.Kind != shared.EventTaskCompleted || got.EntityID != "t2" {
		t.Fatalf("received %+v, want task:completed for t2", got)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %+v", extra)
	default:
	}
}

func TestSubscribeAllPreservesEmissionOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, _ := bus.SubscribeAll()

	kinds := []shared.EventKind{
		shared.EventAgentJoined,
		shared.EventTaskSubmitted,
		shared.EventTaskAssigned,
		shared.EventTaskCompleted,
	}
	for _, k := range kinds {
		bus.Emit(shared.Event{Kind: k})
	}

	for i, want := range kinds {
		got := <-ch
		if got.Kind != want {
			t.Fatalf("event %d: got %s, want %s", i, got.Kind, want)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, id := bus.Subscribe(shared.EventAgentJoined)
	bus.Unsubscribe(id)

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}

	// Emitting after unsubscribe must not panic.
	bus.Emit(shared.Event{Kind: shared.EventAgentJoined})
}

func TestHandlersRunSynchronously(t *testing.T) {
	bus := New()
	defer bus.Close()

	var seen []string
	bus.On(shared.EventTaskFailed, func(e shared.Event) {
		seen = append(seen, e.EntityID)
	})
	bus.OnAll(func(e shared.Event) {
		seen = append(seen, "all:"+e.EntityID)
	})

	bus.Emit(shared.Event{Kind: shared.EventTaskFailed, EntityID: "t1"})

	if len(seen) != 2 || seen[0] != "t1" || seen[1] != "all:t1" {
		t.Fatalf("handlers saw %v", seen)
	}
}

func TestEmitAfterCloseIsNoop(t *testing.T) {
	bus := New()
	ch, _ := bus.SubscribeAll()
	bus.Close()

	bus.Emit(shared.Event{Kind: shared.EventAgentJoined})

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Close")
	}
}

func TestEmitFillsTimestamp(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch, _ := bus.SubscribeAll()
	bus.Emit(shared.Event{Kind: shared.EventAgentJoined})

	if got := <-ch; got.Timestamp == 0 {
		t.Fatal("Emit left timestamp zero")
	}
}

func TestSubscriberGetsDetachedDetails(t *testing.T) {
	bus := New()
	defer bus.Close()

	first, _ := bus.SubscribeAll()
	second, _ := bus.SubscribeAll()

	details := map[string]interface{}{"agentId": "a1"}
	bus.Emit(shared.Event{Kind: shared.EventTaskAssigned, EntityID: "t1", Details: details})

	got := <-first
	got.Details["agentId"] = "mutated"

	if details["agentId"] != "a1" {
		t.Fatal("subscriber mutation reached the emitter's details map")
	}
	other := <-second
	if other.Details["agentId"] != "a1" {
		t.Fatalf("second subscriber saw %v, want a1", other.Details["agentId"])
	}
}
