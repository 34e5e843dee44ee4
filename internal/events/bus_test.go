package events

import (
	"testing"
	"time"

	"github.com/opencode-teams/core/internal/types"
)

func TestEmitInvokesHandlersInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []int

	b.Subscribe(types.EventTaskCreated, func(e types.Event) { order = append(order, 1) })
	b.Subscribe(types.EventTaskCreated, func(e types.Event) { order = append(order, 2) })
	b.Subscribe(types.EventTaskCreated, func(e types.Event) { order = append(order, 3) })

	b.Emit(types.Event{Type: types.EventTaskCreated})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers invoked in registration order, got %v", order)
	}
}

func TestEmitOnlyNotifiesMatchingType(t *testing.T) {
	b := NewBus()
	var gotCreated, gotCompleted int

	b.Subscribe(types.EventTaskCreated, func(e types.Event) { gotCreated++ })
	b.Subscribe(types.EventTaskCompleted, func(e types.Event) { gotCompleted++ })

	b.Emit(types.Event{Type: types.EventTaskCreated})

	if gotCreated != 1 || gotCompleted != 0 {
		t.Fatalf("expected only task.created handler invoked, got created=%d completed=%d", gotCreated, gotCompleted)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	b := NewBus()
	var calls int

	unsub := b.Subscribe(types.EventAgentIdle, func(e types.Event) { calls++ })
	b.Emit(types.Event{Type: types.EventAgentIdle})
	unsub()
	b.Emit(types.Event{Type: types.EventAgentIdle})

	if calls != 1 {
		t.Fatalf("expected exactly 1 call before unsubscribe, got %d", calls)
	}
	if b.HandlerCount(types.EventAgentIdle) != 0 {
		t.Fatalf("expected 0 handlers after unsubscribe, got %d", b.HandlerCount(types.EventAgentIdle))
	}
}

func TestPanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := NewBus()
	var secondRan bool

	b.Subscribe(types.EventTeamCreated, func(e types.Event) { panic("boom") })
	b.Subscribe(types.EventTeamCreated, func(e types.Event) { secondRan = true })

	b.Emit(types.Event{Type: types.EventTeamCreated})

	if !secondRan {
		t.Fatal("expected second handler to run despite first handler panicking")
	}
}

func TestMultipleSubscriptionsIndependentUnsubscribe(t *testing.T) {
	b := NewBus()
	var aCalls, cCalls int

	unsubA := b.Subscribe(types.EventSessionIdle, func(e types.Event) { aCalls++ })
	b.Subscribe(types.EventSessionIdle, func(e types.Event) { cCalls++ })

	unsubA()
	b.Emit(types.Event{Type: types.EventSessionIdle, Timestamp: time.Now()})

	if aCalls != 0 {
		t.Fatalf("expected unsubscribed handler not called, got %d calls", aCalls)
	}
	if cCalls != 1 {
		t.Fatalf("expected remaining handler called once, got %d", cCalls)
	}
}
