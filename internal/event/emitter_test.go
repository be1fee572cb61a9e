package event

import (
	"sync"
	"sync/atomic"
	"testing"
)

type statusEvent struct {
	Session string
	Status  string
}

func TestEmitter_DeliversInOrder(t *testing.T) {
	var e Emitter[statusEvent]

	var got []string
	e.OnEvent(func(ev statusEvent) { got = append(got, "a:"+ev.Status) })
	e.OnEvent(func(ev statusEvent) { got = append(got, "b:"+ev.Status) })

	e.Emit(statusEvent{Session: "s1", Status: "running"})

	want := []string{"a:running", "b:running"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEmitter_NoSubscribers(t *testing.T) {
	var e Emitter[statusEvent]
	e.Emit(statusEvent{Session: "s1"})
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestEmitter_Unsubscribe(t *testing.T) {
	var e Emitter[statusEvent]

	var first, second int
	cancel := e.OnEvent(func(statusEvent) { first++ })
	e.OnEvent(func(statusEvent) { second++ })

	e.Emit(statusEvent{})
	cancel()
	cancel()
	e.Emit(statusEvent{})

	if first != 1 || second != 2 {
		t.Errorf("first = %d, second = %d; want 1, 2", first, second)
	}
	if e.Len() != 1 {
		t.Errorf("Len() = %d, want 1", e.Len())
	}
}

func TestEmitter_SubscribeDuringEmit(t *testing.T) {
	var e Emitter[statusEvent]

	var calls int
	var once sync.Once
	e.OnEvent(func(statusEvent) {
		calls++
		once.Do(func() {
			e.OnEvent(func(statusEvent) { calls += 10 })
		})
	})

	e.Emit(statusEvent{})
	if calls != 1 {
		t.Fatalf("first emit calls = %d, want 1", calls)
	}
	e.Emit(statusEvent{})
	if calls != 12 {
		t.Errorf("second emit calls = %d, want 12", calls)
	}
}

func TestEmitter_UnsubscribeDuringEmit(t *testing.T) {
	var e Emitter[statusEvent]

	var later int
	var cancelLater func()
	e.OnEvent(func(statusEvent) { cancelLater() })
	cancelLater = e.OnEvent(func(statusEvent) { later++ })

	// Removal takes effect on the next emit.
	e.Emit(statusEvent{})
	e.Emit(statusEvent{})
	if later != 1 {
		t.Errorf("later = %d, want 1", later)
	}
}

func TestEmitter_PanickingSubscriber(t *testing.T) {
	var e Emitter[statusEvent]

	var delivered bool
	e.OnEvent(func(statusEvent) { panic("boom") })
	e.OnEvent(func(statusEvent) { delivered = true })

	e.Emit(statusEvent{Session: "s1"})
	if !delivered {
		t.Error("subscriber after a panicking one was not called")
	}
}

func TestEmitter_Concurrent(t *testing.T) {
	var e Emitter[statusEvent]

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := e.OnEvent(func(statusEvent) { calls.Add(1) })
			cancel()
		}()
		go func() {
			defer wg.Done()
			e.Emit(statusEvent{})
		}()
	}
	wg.Wait()

	if e.Len() != 0 {
		t.Errorf("Len() = %d after all unsubscribed, want 0", e.Len())
	}
}
