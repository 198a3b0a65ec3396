package events

import (
	"testing"
	"time"
)

func TestPublishFansOutToSubscribers(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(TopicOrderFilled, 4)
	b, unsubB := bus.Subscribe(TopicOrderFilled, 4)
	defer unsubA()
	defer unsubB()

	bus.Publish(TopicOrderFilled, Event{Component: "engine", Action: "fill"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if ev.Action != "fill" {
				t.Errorf("subscriber %s got action %q, want fill", name, ev.Action)
			}
			if ev.Timestamp.IsZero() {
				t.Errorf("subscriber %s: timestamp not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s never received the event", name)
		}
	}
}

func TestPublishRespectsTopicBoundaries(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicSignalAdmitted, 4)
	defer unsub()

	bus.Publish(TopicOrderFailed, Event{Action: "fail"})

	select {
	case ev := <-ch:
		t.Fatalf("received %+v on an unrelated topic", ev)
	default:
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicError, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TopicError, Event{Action: "overflow"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// The buffered event is still deliverable.
	select {
	case <-ch:
	default:
		t.Fatal("no event retained in the buffer")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicEngineStatus, 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	bus.Publish(TopicEngineStatus, Event{Action: "tick"})
}
