package events

import (
	"testing"
	"time"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker()
	ch1, cancel1 := b.Subscribe("exam-1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("exam-1")
	defer cancel2()
	other, cancelOther := b.Subscribe("exam-2")
	defer cancelOther()

	b.Publish("exam-1", New(TypeNewQuestion, map[string]int{"id": 3}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			if evt.Type != TypeNewQuestion {
				t.Errorf("event type = %q, want %q", evt.Type, TypeNewQuestion)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case evt := <-other:
		t.Errorf("unrelated exam received event %q", evt.Type)
	default:
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("exam-1")
	cancel()
	cancel() // idempotent

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	// Publishing after the last unsubscribe must not panic.
	b.Publish("exam-1", New(TypeError, map[string]string{"message": "boom"}))
}

func TestBrokerSlowSubscriberDropsFrames(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("exam-1")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Publish("exam-1", New(TypeNewSubmission, map[string]int{"n": i}))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != subscriberBuffer {
				t.Errorf("received %d buffered events, want %d", received, subscriberBuffer)
			}
			return
		}
	}
}
