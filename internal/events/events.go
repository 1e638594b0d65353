// Package events is the in-process pub/sub backbone for the live teacher
// dashboard. Publishers never block: a subscriber that cannot keep up drops
// frames instead of stalling exam generation.
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types pushed to dashboard subscribers.
const (
	TypeNewQuestion   = "new_question"
	TypeNewSubmission = "new_submission"
	TypeError         = "error"
)

// Event is one server-sent frame.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// New builds an event, marshaling the payload. A payload that cannot be
// marshaled yields an event with null data; callers pass plain structs so
// this does not happen in practice.
func New(eventType string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event payload", "type", eventType, "error", err)
		data = []byte("null")
	}
	return Event{Type: eventType, Data: data}
}

const subscriberBuffer = 16

// Broker fans events out to per-exam subscriber channels.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a listener for one exam's events. The returned cancel
// function unregisters and closes the channel; it is safe to call more than
// once.
func (b *Broker) Subscribe(examID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[examID] == nil {
		b.subs[examID] = make(map[chan Event]struct{})
	}
	b.subs[examID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[examID], ch)
			if len(b.subs[examID]) == 0 {
				delete(b.subs, examID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of the exam. Full subscriber
// buffers drop the frame.
func (b *Broker) Publish(examID string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[examID] {
		select {
		case ch <- evt:
		default:
			slog.Warn("dropping event for slow subscriber", "exam_id", examID, "type", evt.Type)
		}
	}
}
