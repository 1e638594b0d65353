package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/model"
)

// streamRecorder is a flush-aware ResponseWriter for the event stream: each
// Flush signals on a channel so the test can follow the handler's pacing.
type streamRecorder struct {
	header  http.Header
	status  int
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes chan struct{}
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header), flushes: make(chan struct{}, 16)}
}

func (w *streamRecorder) Header() http.Header { return w.header }

func (w *streamRecorder) WriteHeader(status int) { w.status = status }

func (w *streamRecorder) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamRecorder) Flush() {
	select {
	case w.flushes <- struct{}{}:
	default:
	}
}

func (w *streamRecorder) body() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestEventsStreamFramingAndDisconnect(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events/"+examID, nil).WithContext(ctx)
	rec := newStreamRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		f.router.ServeHTTP(rec, req)
	}()

	// The header flush comes first; the subscription lands right after it, so
	// publish until a frame flush confirms the subscriber is registered.
	select {
	case <-rec.flushes:
	case <-time.After(2 * time.Second):
		t.Fatal("headers never flushed")
	}
	q := model.Question{ID: 3, Type: "single_choice", Text: "Capital of Spain?"}
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.broker.Publish(examID, events.New(events.TypeNewQuestion, q))
		framed := false
		select {
		case <-rec.flushes:
			framed = true
		case <-time.After(10 * time.Millisecond):
		}
		if framed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no event frame flushed")
		}
	}

	// Client disconnect ends the stream.
	cancel()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after disconnect")
	}

	if got := rec.header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	body := rec.body()
	if !strings.HasPrefix(body, "data: ") || !strings.Contains(body, "\n\n") {
		t.Fatalf("output not SSE-framed: %q", body)
	}
	frame := strings.TrimPrefix(strings.SplitN(body, "\n\n", 2)[0], "data: ")
	var evt events.Event
	if err := json.Unmarshal([]byte(frame), &evt); err != nil {
		t.Fatalf("frame payload not JSON: %v (frame %q)", err, frame)
	}
	if evt.Type != events.TypeNewQuestion {
		t.Errorf("frame type = %q, want %q", evt.Type, events.TypeNewQuestion)
	}
	var gotQ model.Question
	if err := json.Unmarshal(evt.Data, &gotQ); err != nil {
		t.Fatalf("frame data: %v", err)
	}
	if gotQ.ID != 3 || gotQ.Text != "Capital of Spain?" {
		t.Errorf("frame question = %+v", gotQ)
	}
}
