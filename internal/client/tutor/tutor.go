// Package tutor maintains the student's chat channel with the AI tutor: the
// visible transcript, the suggested follow-up prompts and the silent context
// pushes sent when the student picks an answer.
package tutor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavelanni/quizmate/internal/client/api"
	"github.com/pavelanni/quizmate/internal/model"
)

// SilentPushPrefix marks the hidden messages that tell the tutor which
// answer the student just picked.
const SilentPushPrefix = "[Student selected:"

// API is the backend surface the channel needs.
type API interface {
	TutorChat(ctx context.Context, req api.TutorChatRequest) (*api.TutorChatResponse, error)
}

// Channel is one student's tutor conversation for one exam. All methods are
// safe for concurrent use. Tutor failures never surface to the student: a
// failed send keeps the transcript as it was, logged only.
type Channel struct {
	api         API
	examID      string
	studentName string

	mu           sync.Mutex
	transcript   []model.ChatMessage
	suggested    []string
	outstanding  int
	silentSeq    uint64
	cancelSilent context.CancelFunc
}

// API is implemented by *api.Client; declared here so tests can script it.
var _ API = (*api.Client)(nil)

// New creates a channel. The initial suggested prompts are the localized
// defaults until the tutor proposes its own.
func New(backend API, examID, studentName string, defaultPrompts []string) *Channel {
	return &Channel{
		api:         backend,
		examID:      examID,
		studentName: studentName,
		suggested:   append([]string(nil), defaultPrompts...),
	}
}

// Seed appends the personalized welcome message as the first tutor turn.
func (c *Channel) Seed(welcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, model.ChatMessage{Role: model.RoleAssistant, Content: welcome})
}

// Transcript returns a copy of the visible conversation.
func (c *Channel) Transcript() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ChatMessage(nil), c.transcript...)
}

// Suggested returns the current tap-to-send prompts.
func (c *Channel) Suggested() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.suggested...)
}

// Loading reports whether any tutor request is in flight.
func (c *Channel) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding > 0
}

// Say sends a visible student message. The message is appended to the
// transcript immediately; the tutor's reply lands when it arrives. The
// returned channel closes when the exchange settles, success or not.
func (c *Channel) Say(ctx context.Context, questionID int, message string, answer json.RawMessage) <-chan struct{} {
	c.mu.Lock()
	history := append([]model.ChatMessage(nil), c.transcript...)
	c.transcript = append(c.transcript, model.ChatMessage{Role: model.RoleUser, Content: message})
	c.outstanding++
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := c.api.TutorChat(ctx, api.TutorChatRequest{
			ExamID:      c.examID,
			QuestionID:  questionID,
			StudentName: c.studentName,
			Message:     message,
			History:     history,
			Answer:      answer,
		})
		c.mu.Lock()
		defer c.mu.Unlock()
		c.outstanding--
		if err != nil {
			slog.Warn("tutor send failed", "exam_id", c.examID, "error", err)
			return
		}
		c.transcript = append(c.transcript, model.ChatMessage{Role: model.RoleAssistant, Content: resp.Reply})
		if len(resp.SuggestedPrompts) > 0 {
			c.suggested = resp.SuggestedPrompts
		}
	}()
	return done
}

// NotifySelection pushes the student's current answer to the tutor without
// showing a student message. The attempt count lets the tutor escalate its
// hints as tries pile up. Latest wins: a newer push cancels the in-flight
// one, and a stale reply is discarded even if its request already completed.
func (c *Channel) NotifySelection(ctx context.Context, questionID, attempt int, display string, answer json.RawMessage) <-chan struct{} {
	c.mu.Lock()
	c.silentSeq++
	seq := c.silentSeq
	if c.cancelSilent != nil {
		c.cancelSilent()
	}
	pushCtx, cancel := context.WithCancel(ctx)
	c.cancelSilent = cancel
	history := append([]model.ChatMessage(nil), c.transcript...)
	c.outstanding++
	c.mu.Unlock()

	message := fmt.Sprintf("%s %s]", SilentPushPrefix, display)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		resp, err := c.api.TutorChat(pushCtx, api.TutorChatRequest{
			ExamID:       c.examID,
			QuestionID:   questionID,
			StudentName:  c.studentName,
			Message:      message,
			History:      history,
			Answer:       answer,
			AttemptCount: attempt,
		})
		c.mu.Lock()
		defer c.mu.Unlock()
		c.outstanding--
		if seq != c.silentSeq {
			// Superseded while in flight; this reply no longer matches the
			// student's selection.
			return
		}
		if err != nil {
			slog.Debug("silent tutor push failed", "exam_id", c.examID, "error", err)
			return
		}
		c.transcript = append(c.transcript, model.ChatMessage{Role: model.RoleAssistant, Content: resp.Reply})
		if len(resp.SuggestedPrompts) > 0 {
			c.suggested = resp.SuggestedPrompts
		}
	}()
	return done
}

// Close cancels any in-flight silent push.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelSilent != nil {
		c.cancelSilent()
		c.cancelSilent = nil
	}
}
