// Package dashboard keeps the teacher's live view of their exams: the
// summary list plus the selected exam's questions and results, updated in
// place from the exam's event stream.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pavelanni/quizmate/internal/client/api"
	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/model"
)

// Backend is the API surface the dashboard needs.
type Backend interface {
	TeacherExams(ctx context.Context, teacherID string) (*api.TeacherBoard, error)
	FetchExamFull(ctx context.Context, examID string) (*api.ExamFull, error)
	FetchResults(ctx context.Context, examID string) (*api.ResultsView, error)
	StreamEvents(ctx context.Context, examID string) <-chan events.Event
}

// Dashboard is one teacher's live read-model. All methods are safe for
// concurrent use; the event stream mutates it from its own goroutine.
type Dashboard struct {
	api       Backend
	teacherID string
	onAlert   func(message string) // invoked for error events, may be nil

	mu           sync.Mutex
	teacherName  string
	summaries    []model.TeacherExamSummary
	selected     string
	questions    []model.Question
	results      []model.StudentResult
	stats        model.Statistics
	cancelStream context.CancelFunc
	streamDone   chan struct{}
}

// New creates a dashboard for one teacher. onAlert receives generation
// error notices; nil means they are logged only.
func New(backend Backend, teacherID string, onAlert func(string)) *Dashboard {
	return &Dashboard{api: backend, teacherID: teacherID, onAlert: onAlert}
}

// Load fetches the teacher's exam summaries.
func (d *Dashboard) Load(ctx context.Context) error {
	board, err := d.api.TeacherExams(ctx, d.teacherID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teacherName = board.TeacherName
	d.summaries = board.Exams
	return nil
}

// Select focuses one exam: its questions and results load, and its event
// stream starts. Selecting a different exam closes the previous stream
// first.
func (d *Dashboard) Select(ctx context.Context, examID string) error {
	d.closeStream()

	full, err := d.api.FetchExamFull(ctx, examID)
	if err != nil {
		return err
	}
	results, err := d.api.FetchResults(ctx, examID)
	if err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.mu.Lock()
	d.selected = examID
	d.questions = full.Questions
	d.results = results.Results
	d.stats = results.Statistics
	d.cancelStream = cancel
	d.streamDone = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		for evt := range d.api.StreamEvents(streamCtx, examID) {
			d.Apply(examID, evt)
		}
	}()
	return nil
}

// Apply folds one event into the read-model, in arrival order. Events are
// idempotent: a question frame replaces any question with the same ID, a
// submission frame replaces any result with the same student name, and
// counters only move for genuinely new entries.
func (d *Dashboard) Apply(examID string, evt events.Event) {
	switch evt.Type {
	case events.TypeNewQuestion:
		var q model.Question
		if err := json.Unmarshal(evt.Data, &q); err != nil {
			slog.Warn("malformed question event", "exam_id", examID, "error", err)
			return
		}
		d.applyQuestion(examID, q)

	case events.TypeNewSubmission:
		var r model.StudentResult
		if err := json.Unmarshal(evt.Data, &r); err != nil {
			slog.Warn("malformed submission event", "exam_id", examID, "error", err)
			return
		}
		d.applySubmission(examID, r)

	case events.TypeError:
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(evt.Data, &payload); err != nil || payload.Message == "" {
			payload.Message = "exam generation error"
		}
		slog.Warn("exam error event", "exam_id", examID, "message", payload.Message)
		if d.onAlert != nil {
			d.onAlert(payload.Message)
		}

	default:
		slog.Debug("ignoring unknown event type", "type", evt.Type)
	}
}

func (d *Dashboard) applyQuestion(examID string, q model.Question) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selected == examID {
		replaced := false
		for i := range d.questions {
			if d.questions[i].ID == q.ID {
				d.questions[i] = q
				replaced = true
				break
			}
		}
		if !replaced {
			d.questions = append(d.questions, q)
		} else {
			return
		}
	}
	d.bumpSummary(examID, func(s *model.TeacherExamSummary) { s.QuestionCount++ })
}

func (d *Dashboard) applySubmission(examID string, r model.StudentResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selected == examID {
		replaced := false
		for i := range d.results {
			if d.results[i].StudentName == r.StudentName {
				d.results[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			d.results = append(d.results, r)
		}
		d.stats = grading.Stats(d.results)
		if replaced {
			return
		}
	}
	d.bumpSummary(examID, func(s *model.TeacherExamSummary) { s.StudentCount++ })
}

func (d *Dashboard) bumpSummary(examID string, bump func(*model.TeacherExamSummary)) {
	for i := range d.summaries {
		if d.summaries[i].ExamID == examID {
			bump(&d.summaries[i])
			return
		}
	}
}

// TeacherName returns the display name from the last Load.
func (d *Dashboard) TeacherName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.teacherName
}

// Summaries returns a copy of the exam list.
func (d *Dashboard) Summaries() []model.TeacherExamSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.TeacherExamSummary(nil), d.summaries...)
}

// Selected returns the focused exam ID, empty when none.
func (d *Dashboard) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Questions returns a copy of the selected exam's questions.
func (d *Dashboard) Questions() []model.Question {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.Question(nil), d.questions...)
}

// Results returns a copy of the selected exam's submissions.
func (d *Dashboard) Results() []model.StudentResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.StudentResult(nil), d.results...)
}

// Statistics returns the selected exam's aggregate scores.
func (d *Dashboard) Statistics() model.Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Close tears the dashboard down, stopping any live stream.
func (d *Dashboard) Close() {
	d.closeStream()
}

func (d *Dashboard) closeStream() {
	d.mu.Lock()
	cancel := d.cancelStream
	done := d.streamDone
	d.cancelStream = nil
	d.streamDone = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
