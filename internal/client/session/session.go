// Package session drives one student's pass through an exam: loading,
// answering, tutor notification and submission with instant local scoring.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/pavelanni/quizmate/internal/client/api"
	"github.com/pavelanni/quizmate/internal/client/question"
	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/i18n"
	"github.com/pavelanni/quizmate/internal/model"
)

// State is the session lifecycle stage.
type State int

const (
	NotStarted State = iota
	Loading
	InProgress
	Submitted
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case InProgress:
		return "in_progress"
	case Submitted:
		return "submitted"
	case Failed:
		return "failed"
	default:
		return "not_started"
	}
}

var (
	// ErrBlankName rejects starting an exam without a student name; the
	// session stays in NotStarted.
	ErrBlankName = errors.New("student name must not be blank")
	// ErrUnanswered rejects submitting with open questions; the session
	// stays in InProgress.
	ErrUnanswered = errors.New("all questions must be answered before submitting")
	// ErrNotInProgress rejects answer changes outside InProgress.
	ErrNotInProgress = errors.New("exam is not in progress")
)

// Backend is the API surface the session needs.
type Backend interface {
	FetchExam(ctx context.Context, examID string) (*api.ExamView, error)
	SubmitExam(ctx context.Context, examID string, req api.SubmitRequest) (*api.SubmitResult, error)
}

// Notifier receives the tutor-channel side effects of the session: the
// welcome seed and silent answer-selection pushes.
type Notifier interface {
	Seed(welcome string)
	NotifySelection(ctx context.Context, questionID, attempt int, display string, answer json.RawMessage) <-chan struct{}
	Transcript() []model.ChatMessage
}

// Result is the scored outcome shown the moment the student submits. The
// analysis arrives later from the background reconciliation, if at all.
type Result struct {
	Score      int
	Total      int
	Percentage float64
	Details    map[string]model.AnswerDetail
	Analysis   *model.Analysis
}

// Session is one student's exam attempt. All methods are safe for
// concurrent use.
type Session struct {
	backend Backend
	tutor   Notifier
	examID  string

	mu          sync.Mutex
	state       State
	err         error
	studentName string
	exam        *api.ExamView
	cursor      int
	answers     map[int]model.Answer
	committed   map[int]model.Answer // last answer per question the tutor saw
	attempts    map[int]int
	result      *Result
	syncDone    chan struct{}
}

// New creates a session for one exam link.
func New(backend Backend, tutorChannel Notifier, examID string) *Session {
	return &Session{
		backend:  backend,
		tutor:    tutorChannel,
		examID:   examID,
		answers:  make(map[int]model.Answer),
		attempts: make(map[int]int),
	}
}

// Start validates the student name, loads the exam and seeds the tutor
// welcome. A blank name fails without leaving NotStarted; a load failure
// moves the session to Failed.
func (s *Session) Start(ctx context.Context, studentName string) error {
	name := strings.TrimSpace(studentName)
	if name == "" {
		return ErrBlankName
	}

	s.mu.Lock()
	s.state = Loading
	s.studentName = name
	s.mu.Unlock()

	exam, err := s.backend.FetchExam(ctx, s.examID)
	if err != nil {
		s.mu.Lock()
		s.state = Failed
		s.err = err
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.exam = exam
	s.state = InProgress
	s.cursor = 0
	s.mu.Unlock()

	s.tutor.Seed(i18n.Td(ctx, "TutorWelcome", map[string]any{"Name": name}))
	return nil
}

// State returns the lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// StudentName returns the validated name.
func (s *Session) StudentName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.studentName
}

// Questions returns the loaded question list.
func (s *Session) Questions() []model.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exam == nil {
		return nil
	}
	return append([]model.Question(nil), s.exam.Questions...)
}

// Current returns the question under the cursor with its answer state.
func (s *Session) Current() (model.Question, model.Answer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exam == nil || s.cursor >= len(s.exam.Questions) {
		return model.Question{}, model.Answer{}, false
	}
	q := s.exam.Questions[s.cursor]
	return q, s.answers[q.ID], true
}

// Next advances the cursor, bounded at the last question.
func (s *Session) Next() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exam != nil && s.cursor < len(s.exam.Questions)-1 {
		s.cursor++
	}
}

// Prev moves the cursor back, bounded at the first question.
func (s *Session) Prev() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor > 0 {
		s.cursor--
	}
}

// Goto jumps to a question index; out-of-range values are ignored.
func (s *Session) Goto(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exam != nil && index >= 0 && index < len(s.exam.Questions) {
		s.cursor = index
	}
}

// Attempts returns how many distinct answers the student has tried on a
// question.
func (s *Session) Attempts(questionID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[questionID]
}

// SelectOption records a choice answer: the single-choice letter for
// index, or a toggle of index for multi-choice. A structural change counts
// as an attempt and notifies the tutor immediately; re-selecting the same
// answer does neither. The returned channel closes when the tutor push
// settles (nil channel when no push was sent).
func (s *Session) SelectOption(ctx context.Context, index int) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	q := s.exam.Questions[s.cursor]
	prev := s.answers[q.ID]

	var next model.Answer
	if q.Kind() == model.KindMultiChoice {
		next = model.Answer{Indices: question.Toggle(prev.Indices, index)}
	} else {
		next = model.Answer{Letter: grading.IndexToLetter(index)}
	}
	if next.Equal(prev) {
		s.mu.Unlock()
		return nil, nil
	}
	s.answers[q.ID] = next
	s.attempts[q.ID]++
	attempt := s.attempts[q.ID]
	s.mu.Unlock()

	return s.pushSelection(ctx, q, next, attempt), nil
}

// SetBlank updates one fill-in blank without committing: no attempt is
// counted and the tutor is not notified until CommitBlanks.
func (s *Session) SetBlank(index int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress {
		return ErrNotInProgress
	}
	q := s.exam.Questions[s.cursor]
	if q.Kind() != model.KindFillInBlanks {
		return ErrNotInProgress
	}
	count := q.BlanksCount
	if count == 0 {
		count = grading.CountBlanks(q.Text)
	}
	if index < 0 || index >= count {
		return nil
	}
	ans := s.answers[q.ID]
	if len(ans.Blanks) < count {
		blanks := make([]string, count)
		copy(blanks, ans.Blanks)
		ans.Blanks = blanks
	}
	ans.Blanks[index] = value
	s.answers[q.ID] = ans
	return nil
}

// CommitBlanks finalizes the current fill-in answer, counting an attempt
// and notifying the tutor if it changed since the last commit.
func (s *Session) CommitBlanks(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	q := s.exam.Questions[s.cursor]
	if q.Kind() != model.KindFillInBlanks {
		s.mu.Unlock()
		return nil, nil
	}
	ans := s.answers[q.ID]
	if ans.Empty(model.KindFillInBlanks) || ans.Equal(s.lastCommitted(q.ID)) {
		s.mu.Unlock()
		return nil, nil
	}
	s.attempts[q.ID]++
	attempt := s.attempts[q.ID]
	s.setCommitted(q.ID, ans)
	s.mu.Unlock()

	return s.pushSelection(ctx, q, ans, attempt), nil
}

func (s *Session) lastCommitted(questionID int) model.Answer {
	if s.committed == nil {
		return model.Answer{}
	}
	return s.committed[questionID]
}

func (s *Session) setCommitted(questionID int, ans model.Answer) {
	if s.committed == nil {
		s.committed = make(map[int]model.Answer)
	}
	copied := ans
	copied.Blanks = append([]string(nil), ans.Blanks...)
	s.committed[questionID] = copied
}

func (s *Session) pushSelection(ctx context.Context, q model.Question, ans model.Answer, attempt int) <-chan struct{} {
	display := grading.Grade(q, ans).StudentDisplay
	raw, err := json.Marshal(ans)
	if err != nil {
		slog.Error("encode answer for tutor push", "question_id", q.ID, "error", err)
		return nil
	}
	return s.tutor.NotifySelection(ctx, q.ID, attempt, display, raw)
}

// AllAnswered reports whether every question holds a non-empty answer.
func (s *Session) AllAnswered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allAnsweredLocked()
}

func (s *Session) allAnsweredLocked() bool {
	if s.exam == nil {
		return false
	}
	for _, q := range s.exam.Questions {
		if s.answers[q.ID].Empty(q.Kind()) {
			return false
		}
	}
	return true
}

// Submit scores the attempt locally and returns the result immediately,
// then reconciles with the server in the background: the authoritative
// submission is stored server-side and its analysis is merged into the
// result, but the displayed score never changes and a failed sync is
// swallowed. SyncDone closes when the reconciliation settles.
func (s *Session) Submit(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return nil, ErrNotInProgress
	}
	if !s.allAnsweredLocked() {
		s.mu.Unlock()
		return nil, ErrUnanswered
	}

	questions := append([]model.Question(nil), s.exam.Questions...)
	answers := make(map[int]model.Answer, len(s.answers))
	for id, a := range s.answers {
		answers[id] = a
	}
	score, details := grading.Score(questions, answers)
	result := &Result{
		Score:      score,
		Total:      len(questions),
		Percentage: grading.Percentage(score, len(questions)),
		Details:    details,
	}
	s.result = result
	s.state = Submitted
	done := make(chan struct{})
	s.syncDone = done
	name := s.studentName
	s.mu.Unlock()

	wire := make(map[string]json.RawMessage, len(answers))
	for id, a := range answers {
		raw, err := json.Marshal(a)
		if err != nil {
			slog.Error("encode answer", "question_id", id, "error", err)
			continue
		}
		wire[strconv.Itoa(id)] = raw
	}

	go func() {
		defer close(done)
		serverResult, err := s.backend.SubmitExam(ctx, s.examID, api.SubmitRequest{
			StudentName: name,
			Answers:     wire,
			ChatHistory: s.tutor.Transcript(),
		})
		if err != nil {
			slog.Warn("background submission sync failed", "exam_id", s.examID, "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only the analysis merges in; the displayed score stays local.
		s.result.Analysis = serverResult.Analysis
	}()
	return result, nil
}

// Result returns a snapshot of the scored outcome, or nil before Submit.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	snapshot := *s.result
	return &snapshot
}

// SyncDone exposes the background reconciliation for callers that need to
// wait on it; nil before Submit.
func (s *Session) SyncDone() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncDone
}
