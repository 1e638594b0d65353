package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/i18n"
	"github.com/pavelanni/quizmate/internal/llm"
	"github.com/pavelanni/quizmate/internal/model"
	"github.com/pavelanni/quizmate/internal/store"
)

// fakeGen is a scripted Generator so handler tests run without an LLM.
type fakeGen struct {
	genErr   error
	tutorErr error

	mu        sync.Mutex
	tutorReqs []llm.TutorRequest
}

func (f *fakeGen) SelectTypes(_ context.Context, _ string, count int, _ bool) []string {
	types := make([]string, count)
	for i := range types {
		types[i] = "single_choice"
	}
	return types
}

func (f *fakeGen) GenerateQuestion(_ context.Context, spec llm.QuestionSpec) (model.Question, error) {
	if f.genErr != nil {
		return model.Question{}, f.genErr
	}
	return model.Question{
		ID:            spec.ID,
		Type:          spec.TypeTag,
		Text:          fmt.Sprintf("Question %d about %s?", spec.ID, spec.Topic),
		Options:       []string{"a", "b", "c", "d"},
		CorrectAnswer: json.RawMessage(`1`),
		Explanation:   "because",
	}, nil
}

func (f *fakeGen) TutorReply(_ context.Context, req llm.TutorRequest) (string, []string, error) {
	f.mu.Lock()
	f.tutorReqs = append(f.tutorReqs, req)
	f.mu.Unlock()
	if f.tutorErr != nil {
		return "", nil, f.tutorErr
	}
	return "Think about option B.", []string{"Why B?", "Give me a hint"}, nil
}

func (f *fakeGen) lastTutorReq(t *testing.T) llm.TutorRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tutorReqs) == 0 {
		t.Fatal("no tutor request recorded")
	}
	return f.tutorReqs[len(f.tutorReqs)-1]
}

func (f *fakeGen) AnalyzePerformance(_ context.Context, in llm.AnalysisInput) (*model.Analysis, error) {
	return &model.Analysis{Score: 7, Summary: "Solid effort."}, nil
}

type fixture struct {
	handler *Handler
	router  chi.Router
	store   *store.Store
	gen     *fakeGen
	broker  *events.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if err := i18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	gen := &fakeGen{}
	broker := events.NewBroker()
	h := New(s, gen, broker, model.Config{
		BaseURL:   "http://quiz.test",
		UploadDir: t.TempDir(),
	})
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	h.Routes(r)
	return &fixture{handler: h, router: r, store: s, gen: gen, broker: broker}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResp[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestTeacherIDDeterministic(t *testing.T) {
	a := TeacherID("Ms. Chen")
	b := TeacherID("  ms.  chen ")
	if a != b {
		t.Errorf("normalized names map to different IDs: %q vs %q", a, b)
	}
	if len(a) != 8 {
		t.Errorf("teacher ID length = %d, want 8", len(a))
	}
	if TeacherID("Mr. Diaz") == a {
		t.Error("different names map to the same ID")
	}
}

func TestRegisterTeacher(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/register-teacher", map[string]string{"teacher_name": "Ms. Chen"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResp[map[string]string](t, rec)
	if resp["teacher_id"] != TeacherID("Ms. Chen") {
		t.Errorf("teacher_id = %q", resp["teacher_id"])
	}
	if !strings.HasPrefix(resp["teacher_url"], "http://quiz.test/teacher/") {
		t.Errorf("teacher_url = %q", resp["teacher_url"])
	}

	rec = f.do(t, http.MethodPost, "/register-teacher", map[string]string{"teacher_name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}
}

func TestCreateExamGeneratesAllQuestions(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/create-exam", map[string]any{
		"teacher_name":   "Ms. Chen",
		"prompt":         "European capitals",
		"question_count": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResp[createExamResponse](t, rec)
	if len(resp.Questions) != 1 {
		t.Fatalf("synchronous questions = %d, want 1", len(resp.Questions))
	}
	if !strings.HasPrefix(resp.StudentURL, "http://quiz.test/student/") {
		t.Errorf("student_url = %q", resp.StudentURL)
	}

	// The remaining questions land in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		exam, err := f.store.GetExam(resp.ExamID)
		if err != nil {
			t.Fatalf("GetExam: %v", err)
		}
		if len(exam.Questions) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background generation produced %d questions, want 3", len(exam.Questions))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateExamFirstQuestionFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.genErr = errors.New("model unavailable")
	rec := f.do(t, http.MethodPost, "/create-exam", map[string]any{
		"teacher_name": "Ms. Chen",
		"prompt":       "anything",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func createExamFixture(t *testing.T, f *fixture) string {
	t.Helper()
	exam := model.Exam{
		ID:          "exam-t1",
		TeacherID:   TeacherID("Ms. Chen"),
		TeacherName: "Ms. Chen",
		Prompt:      "capitals",
		CreatedAt:   time.Now().UTC(),
		Questions: []model.Question{
			{
				ID: 1, Type: "single_choice", Text: "Capital of France?",
				Options:       []string{"London", "Berlin", "Paris", "Madrid"},
				CorrectAnswer: json.RawMessage(`2`),
				Explanation:   "Paris.",
			},
			{
				ID: 2, Type: "fill_in_blanks", Text: "Rome is the capital of ___.",
				CorrectAnswers: json.RawMessage(`["Italy"]`),
				BlanksCount:    1,
			},
		},
	}
	if err := f.store.UpsertTeacher(model.Teacher{ID: exam.TeacherID, Name: exam.TeacherName}); err != nil {
		t.Fatalf("UpsertTeacher: %v", err)
	}
	if err := f.store.CreateExam(exam); err != nil {
		t.Fatalf("CreateExam: %v", err)
	}
	return exam.ID
}

func TestGetExam(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exam/"+examID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResp[map[string]json.RawMessage](t, rec)
	var questions []model.Question
	if err := json.Unmarshal(resp["questions"], &questions); err != nil {
		t.Fatalf("decode questions: %v", err)
	}
	if len(questions) != 2 {
		t.Errorf("questions = %d, want 2", len(questions))
	}

	rec = f.do(t, http.MethodGet, "/exam/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing exam status = %d, want 404", rec.Code)
	}
}

func TestSubmitScoresAndPublishes(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	ch, cancel := f.broker.Subscribe(examID)
	defer cancel()

	rec := f.do(t, http.MethodPost, "/exam/"+examID+"/submit", map[string]any{
		"student_name": "Alice",
		"answers": map[string]any{
			"1": "C",
			"2": []string{" italy "},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResp[map[string]json.RawMessage](t, rec)
	if string(resp["score"]) != "2" {
		t.Errorf("score = %s, want 2", resp["score"])
	}
	if string(resp["percentage"]) != "100" {
		t.Errorf("percentage = %s, want 100", resp["percentage"])
	}
	var details map[string]model.AnswerDetail
	if err := json.Unmarshal(resp["answer_details"], &details); err != nil {
		t.Fatalf("decode answer_details: %v", err)
	}
	if !details["2"].IsCorrect {
		t.Errorf("blank answer %q not accepted", details["2"].StudentAnswer)
	}

	select {
	case evt := <-ch:
		if evt.Type != events.TypeNewSubmission {
			t.Errorf("published event type = %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Error("no new_submission event published")
	}

	// Unanswered questions count as wrong, not as errors.
	rec = f.do(t, http.MethodPost, "/exam/"+examID+"/submit", map[string]any{
		"student_name": "Bob",
		"answers":      map[string]any{"1": "A"},
	})
	resp = decodeResp[map[string]json.RawMessage](t, rec)
	if string(resp["score"]) != "0" {
		t.Errorf("Bob's score = %s, want 0", resp["score"])
	}
	if err := json.Unmarshal(resp["answer_details"], &details); err != nil {
		t.Fatalf("decode answer_details: %v", err)
	}
	if details["2"].StudentAnswer != "(not answered)" {
		t.Errorf("skipped question display = %q", details["2"].StudentAnswer)
	}
}

func TestExamResultsStatistics(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	for _, sub := range []map[string]any{
		{"student_name": "Alice", "answers": map[string]any{"1": "C", "2": []string{"Italy"}}},
		{"student_name": "Bob", "answers": map[string]any{"1": "C"}},
	} {
		if rec := f.do(t, http.MethodPost, "/exam/"+examID+"/submit", sub); rec.Code != http.StatusOK {
			t.Fatalf("submit status = %d", rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/exam/"+examID+"/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Results    []model.StudentResult `json:"results"`
		Statistics model.Statistics      `json:"statistics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.Results))
	}
	if resp.Statistics.Average != 75.0 || resp.Statistics.Highest != 100.0 || resp.Statistics.Lowest != 50.0 {
		t.Errorf("statistics = %+v", resp.Statistics)
	}
}

func TestQuestionUpdateDelete(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	rec := f.do(t, http.MethodPut, "/exam/"+examID+"/question/1", model.Question{
		Text:          "Which city is France's capital?",
		Options:       []string{"London", "Berlin", "Paris", "Madrid"},
		CorrectAnswer: json.RawMessage(`2`),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodDelete, "/exam/"+examID+"/question/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	resp := decodeResp[map[string]json.RawMessage](t, rec)
	if string(resp["remaining_questions"]) != "1" {
		t.Errorf("remaining_questions = %s, want 1", resp["remaining_questions"])
	}

	rec = f.do(t, http.MethodDelete, "/exam/"+examID+"/question/99", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing question status = %d, want 404", rec.Code)
	}
}

func TestTutorChat(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	rec := f.do(t, http.MethodPost, "/tutor/chat", map[string]any{
		"exam_id":        examID,
		"question_id":    1,
		"student_name":   "Alice",
		"message":        "I think it's Berlin?",
		"student_answer": "B",
		"attempt_count":  2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResp[tutorChatResponse](t, rec)
	if resp.Reply == "" {
		t.Error("empty tutor reply")
	}
	if len(resp.SuggestedPrompts) != 4 {
		t.Errorf("suggested prompts = %d, want exactly 4", len(resp.SuggestedPrompts))
	}
	if got := f.gen.lastTutorReq(t); got.AttemptCount != 2 {
		t.Errorf("attempt count passed to the tutor = %d, want 2", got.AttemptCount)
	}

	history := f.do(t, http.MethodGet, "/tutor/history/"+examID+"/Alice", nil)
	var hist struct {
		History []model.ChatMessage `json:"history"`
	}
	if err := json.Unmarshal(history.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.History) != 2 {
		t.Errorf("stored history = %d turns, want 2", len(hist.History))
	}
}

func TestTutorChatDegradesOnLLMFailure(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)
	f.gen.tutorErr = errors.New("model unavailable")

	rec := f.do(t, http.MethodPost, "/tutor/chat", map[string]any{
		"exam_id":      examID,
		"question_id":  1,
		"student_name": "Alice",
		"message":      "help",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 fallback", rec.Code)
	}
	resp := decodeResp[tutorChatResponse](t, rec)
	if resp.Reply == "" {
		t.Error("fallback reply empty")
	}
	if len(resp.SuggestedPrompts) != 4 {
		t.Errorf("fallback prompts = %d, want 4", len(resp.SuggestedPrompts))
	}
}

func TestTutorChatSilentPushNotStored(t *testing.T) {
	f := newFixture(t)
	examID := createExamFixture(t, f)

	rec := f.do(t, http.MethodPost, "/tutor/chat", map[string]any{
		"exam_id":        examID,
		"question_id":    1,
		"student_name":   "Alice",
		"message":        SilentPushPrefix + " C]",
		"student_answer": "C",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	history, err := f.store.GetChatHistory(examID, "Alice")
	if err != nil {
		t.Fatalf("GetChatHistory: %v", err)
	}
	if len(history) != 1 || history[0].Role != model.RoleAssistant {
		t.Errorf("silent push leaked into history: %+v", history)
	}
}

func TestTeacherExams(t *testing.T) {
	f := newFixture(t)
	createExamFixture(t, f)
	teacherID := TeacherID("Ms. Chen")

	rec := f.do(t, http.MethodGet, "/exam/teacher/"+teacherID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		TeacherName string                     `json:"teacher_name"`
		Exams       []model.TeacherExamSummary `json:"exams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TeacherName != "Ms. Chen" {
		t.Errorf("teacher_name = %q", resp.TeacherName)
	}
	if len(resp.Exams) != 1 || resp.Exams[0].QuestionCount != 2 {
		t.Errorf("exams = %+v", resp.Exams)
	}
	if !strings.HasPrefix(resp.Exams[0].StudentURL, "http://quiz.test/student/") {
		t.Errorf("student_url = %q", resp.Exams[0].StudentURL)
	}

	rec = f.do(t, http.MethodGet, "/exam/teacher/unknown1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown teacher status = %d, want 404", rec.Code)
	}
}
