package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/llm"
	"github.com/pavelanni/quizmate/internal/model"
)

const (
	defaultQuestionCount = 5
	maxQuestionCount     = 20
	backgroundGenTimeout = 5 * time.Minute
	// uploaded reference text folded into prompts is capped per exam
	maxContextBytes = 24 * 1024
)

type createExamRequest struct {
	TeacherName   string  `json:"teacher_name"`
	Prompt        string  `json:"prompt"`
	QuestionCount int     `json:"question_count"`
	SessionID     string  `json:"session_id"`
	Temperature   float32 `json:"temperature"`
}

type createExamResponse struct {
	ExamID        string           `json:"exam_id"`
	TeacherID     string           `json:"teacher_id"`
	StudentURL    string           `json:"student_url"`
	TeacherURL    string           `json:"teacher_url"`
	QuestionCount int              `json:"question_count"`
	Questions     []model.Question `json:"questions"`
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req createExamRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.TeacherName = strings.TrimSpace(req.TeacherName)
	if req.Prompt == "" {
		apiError(w, r, http.StatusBadRequest, "ErrPromptRequired")
		return
	}
	if req.TeacherName == "" {
		apiError(w, r, http.StatusBadRequest, "ErrTeacherNameRequired")
		return
	}
	count := req.QuestionCount
	if count <= 0 {
		count = defaultQuestionCount
	}
	if count > maxQuestionCount {
		count = maxQuestionCount
	}

	teacherID := TeacherID(req.TeacherName)
	if err := h.store.UpsertTeacher(model.Teacher{ID: teacherID, Name: req.TeacherName}); err != nil {
		slog.Error("upsert teacher", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	contextText := h.referenceContext(req.SessionID)
	types := h.llm.SelectTypes(r.Context(), req.Prompt, count, h.config.Media)

	// The first question is generated synchronously so the student link is
	// usable the moment the teacher gets it; the rest stream in.
	first, err := h.llm.GenerateQuestion(r.Context(), llm.QuestionSpec{
		ID:          1,
		TypeTag:     types[0],
		Topic:       req.Prompt,
		Context:     contextText,
		Temperature: req.Temperature,
		MediaDir:    h.config.UploadDir,
	})
	if err != nil {
		slog.Error("generate first question", "error", err)
		apiError(w, r, http.StatusBadGateway, "ErrGenerationFailed")
		return
	}

	exam := model.Exam{
		ID:          uuid.NewString()[:8],
		TeacherID:   teacherID,
		TeacherName: req.TeacherName,
		Prompt:      req.Prompt,
		Questions:   []model.Question{first},
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateExam(exam); err != nil {
		slog.Error("create exam", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	if count > 1 {
		go h.generateRemaining(exam, types, contextText, req.Temperature)
	}

	writeJSON(w, http.StatusOK, createExamResponse{
		ExamID:        exam.ID,
		TeacherID:     teacherID,
		StudentURL:    h.studentURL(exam.ID),
		TeacherURL:    h.teacherURL(teacherID),
		QuestionCount: count,
		Questions:     exam.Questions,
	})
}

// generateRemaining produces questions 2..n in the background, publishing
// each one to the exam's event stream as it lands.
func (h *Handler) generateRemaining(exam model.Exam, types []string, contextText string, temperature float32) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundGenTimeout)
	defer cancel()

	existing := make([]string, 0, len(types))
	for _, q := range exam.Questions {
		existing = append(existing, q.Text)
	}

	for i := 1; i < len(types); i++ {
		q, err := h.llm.GenerateQuestion(ctx, llm.QuestionSpec{
			ID:          i + 1,
			TypeTag:     types[i],
			Topic:       exam.Prompt,
			Context:     contextText,
			Existing:    existing,
			Temperature: temperature,
			MediaDir:    h.config.UploadDir,
		})
		if err != nil {
			slog.Error("background question generation", "exam_id", exam.ID, "question_id", i+1, "error", err)
			h.broker.Publish(exam.ID, events.New(events.TypeError, map[string]any{
				"question_id": i + 1,
				"message":     "question generation failed",
			}))
			continue
		}
		if err := h.store.AddQuestion(exam.ID, q); err != nil {
			slog.Error("store generated question", "exam_id", exam.ID, "question_id", q.ID, "error", err)
			continue
		}
		existing = append(existing, q.Text)
		h.broker.Publish(exam.ID, events.New(events.TypeNewQuestion, q))
	}
}

// referenceContext reads the text of files uploaded under the given session
// for folding into generation prompts. Binary formats are skipped.
func (h *Handler) referenceContext(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	files, err := h.store.ListUploads(sessionID)
	if err != nil {
		slog.Error("list uploads", "session_id", sessionID, "error", err)
		return ""
	}
	var sb strings.Builder
	for _, f := range files {
		if !strings.HasPrefix(f.ContentType, "text/") {
			continue
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			slog.Warn("read uploaded file", "file_id", f.ID, "error", err)
			continue
		}
		if sb.Len()+len(data) > maxContextBytes {
			data = data[:maxContextBytes-sb.Len()]
		}
		sb.WriteString("--- " + f.Name + " ---\n")
		sb.Write(data)
		sb.WriteString("\n")
		if sb.Len() >= maxContextBytes {
			break
		}
	}
	return sb.String()
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOr404(w, r)
	if !ok {
		return
	}
	// Correct answers ship with the student view: the client grades locally
	// and the tutor needs them for its hidden context.
	writeJSON(w, http.StatusOK, map[string]any{
		"exam_id":      exam.ID,
		"prompt":       exam.Prompt,
		"teacher_name": exam.TeacherName,
		"questions":    exam.Questions,
	})
}

func (h *Handler) handleGetExamFull(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOr404(w, r)
	if !ok {
		return
	}
	count, err := h.store.SubmissionCount(exam.ID)
	if err != nil {
		slog.Error("submission count", "exam_id", exam.ID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exam_id":       exam.ID,
		"teacher_id":    exam.TeacherID,
		"teacher_name":  exam.TeacherName,
		"prompt":        exam.Prompt,
		"questions":     exam.Questions,
		"student_url":   h.studentURL(exam.ID),
		"student_count": count,
		"created_at":    exam.CreatedAt,
	})
}

func (h *Handler) handleExamResults(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOr404(w, r)
	if !ok {
		return
	}
	results, err := h.store.ListSubmissions(exam.ID)
	if err != nil {
		slog.Error("list submissions", "exam_id", exam.ID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if results == nil {
		results = []model.StudentResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exam_id":    exam.ID,
		"results":    results,
		"statistics": grading.Stats(results),
	})
}

func (h *Handler) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	examID := urlParam(r, "examID")
	questionID, err := strconv.Atoi(urlParam(r, "questionID"))
	if err != nil {
		apiError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	var q model.Question
	if !decodeBody(w, r, &q) {
		return
	}
	q.ID = questionID
	if err := h.store.UpdateQuestion(examID, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiError(w, r, http.StatusNotFound, "ErrQuestionNotFound")
			return
		}
		slog.Error("update question", "exam_id", examID, "question_id", questionID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "updated", "question_id": questionID})
}

func (h *Handler) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	examID := urlParam(r, "examID")
	questionID, err := strconv.Atoi(urlParam(r, "questionID"))
	if err != nil {
		apiError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	remaining, err := h.store.DeleteQuestion(examID, questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apiError(w, r, http.StatusNotFound, "ErrQuestionNotFound")
			return
		}
		slog.Error("delete question", "exam_id", examID, "question_id", questionID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "remaining_questions": remaining})
}

type submitRequest struct {
	StudentName string                     `json:"student_name"`
	Answers     map[string]json.RawMessage `json:"answers"`
	ChatHistory []model.ChatMessage        `json:"chat_history"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	exam, ok := h.examOr404(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.StudentName = strings.TrimSpace(req.StudentName)
	if req.StudentName == "" {
		apiError(w, r, http.StatusBadRequest, "ErrStudentNameRequired")
		return
	}

	answers := make(map[int]model.Answer, len(req.Answers))
	for _, q := range exam.Questions {
		if raw, found := req.Answers[strconv.Itoa(q.ID)]; found {
			answers[q.ID] = model.DecodeAnswer(q.Kind(), raw)
		}
	}

	score, details := grading.Score(exam.Questions, answers)
	result := model.StudentResult{
		StudentName: req.StudentName,
		Score:       score,
		Total:       len(exam.Questions),
		Percentage:  grading.Percentage(score, len(exam.Questions)),
		Answers:     details,
		SubmittedAt: time.Now().UTC(),
	}

	// Best effort: a missing analysis never blocks the result.
	analysis, err := h.llm.AnalyzePerformance(r.Context(), llm.AnalysisInput{
		StudentName: result.StudentName,
		Score:       result.Score,
		Total:       result.Total,
		Percentage:  result.Percentage,
		Details:     details,
		Chat:        req.ChatHistory,
	})
	if err != nil {
		slog.Warn("performance analysis failed", "exam_id", exam.ID, "student", req.StudentName, "error", err)
	} else {
		result.Analysis = analysis
	}

	if err := h.store.InsertSubmission(exam.ID, result, req.ChatHistory); err != nil {
		slog.Error("insert submission", "exam_id", exam.ID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	h.broker.Publish(exam.ID, events.New(events.TypeNewSubmission, result))

	writeJSON(w, http.StatusOK, map[string]any{
		"student_name":    result.StudentName,
		"score":           result.Score,
		"total_questions": result.Total,
		"percentage":      result.Percentage,
		"answer_details":  result.Answers,
		"analysis":        result.Analysis,
	})
}

// examOr404 loads the exam named in the route or writes a 404.
func (h *Handler) examOr404(w http.ResponseWriter, r *http.Request) (*model.Exam, bool) {
	examID := urlParam(r, "examID")
	exam, err := h.store.GetExam(examID)
	if err != nil {
		slog.Error("get exam", "exam_id", examID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return nil, false
	}
	if exam == nil {
		apiError(w, r, http.StatusNotFound, "ErrExamNotFound")
		return nil, false
	}
	return exam, true
}
