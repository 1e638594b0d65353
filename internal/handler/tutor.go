package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/quizmate/internal/grading"
	"github.com/pavelanni/quizmate/internal/i18n"
	"github.com/pavelanni/quizmate/internal/llm"
	"github.com/pavelanni/quizmate/internal/model"
)

// SilentPushPrefix marks tutor messages the client sends on the student's
// behalf when they pick an answer. They steer the tutor but are not shown in
// the chat, so they are kept out of the stored history as well.
const SilentPushPrefix = "[Student selected:"

type tutorChatRequest struct {
	ExamID       string              `json:"exam_id"`
	QuestionID   int                 `json:"question_id"`
	StudentName  string              `json:"student_name"`
	Message      string              `json:"message"`
	History      []model.ChatMessage `json:"history"`
	Answer       json.RawMessage     `json:"student_answer"`
	AttemptCount int                 `json:"attempt_count"`
}

type tutorChatResponse struct {
	Reply            string   `json:"reply"`
	SuggestedPrompts []string `json:"suggested_prompts"`
}

func (h *Handler) handleTutorChat(w http.ResponseWriter, r *http.Request) {
	var req tutorChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	exam, err := h.store.GetExam(req.ExamID)
	if err != nil {
		slog.Error("get exam", "exam_id", req.ExamID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if exam == nil {
		apiError(w, r, http.StatusNotFound, "ErrExamNotFound")
		return
	}

	var question model.Question
	for _, q := range exam.Questions {
		if q.ID == req.QuestionID {
			question = q
			break
		}
	}
	if question.ID == 0 {
		apiError(w, r, http.StatusNotFound, "ErrQuestionNotFound")
		return
	}

	answer := model.DecodeAnswer(question.Kind(), req.Answer)
	answered := !answer.Empty(question.Kind())
	outcome := grading.Grade(question, answer)

	reply, suggestions, err := h.llm.TutorReply(r.Context(), llm.TutorRequest{
		StudentName:    req.StudentName,
		Question:       question,
		StudentDisplay: outcome.StudentDisplay,
		AnswerCorrect:  outcome.IsCorrect,
		Answered:       answered,
		AttemptCount:   req.AttemptCount,
		History:        req.History,
		Message:        req.Message,
	})
	if err != nil {
		// The tutor never hard-fails the student: degrade to a canned reply.
		slog.Warn("tutor reply failed", "exam_id", req.ExamID, "student", req.StudentName, "error", err)
		reply = i18n.T(r.Context(), "TutorFallback")
		suggestions = nil
	}
	suggestions = llm.PadSuggestions(suggestions, h.defaultSuggestions(r))

	h.logChatTurns(req, reply)
	writeJSON(w, http.StatusOK, tutorChatResponse{Reply: reply, SuggestedPrompts: suggestions})
}

func (h *Handler) defaultSuggestions(r *http.Request) []string {
	ctx := r.Context()
	return []string{
		i18n.T(ctx, "SuggestHint"),
		i18n.T(ctx, "SuggestExplain"),
		i18n.T(ctx, "SuggestFocus"),
		i18n.T(ctx, "SuggestBreakdown"),
	}
}

// logChatTurns persists the visible part of the conversation. Failures are
// logged only; chat logging never affects the tutor response.
func (h *Handler) logChatTurns(req tutorChatRequest, reply string) {
	if !strings.HasPrefix(req.Message, SilentPushPrefix) {
		err := h.store.AppendChatMessage(req.ExamID, req.StudentName, req.QuestionID,
			model.ChatMessage{Role: model.RoleUser, Content: req.Message})
		if err != nil {
			slog.Error("log chat turn", "exam_id", req.ExamID, "error", err)
		}
	}
	err := h.store.AppendChatMessage(req.ExamID, req.StudentName, req.QuestionID,
		model.ChatMessage{Role: model.RoleAssistant, Content: reply})
	if err != nil {
		slog.Error("log chat turn", "exam_id", req.ExamID, "error", err)
	}
}

func (h *Handler) handleTutorHistory(w http.ResponseWriter, r *http.Request) {
	examID := urlParam(r, "examID")
	studentName := urlParam(r, "studentName")
	history, err := h.store.GetChatHistory(examID, studentName)
	if err != nil {
		slog.Error("get chat history", "exam_id", examID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if history == nil {
		history = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"exam_id":      examID,
		"student_name": studentName,
		"history":      history,
	})
}
