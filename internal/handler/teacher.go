package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/quizmate/internal/model"
)

type registerTeacherRequest struct {
	TeacherName string `json:"teacher_name"`
}

func (h *Handler) handleRegisterTeacher(w http.ResponseWriter, r *http.Request) {
	var req registerTeacherRequest
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.TeacherName)
	if name == "" {
		apiError(w, r, http.StatusBadRequest, "ErrTeacherNameRequired")
		return
	}

	id := TeacherID(name)
	if err := h.store.UpsertTeacher(model.Teacher{ID: id, Name: name}); err != nil {
		slog.Error("upsert teacher", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"teacher_id":  id,
		"teacher_url": h.teacherURL(id),
	})
}

func (h *Handler) handleTeacherExams(w http.ResponseWriter, r *http.Request) {
	teacherID := urlParam(r, "teacherID")
	t, err := h.store.GetTeacher(teacherID)
	if err != nil {
		slog.Error("get teacher", "teacher_id", teacherID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if t == nil {
		apiError(w, r, http.StatusNotFound, "ErrTeacherNotFound")
		return
	}

	summaries, err := h.store.ListTeacherExams(teacherID)
	if err != nil {
		slog.Error("list teacher exams", "teacher_id", teacherID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	for i := range summaries {
		summaries[i].StudentURL = h.studentURL(summaries[i].ExamID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"teacher_id":   teacherID,
		"teacher_name": t.Name,
		"exams":        summaries,
	})
}
