// Package handler implements the HTTP API consumed by the exam client: exam
// lifecycle, tutor chat, uploads and the live dashboard event stream.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/quizmate/internal/events"
	"github.com/pavelanni/quizmate/internal/i18n"
	"github.com/pavelanni/quizmate/internal/llm"
	"github.com/pavelanni/quizmate/internal/model"
	"github.com/pavelanni/quizmate/internal/store"
)

// Generator is the LLM surface the handlers depend on. Tests substitute a
// scripted fake.
type Generator interface {
	SelectTypes(ctx context.Context, topic string, count int, withMedia bool) []string
	GenerateQuestion(ctx context.Context, spec llm.QuestionSpec) (model.Question, error)
	TutorReply(ctx context.Context, req llm.TutorRequest) (string, []string, error)
	AnalyzePerformance(ctx context.Context, in llm.AnalysisInput) (*model.Analysis, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	llm    Generator
	broker *events.Broker
	config model.Config
}

// New creates a new Handler.
func New(s *store.Store, g Generator, b *events.Broker, cfg model.Config) *Handler {
	return &Handler{store: s, llm: g, broker: b, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Post("/register-teacher", h.handleRegisterTeacher)
	r.Post("/create-exam", h.handleCreateExam)
	r.Get("/exam/teacher/{teacherID}", h.handleTeacherExams)
	r.Get("/exam/{examID}", h.handleGetExam)
	r.Get("/exam/{examID}/full", h.handleGetExamFull)
	r.Get("/exam/{examID}/results", h.handleExamResults)
	r.Put("/exam/{examID}/question/{questionID}", h.handleUpdateQuestion)
	r.Delete("/exam/{examID}/question/{questionID}", h.handleDeleteQuestion)
	r.Post("/exam/{examID}/submit", h.handleSubmit)
	r.Post("/tutor/chat", h.handleTutorChat)
	r.Get("/tutor/history/{examID}/{studentName}", h.handleTutorHistory)
	r.Post("/upload", h.handleUpload)
	r.Delete("/upload/{fileID}", h.handleDeleteUpload)
	r.Get("/events/{examID}", h.handleEvents)
	r.Handle("/uploads/*", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(h.config.UploadDir))))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// TeacherID derives the deterministic teacher identifier from a display
// name: same name (ignoring case and surrounding space), same dashboard.
func TeacherID(name string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(name), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:8]
}

func (h *Handler) studentURL(examID string) string {
	return h.config.BaseURL + "/student/" + examID
}

func (h *Handler) teacherURL(teacherID string) string {
	return h.config.BaseURL + "/teacher/" + teacherID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// apiError writes a localized error payload.
func apiError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, map[string]string{"error": i18n.T(r.Context(), msgID)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apiError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return false
	}
	return true
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
