package handler

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/quizmate/internal/model"
)

const maxUploadBytes = 10 << 20 // 10 MiB

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		apiError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	file, header, err := r.FormFile("file")
	if err != nil || sessionID == "" {
		apiError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	defer file.Close()

	if err := os.MkdirAll(h.config.UploadDir, 0o755); err != nil {
		slog.Error("create upload dir", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	id := uuid.NewString()
	// Stored under a generated name; the original name survives in metadata.
	path := filepath.Join(h.config.UploadDir, id+filepath.Ext(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		slog.Error("create upload file", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	size, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		os.Remove(path)
		slog.Error("write upload file", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	uploaded := model.UploadedFile{
		ID:          id,
		SessionID:   sessionID,
		Name:        header.Filename,
		Path:        path,
		ContentType: header.Header.Get("Content-Type"),
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.RecordUpload(uploaded); err != nil {
		os.Remove(path)
		slog.Error("record upload", "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, uploaded)
}

func (h *Handler) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	fileID := urlParam(r, "fileID")
	f, err := h.store.GetUpload(fileID)
	if err != nil {
		slog.Error("get upload", "file_id", fileID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if f == nil {
		apiError(w, r, http.StatusNotFound, "ErrFileNotFound")
		return
	}
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove uploaded file", "file_id", fileID, "error", err)
	}
	if err := h.store.DeleteUpload(fileID); err != nil {
		slog.Error("delete upload", "file_id", fileID, "error", err)
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "file_id": fileID})
}
