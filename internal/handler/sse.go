package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// handleEvents streams an exam's dashboard events as server-sent events.
// Each frame is one JSON object; the stream runs until the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	examID := urlParam(r, "examID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		apiError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := h.broker.Subscribe(examID)
	defer cancel()
	slog.Debug("dashboard stream opened", "exam_id", examID)

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("dashboard stream closed", "exam_id", examID)
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			frame, err := json.Marshal(evt)
			if err != nil {
				slog.Error("marshal event frame", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
