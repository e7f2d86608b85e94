package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"go-extractor/internal/extract"
	"go-extractor/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.service.StartJob(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, extract.ErrPoolSaturated):
		writeError(w, http.StatusServiceUnavailable, "too many running jobs, try again later")
		return
	case err != nil:
		s.log.Error("start job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "job created, extraction started in background",
		"job":     job,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error("get status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job status")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accepted := s.service.RequestInterrupt(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   id,
		"accepted": accepted,
	})
}

func (s *Server) handleGetPages(w http.ResponseWriter, r *http.Request) {
	pages, err := s.service.GetPages(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.log.Error("get pages failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load pages")
		return
	}
	writeJSON(w, http.StatusOK, pages)
}

// handleEvents streams a job's progress messages as server-sent events,
// ending after the completion message. Exactly one client may subscribe
// per job.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, ok := s.service.ClaimSubscription(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no subscription available for this job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("marshal event failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Kind, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
