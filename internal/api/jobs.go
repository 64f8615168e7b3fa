package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faithflow/mailroom/internal/queue"
)

// QueueStats returns queue counts by job state
func (h *Handlers) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get queue stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// JobList lists jobs, newest first
func (h *Handlers) JobList(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.List(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// JobGet returns one job. The admin console polls this endpoint for live
// progress while a dispatch runs.
func (h *Handlers) JobGet(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("failed to get job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

// JobCancel cancels a waiting or delayed job, or flags an active one for
// cooperative cancellation
func (h *Handlers) JobCancel(w http.ResponseWriter, r *http.Request) {
	err := h.queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, queue.ErrJobNotFound):
		h.respondError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, queue.ErrNotCancellable):
		h.respondError(w, http.StatusConflict, "job is already finished")
	case err != nil:
		h.logger.Error("failed to cancel job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to cancel job")
	default:
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
	}
}
