package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/faithflow/mailroom/internal/importer"
)

const maxImportSize = 32 << 20 // 32 MiB

// ImportCreate accepts a member CSV upload and enqueues its processing.
// The file comes as multipart form field "file".
func (h *Handlers) ImportCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImportSize); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		h.respondError(w, http.StatusBadRequest, "file must be a CSV")
		return
	}

	imp, job, err := h.importer.CreateFromCSV(r.Context(), header.Filename, file)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]any{
		"import": imp,
		"job":    job,
	})
}

// ImportGet returns an import with its row stats
func (h *Handlers) ImportGet(w http.ResponseWriter, r *http.Request) {
	imp, stats, err := h.importer.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			h.respondError(w, http.StatusNotFound, "import not found")
			return
		}
		h.logger.Error("failed to get import", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get import")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"import": imp,
		"stats":  stats,
	})
}

// ImportRetryFailed re-enqueues processing for only the failed rows
func (h *Handlers) ImportRetryFailed(w http.ResponseWriter, r *http.Request) {
	job, err := h.importer.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, importer.ErrImportNotFound) {
			h.respondError(w, http.StatusNotFound, "import not found")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]any{"job": job})
}
