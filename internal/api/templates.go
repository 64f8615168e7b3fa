package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/render"
)

type templateRequest struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	Category    string `json:"category"`
	Active      *bool  `json:"active"`
}

// TemplateCreate creates a reusable email template
func (h *Handlers) TemplateCreate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" || req.Subject == "" || req.HTMLContent == "" {
		h.respondError(w, http.StatusBadRequest, "name, subject and html_content are required")
		return
	}

	t := &models.EmailTemplate{
		Name:        req.Name,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		Category:    req.Category,
		Active:      true,
	}
	if req.Active != nil {
		t.Active = *req.Active
	}

	if err := h.templates.Create(t); err != nil {
		h.logger.Error("failed to create template", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create template")
		return
	}

	h.respondJSON(w, http.StatusCreated, t)
}

// TemplateList lists templates
func (h *Handlers) TemplateList(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	templates, err := h.templates.List(activeOnly)
	if err != nil {
		h.logger.Error("failed to list templates", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// TemplateGet returns one template
func (h *Handlers) TemplateGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		h.respondError(w, http.StatusNotFound, "template not found")
		return
	}
	h.respondJSON(w, http.StatusOK, t)
}

// TemplateUpdate updates a template. Existing campaigns keep their snapshot.
func (h *Handlers) TemplateUpdate(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		h.respondError(w, http.StatusNotFound, "template not found")
		return
	}

	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name != "" {
		t.Name = req.Name
	}
	if req.Subject != "" {
		t.Subject = req.Subject
	}
	if req.HTMLContent != "" {
		t.HTMLContent = req.HTMLContent
	}
	if req.Category != "" {
		t.Category = req.Category
	}
	if req.Active != nil {
		t.Active = *req.Active
	}

	if err := h.templates.Update(t); err != nil {
		h.logger.Error("failed to update template", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to update template")
		return
	}

	h.respondJSON(w, http.StatusOK, t)
}

// TemplatePreview renders the template with sample data
func (h *Handlers) TemplatePreview(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		h.respondError(w, http.StatusNotFound, "template not found")
		return
	}

	vars := sampleVars("grace.adeyemi@example.org")
	h.respondJSON(w, http.StatusOK, map[string]any{
		"subject":   render.Render(t.Subject, vars),
		"html":      render.Render(t.HTMLContent, vars),
		"variables": render.Keys,
	})
}
