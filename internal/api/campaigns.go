package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/render"
)

type campaignCreateRequest struct {
	Name        string                 `json:"name"`
	TemplateID  string                 `json:"template_id"`
	Subject     string                 `json:"subject"`
	HTMLContent string                 `json:"html_content"`
	Filter      models.RecipientFilter `json:"recipient_filter"`
}

// CampaignCreate creates a draft campaign. When a template is referenced its
// subject and HTML are snapshotted into the campaign; explicit fields win over
// the template's.
func (h *Handlers) CampaignCreate(w http.ResponseWriter, r *http.Request) {
	var req campaignCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := req.Filter.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	c := &models.Campaign{
		Name:        req.Name,
		TemplateID:  req.TemplateID,
		Subject:     req.Subject,
		HTMLContent: req.HTMLContent,
		Filter:      req.Filter,
	}

	if req.TemplateID != "" {
		t, err := h.templates.GetByID(req.TemplateID)
		if err != nil {
			h.respondError(w, http.StatusInternalServerError, "failed to load template")
			return
		}
		if t == nil {
			h.respondError(w, http.StatusBadRequest, "template not found")
			return
		}
		if c.Subject == "" {
			c.Subject = t.Subject
		}
		if c.HTMLContent == "" {
			c.HTMLContent = t.HTMLContent
		}
	}

	if c.Subject == "" {
		h.respondError(w, http.StatusBadRequest, "subject is required")
		return
	}
	if c.HTMLContent == "" {
		h.respondError(w, http.StatusBadRequest, "html_content is required")
		return
	}

	if err := h.campaigns.Create(c); err != nil {
		h.logger.Error("failed to create campaign", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	h.respondJSON(w, http.StatusCreated, c)
}

// CampaignList lists campaigns with optional status filtering and pagination
func (h *Handlers) CampaignList(w http.ResponseWriter, r *http.Request) {
	filter := models.CampaignListFilter{
		Status: models.CampaignStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	campaigns, total, err := h.campaigns.List(filter)
	if err != nil {
		h.logger.Error("failed to list campaigns", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"total":     total,
	})
}

// CampaignGet returns one campaign with stats recomputed from the send log
func (h *Handlers) CampaignGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		h.respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	// Stats come from the log while a dispatch is live, so the UI sees
	// progress without waiting for finalization
	if c.Status == models.CampaignSending {
		if logStats, err := h.sendLogs.Stats(c.ID); err == nil && logStats.Total > 0 {
			c.Stats = models.CampaignStats{
				TotalRecipients: logStats.Total,
				Sent:            logStats.Sent + logStats.Delivered,
				Delivered:       logStats.Delivered,
				Failed:          logStats.Failed,
			}
		}
	}

	h.respondJSON(w, http.StatusOK, c)
}

// CampaignSend enqueues an immediate dispatch for a draft campaign
func (h *Handlers) CampaignSend(w http.ResponseWriter, r *http.Request) {
	job, err := h.scheduler.SendNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondSchedulerError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

type campaignScheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CampaignSchedule enqueues a delayed dispatch for a draft campaign
func (h *Handlers) CampaignSchedule(w http.ResponseWriter, r *http.Request) {
	var req campaignScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ScheduledAt.IsZero() {
		h.respondError(w, http.StatusBadRequest, "scheduled_at is required")
		return
	}

	job, err := h.scheduler.Schedule(r.Context(), chi.URLParam(r, "id"), req.ScheduledAt)
	if err != nil {
		h.respondSchedulerError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

// CampaignCancel cancels a scheduled campaign, or requests cooperative
// cancellation of a sending one
func (h *Handlers) CampaignCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondSchedulerError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cancellation requested"})
}

// CampaignPreviewRecipients returns the total recipient count and a bounded
// sample for the campaign's filter, without sending anything
func (h *Handlers) CampaignPreviewRecipients(w http.ResponseWriter, r *http.Request) {
	c, err := h.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		h.respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	preview, err := h.resolver.PreviewFilter(c.Filter, queryInt(r, "limit", 10))
	if err != nil {
		if errors.Is(err, models.ErrInvalidFilter) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to preview recipients", "error", err, "campaign_id", c.ID)
		h.respondError(w, http.StatusInternalServerError, "failed to preview recipients")
		return
	}

	h.respondJSON(w, http.StatusOK, preview)
}

// CampaignLogs returns the paginated per-recipient delivery log
func (h *Handlers) CampaignLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.campaigns.GetByID(id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		h.respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	limit := queryInt(r, "limit", 50)
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	filter := models.SendLogFilter{
		CampaignID: id,
		Status:     models.SendLogStatus(r.URL.Query().Get("status")),
		Limit:      limit,
		Offset:     (page - 1) * limit,
	}

	logs, total, err := h.sendLogs.List(filter)
	if err != nil {
		h.logger.Error("failed to list send logs", "error", err, "campaign_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to list send logs")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

type testSendRequest struct {
	Email string `json:"email"`
}

// CampaignTestSend renders the campaign with sample data and sends it to one
// arbitrary address. No send log row is written and the campaign status does
// not change.
func (h *Handlers) CampaignTestSend(w http.ResponseWriter, r *http.Request) {
	var req testSendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		h.respondError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	c, err := h.campaigns.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		h.respondError(w, http.StatusNotFound, "campaign not found")
		return
	}

	vars := sampleVars(req.Email)
	_, err = h.mailer.Send(r.Context(), &mailer.SendRequest{
		From:    h.fromAddr,
		To:      req.Email,
		Subject: "[TEST] " + render.Render(c.Subject, vars),
		HTML:    render.Render(c.HTMLContent, vars),
	})
	if err != nil {
		h.logger.Error("test send failed", "error", err, "campaign_id", c.ID, "to", req.Email)
		h.respondError(w, http.StatusBadGateway, "test send failed: "+err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "sent", "to": req.Email})
}

// sampleVars are placeholder values for test sends and template previews
func sampleVars(email string) map[string]string {
	return map[string]string{
		"firstName":        "Grace",
		"lastName":         "Adeyemi",
		"email":            email,
		"phone":            "+2348000000000",
		"branchName":       "Central Branch",
		"groupName":        "Choir",
		"unitName":         "Media Unit",
		"districtName":     "North District",
		"membershipStatus": "active",
		"joinDate":         "2020-01-15",
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
