package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/faithflow/mailroom/internal/importer"
	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/recipients"
	"github.com/faithflow/mailroom/internal/repository"
	"github.com/faithflow/mailroom/internal/scheduler"
)

// Handlers bundles the dependencies the HTTP handlers need
type Handlers struct {
	campaigns *repository.CampaignRepository
	templates *repository.TemplateRepository
	sendLogs  *repository.SendLogRepository
	resolver  *recipients.Resolver
	scheduler *scheduler.Scheduler
	importer  *importer.Importer
	queue     *queue.Queue
	mailer    mailer.Mailer
	fromAddr  string
	logger    *slog.Logger
	startTime time.Time
}

// HandlerConfig carries the dependencies for NewHandlers
type HandlerConfig struct {
	Campaigns *repository.CampaignRepository
	Templates *repository.TemplateRepository
	SendLogs  *repository.SendLogRepository
	Resolver  *recipients.Resolver
	Scheduler *scheduler.Scheduler
	Importer  *importer.Importer
	Queue     *queue.Queue
	Mailer    mailer.Mailer
	FromAddr  string
	Logger    *slog.Logger
}

func NewHandlers(cfg HandlerConfig) *Handlers {
	return &Handlers{
		campaigns: cfg.Campaigns,
		templates: cfg.Templates,
		sendLogs:  cfg.SendLogs,
		resolver:  cfg.Resolver,
		scheduler: cfg.Scheduler,
		importer:  cfg.Importer,
		queue:     cfg.Queue,
		mailer:    cfg.Mailer,
		fromAddr:  cfg.FromAddr,
		logger:    cfg.Logger.With("component", "api"),
		startTime: time.Now(),
	}
}

// Health returns service health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).String(),
	})
}

// respondJSON writes a JSON response
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode response", "error", err)
		}
	}
}

// respondError writes a JSON error response
func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// respondSchedulerError maps scheduler and repository errors onto HTTP codes
func (h *Handlers) respondSchedulerError(w http.ResponseWriter, err error) {
	var ve *scheduler.ValidationError
	var se *scheduler.StateError

	switch {
	case errors.Is(err, scheduler.ErrCampaignNotFound):
		h.respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, scheduler.ErrAlreadyDispatched):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidFilter):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ve):
		h.respondError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &se):
		h.respondError(w, http.StatusConflict, se.Error())
	default:
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON decodes a request body, rejecting unknown fields
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
