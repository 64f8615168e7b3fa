package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faithflow/mailroom/internal/mailer"
	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/recipients"
	"github.com/faithflow/mailroom/internal/render"
	"github.com/faithflow/mailroom/internal/repository"
)

// ErrNoRecipients finalizes a campaign whose filter resolved to nobody
var ErrNoRecipients = errors.New("no recipients")

// SendConfig tunes per-recipient delivery
type SendConfig struct {
	Concurrency int           // parallel mailer calls within one job
	Timeout     time.Duration // per mailer call
	Retries     int           // attempts per recipient before recording failure
}

// DefaultSendConfig returns default send configuration
func DefaultSendConfig() SendConfig {
	return SendConfig{
		Concurrency: 5,
		Timeout:     30 * time.Second,
		Retries:     2,
	}
}

// CampaignDispatcher performs the per-recipient sends for one claimed
// campaign-dispatch job
type CampaignDispatcher struct {
	queue     *queue.Queue
	campaigns *repository.CampaignRepository
	logs      *repository.SendLogRepository
	resolver  *recipients.Resolver
	mailer    mailer.Mailer
	cfg       SendConfig
	fromEmail string
	fromName  string
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]bool // campaign ids with a dispatch in flight
}

func NewCampaignDispatcher(
	q *queue.Queue,
	campaigns *repository.CampaignRepository,
	logs *repository.SendLogRepository,
	resolver *recipients.Resolver,
	m mailer.Mailer,
	cfg SendConfig,
	fromEmail, fromName string,
	logger *slog.Logger,
) *CampaignDispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 2
	}

	return &CampaignDispatcher{
		queue:     q,
		campaigns: campaigns,
		logs:      logs,
		resolver:  resolver,
		mailer:    m,
		cfg:       cfg,
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    logger.With("component", "campaign_dispatch"),
		active:    make(map[string]bool),
	}
}

// Handle processes one campaign-dispatch job end to end
func (d *CampaignDispatcher) Handle(ctx context.Context, job *queue.Job) error {
	var payload queue.CampaignDispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid dispatch payload: %w", err)
	}

	c, err := d.campaigns.GetByID(payload.CampaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("campaign %s not found", payload.CampaignID)
	}

	logger := d.logger.With("campaign_id", c.ID, "job_id", job.ID)

	switch c.Status {
	case models.CampaignCancelled:
		// The enqueue race was lost to a cancel; the job is a no-op
		logger.Info("campaign cancelled before claim, skipping")
		return d.queue.MarkCancelled(ctx, job)
	case models.CampaignScheduled:
		if err := d.campaigns.Transition(c.ID, models.CampaignScheduled, models.CampaignSending); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				logger.Info("campaign left scheduled state underneath the job, skipping")
				return d.queue.MarkCancelled(ctx, job)
			}
			return err
		}
	case models.CampaignSending:
		// send-now path: scheduler already transitioned
	default:
		return fmt.Errorf("campaign %s in unexpected status %q", c.ID, c.Status)
	}

	// At most one dispatch per campaign at a time
	if !d.acquire(c.ID) {
		return fmt.Errorf("dispatch already running for campaign %s", c.ID)
	}
	defer d.release(c.ID)

	return d.dispatch(ctx, job, c, logger)
}

func (d *CampaignDispatcher) dispatch(ctx context.Context, job *queue.Job, c *models.Campaign, logger *slog.Logger) error {
	// Recipients are resolved at dispatch time, not at scheduling time
	targets, err := d.resolver.Resolve(c.Filter, time.Now())
	if err != nil {
		d.finalize(c.ID, models.CampaignStats{}, err.Error(), logger)
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}

	if len(targets) == 0 {
		d.finalize(c.ID, models.CampaignStats{}, ErrNoRecipients.Error(), logger)
		return ErrNoRecipients
	}

	// Pending rows are written in resolution order before any send, so the
	// delivery log pages in a reproducible order
	for _, t := range targets {
		if err := d.logs.RecordOutcome(c.ID, t.ID, t.Email, models.SendLogPending, ""); err != nil {
			d.finalize(c.ID, models.CampaignStats{}, err.Error(), logger)
			return fmt.Errorf("failed to seed send log: %w", err)
		}
	}
	if err := d.campaigns.UpdateStats(c.ID, models.CampaignStats{TotalRecipients: len(targets)}); err != nil {
		logger.Error("failed to record recipient total", "error", err)
	}

	logger.Info("dispatch started", "recipients", len(targets))

	sem := make(chan struct{}, d.cfg.Concurrency)
	var wg sync.WaitGroup
	var progressMu sync.Mutex
	processed := 0
	cancelled := false

	for _, t := range targets {
		// Cooperative cancellation point between recipients
		if d.queue.Cancelling(ctx, job.ID) {
			cancelled = true
			break
		}
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		sem <- struct{}{}
		wg.Add(1)

		go func(t models.Recipient) {
			defer func() {
				<-sem
				wg.Done()
			}()

			d.sendOne(ctx, c, t, logger)

			progressMu.Lock()
			processed++
			d.queue.SetProgress(ctx, job, processed*100/len(targets))
			progressMu.Unlock()
		}(t)
	}

	wg.Wait()

	if cancelled {
		// Recipients never attempted get a terminal failed row so the log
		// stays one terminal row per recipient and the stats add up
		unattempted, _, err := d.logs.List(models.SendLogFilter{CampaignID: c.ID, Status: models.SendLogPending})
		if err == nil {
			for _, log := range unattempted {
				d.logs.RecordOutcome(c.ID, log.MemberID, log.Email, models.SendLogFailed, "cancelled before send")
			}
		}
	}

	stats, errMsg := d.collectStats(c.ID, len(targets))
	d.finalize(c.ID, stats, errMsg, logger)

	if cancelled {
		logger.Info("dispatch cancelled", "sent", stats.Sent, "failed", stats.Failed)
		return d.queue.MarkCancelled(ctx, job)
	}

	logger.Info("dispatch finished", "sent", stats.Sent, "failed", stats.Failed)
	if stats.Sent == 0 {
		return fmt.Errorf("all %d sends failed", stats.TotalRecipients)
	}
	return nil
}

// sendOne renders and delivers to a single recipient. A failure here is
// isolated: it becomes one failed log row and never aborts the batch.
func (d *CampaignDispatcher) sendOne(ctx context.Context, c *models.Campaign, t models.Recipient, logger *slog.Logger) {
	vars := t.Vars()
	req := &mailer.SendRequest{
		From:    formatFrom(d.fromEmail, d.fromName),
		To:      t.Email,
		Subject: render.Render(c.Subject, vars),
		HTML:    render.Render(c.HTMLContent, vars),
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		_, err := d.mailer.Send(sendCtx, req)
		cancel()

		if err == nil {
			if err := d.logs.RecordOutcome(c.ID, t.ID, t.Email, models.SendLogSent, ""); err != nil {
				logger.Error("failed to record outcome", "member_id", t.ID, "error", err)
			}
			return
		}

		lastErr = err
		if !mailer.IsTemporary(err) {
			break
		}
		logger.Debug("send attempt failed", "member_id", t.ID, "attempt", attempt, "error", err)
	}

	if err := d.logs.RecordOutcome(c.ID, t.ID, t.Email, models.SendLogFailed, lastErr.Error()); err != nil {
		logger.Error("failed to record outcome", "member_id", t.ID, "error", err)
	}
}

// collectStats aggregates campaign stats from the send log rows
func (d *CampaignDispatcher) collectStats(campaignID string, total int) (models.CampaignStats, string) {
	agg, err := d.logs.Stats(campaignID)
	if err != nil {
		return models.CampaignStats{TotalRecipients: total}, err.Error()
	}

	stats := models.CampaignStats{
		TotalRecipients: agg.Total,
		Sent:            agg.Sent + agg.Delivered,
		Delivered:       agg.Delivered,
		Failed:          agg.Failed,
	}

	errMsg := ""
	if stats.Sent == 0 {
		errMsg = "all sends failed"
	}
	return stats, errMsg
}

// finalize moves the campaign to its terminal status. Best effort: sent if
// at least one recipient got mail, failed only when nobody did.
func (d *CampaignDispatcher) finalize(campaignID string, stats models.CampaignStats, errMsg string, logger *slog.Logger) {
	status := models.CampaignSent
	if stats.Sent == 0 {
		status = models.CampaignFailed
	}

	if err := d.campaigns.Finalize(campaignID, status, stats, errMsg); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			logger.Warn("campaign already finalized", "campaign_id", campaignID)
			return
		}
		logger.Error("failed to finalize campaign", "campaign_id", campaignID, "error", err)
	}
}

func (d *CampaignDispatcher) acquire(campaignID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active[campaignID] {
		return false
	}
	d.active[campaignID] = true
	return true
}

func (d *CampaignDispatcher) release(campaignID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, campaignID)
}

func formatFrom(email, name string) string {
	if name == "" {
		return email
	}
	return name + " <" + email + ">"
}
