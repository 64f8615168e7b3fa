// Package scheduler owns the campaign state machine. It validates
// preconditions and enqueues or cancels dispatch jobs; the actual sending
// happens in the dispatch workers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithflow/mailroom/internal/models"
	"github.com/faithflow/mailroom/internal/queue"
	"github.com/faithflow/mailroom/internal/repository"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrAlreadyDispatched is returned when a campaign already has a
	// dispatch in flight; at most one dispatch job per campaign
	ErrAlreadyDispatched = errors.New("campaign already has an active dispatch")
)

// ValidationError rejects a transition synchronously; no job is created
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// StateError is returned for transitions the state machine does not define
type StateError struct {
	Status models.CampaignStatus
	Action string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s campaign in status %q", e.Action, e.Status)
}

// Scheduler transitions campaigns between lifecycle states
type Scheduler struct {
	campaigns *repository.CampaignRepository
	queue     *queue.Queue
	logger    *slog.Logger
}

func New(campaigns *repository.CampaignRepository, q *queue.Queue, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		queue:     q,
		logger:    logger.With("component", "scheduler"),
	}
}

// SendNow transitions a draft campaign to sending and enqueues an undelayed
// dispatch job
func (s *Scheduler) SendNow(ctx context.Context, campaignID string) (*queue.Job, error) {
	c, err := s.precheck(campaignID)
	if err != nil {
		return nil, err
	}

	// The status guard in the UPDATE is the mutual exclusion: a second
	// send attempt no longer finds the campaign in draft and loses.
	if err := s.campaigns.Transition(campaignID, models.CampaignDraft, models.CampaignSending); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, s.dispatchConflict(c)
		}
		return nil, err
	}

	job, err := s.queue.Enqueue(ctx, queue.TypeCampaignDispatch, queue.CampaignDispatchPayload{CampaignID: campaignID}, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}
	if err := s.campaigns.SetJob(campaignID, job.ID); err != nil {
		return nil, err
	}

	s.logger.Info("campaign dispatch enqueued", "campaign_id", campaignID, "job_id", job.ID)
	return job, nil
}

// Schedule transitions a draft campaign to scheduled and enqueues a delayed
// dispatch job for the given time, which must be in the future
func (s *Scheduler) Schedule(ctx context.Context, campaignID string, at time.Time) (*queue.Job, error) {
	c, err := s.precheck(campaignID)
	if err != nil {
		return nil, err
	}

	delay := time.Until(at)
	if delay <= 0 {
		return nil, &ValidationError{Msg: "scheduled_at must be in the future"}
	}

	if err := s.campaigns.Schedule(campaignID, at); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, s.dispatchConflict(c)
		}
		return nil, err
	}

	job, err := s.queue.Enqueue(ctx, queue.TypeCampaignDispatch, queue.CampaignDispatchPayload{CampaignID: campaignID}, delay)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}
	if err := s.campaigns.SetJob(campaignID, job.ID); err != nil {
		return nil, err
	}

	s.logger.Info("campaign scheduled", "campaign_id", campaignID, "job_id", job.ID, "scheduled_at", at)
	return job, nil
}

// Cancel cancels a scheduled campaign before its job is claimed, or raises
// the cooperative cancel flag for a sending one. Already-sent log rows are
// never rolled back.
func (s *Scheduler) Cancel(ctx context.Context, campaignID string) error {
	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrCampaignNotFound
	}

	switch c.Status {
	case models.CampaignScheduled:
		if c.JobID != "" {
			err := s.queue.Cancel(ctx, c.JobID)
			if err != nil && !errors.Is(err, queue.ErrJobNotFound) && !errors.Is(err, queue.ErrNotCancellable) {
				return err
			}
		}
		if err := s.campaigns.Transition(campaignID, models.CampaignScheduled, models.CampaignCancelled); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				// The worker claimed the job first; fall back to cooperative cancel
				return s.Cancel(ctx, campaignID)
			}
			return err
		}
		s.logger.Info("scheduled campaign cancelled", "campaign_id", campaignID)
		return nil

	case models.CampaignSending:
		if c.JobID == "" {
			return &StateError{Status: c.Status, Action: "cancel"}
		}
		if err := s.queue.Cancel(ctx, c.JobID); err != nil && !errors.Is(err, queue.ErrNotCancellable) {
			return err
		}
		s.logger.Info("cooperative cancel requested", "campaign_id", campaignID, "job_id", c.JobID)
		return nil

	default:
		return &StateError{Status: c.Status, Action: "cancel"}
	}
}

// precheck loads the campaign and enforces the preconditions shared by
// send-now and schedule. Violations fail synchronously; no job is created.
func (s *Scheduler) precheck(campaignID string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCampaignNotFound
	}

	if c.Subject == "" {
		return nil, &ValidationError{Msg: "campaign subject is empty"}
	}
	if c.HTMLContent == "" {
		return nil, &ValidationError{Msg: "campaign body is empty"}
	}
	if err := c.Filter.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	if c.Status != models.CampaignDraft {
		return nil, s.dispatchConflict(c)
	}

	return c, nil
}

func (s *Scheduler) dispatchConflict(c *models.Campaign) error {
	if c.Status == models.CampaignScheduled || c.Status == models.CampaignSending {
		return ErrAlreadyDispatched
	}
	return &StateError{Status: c.Status, Action: "dispatch"}
}
