package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrNotCancellable = errors.New("job is not cancellable")
)

// Queue is the job queue API used by the scheduler, the dispatch workers and
// the importer
type Queue struct {
	storage *BoltStorage
}

func New(storage *BoltStorage) *Queue {
	return &Queue{storage: storage}
}

// Enqueue creates a job. A zero delay makes it waiting immediately; a
// positive delay parks it as delayed until the run time arrives.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any, delay time.Duration) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    StatusWaiting,
		Payload:   data,
		RunAt:     now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if delay > 0 {
		job.Status = StatusDelayed
		job.RunAt = now.Add(delay)
	}

	if err := q.storage.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns a job by ID, or nil if it does not exist
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.storage.Get(ctx, id)
}

// Claim takes the next claimable job for a worker
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	return q.storage.Claim(ctx)
}

// Cancel cancels a waiting or delayed job, or raises the cooperative flag on
// an active one
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.storage.Cancel(ctx, id)
}

// Cancelling reports whether cancellation has been requested for a job.
// Workers call this between recipients as their cooperative check point.
func (q *Queue) Cancelling(ctx context.Context, id string) bool {
	job, err := q.storage.Get(ctx, id)
	if err != nil || job == nil {
		return false
	}
	return job.Cancelling || job.Status == StatusCancelled
}

// SetProgress updates an active job's progress (0-100)
func (q *Queue) SetProgress(ctx context.Context, job *Job, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	return q.storage.Update(ctx, job)
}

// Complete finalizes a job as completed with an optional result
func (q *Queue) Complete(ctx context.Context, job *Job, result string) error {
	job.Status = StatusCompleted
	job.Progress = 100
	job.Result = result
	return q.storage.Update(ctx, job)
}

// Fail finalizes a job as failed with an error message
func (q *Queue) Fail(ctx context.Context, job *Job, errMsg string) error {
	job.Status = StatusFailed
	job.Error = errMsg
	return q.storage.Update(ctx, job)
}

// MarkCancelled finalizes an active job whose worker stopped on the
// cooperative cancel flag
func (q *Queue) MarkCancelled(ctx context.Context, job *Job) error {
	job.Status = StatusCancelled
	return q.storage.Update(ctx, job)
}

// Stats returns queue counts by state
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	return q.storage.Stats(ctx)
}

// List returns jobs sorted newest first
func (q *Queue) List(ctx context.Context, limit int) ([]*Job, error) {
	return q.storage.List(ctx, limit)
}
