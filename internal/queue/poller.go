package queue

import (
	"context"
	"sync"
	"time"
)

// Poll subscription defaults. Subscriptions auto-unsubscribe after the TTL
// so a stuck job cannot leak a polling goroutine forever.
const (
	DefaultPollInterval = 2 * time.Second
	PollTTL             = 10 * time.Minute
)

// PollHandlers receive job updates from a poll subscription
type PollHandlers struct {
	OnUpdate   func(job *Job)       // called when progress or status changed
	OnTerminal func(job *Job)       // called once when the job reaches a terminal state
	OnError    func(err error)      // called on lookup errors; polling continues
}

// Poll subscribes to updates of one job. It returns a stop function that
// must be called to unsubscribe early; otherwise the subscription ends when
// the job reaches a terminal state or the TTL expires.
func (q *Queue) Poll(jobID string, interval time.Duration, handlers PollHandlers) (stop func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(context.Background(), PollTTL)

	go func() {
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var lastStatus JobStatus
		lastProgress := -1

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := q.Get(ctx, jobID)
				if err != nil {
					if handlers.OnError != nil {
						handlers.OnError(err)
					}
					continue
				}
				if job == nil {
					if handlers.OnError != nil {
						handlers.OnError(ErrJobNotFound)
					}
					return
				}

				if job.Status != lastStatus || job.Progress != lastProgress {
					lastStatus = job.Status
					lastProgress = job.Progress
					if handlers.OnUpdate != nil {
						handlers.OnUpdate(job)
					}
				}

				if job.Status.Terminal() {
					if handlers.OnTerminal != nil {
						handlers.OnTerminal(job)
					}
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}
