// Package dispatch drains the job queue. Each claimed job is processed by
// exactly one worker end to end; a campaign's recipient list is never split
// across workers.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/faithflow/mailroom/internal/queue"
)

// Handler processes one claimed job. Handlers own the domain-side
// finalization (campaign or import state); the pool finalizes the job
// itself from the returned error.
type Handler func(ctx context.Context, job *queue.Job) error

// PoolConfig contains worker pool configuration
type PoolConfig struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      2,
		PollInterval: 2 * time.Second,
	}
}

// Pool runs N workers that claim jobs and route them to registered handlers
type Pool struct {
	queue    *queue.Queue
	handlers map[queue.JobType]Handler
	cfg      PoolConfig
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(q *queue.Queue, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:    q,
		handlers: make(map[queue.JobType]Handler),
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (p *Pool) Register(jobType queue.JobType, h Handler) {
	p.handlers[jobType] = h
}

// Start starts the workers
func (p *Pool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("dispatch pool started", "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval)
}

// Stop stops the workers gracefully
func (p *Pool) Stop() {
	p.logger.Info("stopping dispatch pool...")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("dispatch pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.processOne(logger)
		}
	}
}

func (p *Pool) processOne(logger *slog.Logger) {
	for {
		job, err := p.queue.Claim(p.ctx)
		if err != nil {
			logger.Error("failed to claim job", "error", err)
			return
		}
		if job == nil {
			return // queue drained
		}

		logger := logger.With("job_id", job.ID, "job_type", job.Type)

		handler, ok := p.handlers[job.Type]
		if !ok {
			logger.Error("no handler for job type")
			p.queue.Fail(p.ctx, job, "no handler for job type "+string(job.Type))
			continue
		}

		logger.Info("job claimed")
		start := time.Now()

		if err := handler(p.ctx, job); err != nil {
			logger.Warn("job failed", "error", err, "duration", time.Since(start))
			p.queue.Fail(p.ctx, job, err.Error())
			continue
		}

		// Handlers may finalize the job themselves (e.g. cancelled)
		current, err := p.queue.Get(p.ctx, job.ID)
		if err == nil && current != nil && !current.Status.Terminal() {
			p.queue.Complete(p.ctx, current, job.Result)
		}

		logger.Info("job done", "duration", time.Since(start))

		select {
		case <-p.ctx.Done():
			return
		default:
		}
	}
}
