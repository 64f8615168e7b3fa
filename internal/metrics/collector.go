package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/faithflow/mailroom/internal/queue"
)

// Collector periodically flushes queue and delivery state into the gauges.
// Counts always come from the stores, so the metrics cannot drift from the
// actual log the way in-memory counters could.
type Collector struct {
	metrics   *Metrics
	queue     *queue.Queue
	db        *sql.DB
	interval  time.Duration
	logger    *slog.Logger
	startTime time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCollector(m *Metrics, q *queue.Queue, db *sql.DB, interval time.Duration, logger *slog.Logger) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		metrics:   m,
		queue:     q,
		db:        db,
		interval:  interval,
		logger:    logger.With("component", "metrics"),
		startTime: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the collection loop
func (c *Collector) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop stops the collection loop
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.flush()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Collector) flush() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	stats, err := c.queue.Stats(context.Background())
	if err != nil {
		c.logger.Error("failed to collect queue stats", "error", err)
	} else {
		c.metrics.QueueDelayed.Set(float64(stats.Delayed))
		c.metrics.QueueWaiting.Set(float64(stats.Waiting))
		c.metrics.QueueActive.Set(float64(stats.Active))
		c.metrics.QueueCompleted.Set(float64(stats.Completed))
		c.metrics.QueueFailed.Set(float64(stats.Failed))
	}

	c.flushGrouped("SELECT status, COUNT(*) FROM email_campaigns GROUP BY status", c.metrics.CampaignsByStatus)
	c.flushGrouped("SELECT status, COUNT(*) FROM email_send_logs GROUP BY status", c.metrics.SendLogsByStatus)
}

func (c *Collector) flushGrouped(query string, vec *prometheus.GaugeVec) {
	rows, err := c.db.Query(query)
	if err != nil {
		c.logger.Error("failed to collect counts", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		vec.WithLabelValues(status).Set(float64(count))
	}
}
