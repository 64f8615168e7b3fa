// Package metrics exposes Prometheus metrics for the delivery engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for Mailroom
type Metrics struct {
	// Queue gauges, by job state
	QueueDelayed   prometheus.Gauge
	QueueWaiting   prometheus.Gauge
	QueueActive    prometheus.Gauge
	QueueCompleted prometheus.Gauge
	QueueFailed    prometheus.Gauge

	// Delivery gauges, flushed from the send log
	CampaignsByStatus *prometheus.GaugeVec
	SendLogsByStatus  *prometheus.GaugeVec

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		QueueDelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_queue_delayed",
			Help: "Number of delayed jobs in the queue",
		}),
		QueueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_queue_waiting",
			Help: "Number of waiting jobs in the queue",
		}),
		QueueActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_queue_active",
			Help: "Number of active jobs in the queue",
		}),
		QueueCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_queue_completed",
			Help: "Number of completed jobs in the queue",
		}),
		QueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_queue_failed",
			Help: "Number of failed jobs in the queue",
		}),

		CampaignsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailroom_campaigns",
				Help: "Number of campaigns by status",
			},
			[]string{"status"},
		),
		SendLogsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailroom_send_logs",
				Help: "Number of send log rows by status",
			},
			[]string{"status"},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_uptime_seconds",
			Help: "Process uptime in seconds",
		}),
		Goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailroom_goroutines",
			Help: "Number of goroutines",
		}),

		registry: reg,
	}

	reg.MustRegister(
		m.QueueDelayed, m.QueueWaiting, m.QueueActive, m.QueueCompleted, m.QueueFailed,
		m.CampaignsByStatus, m.SendLogsByStatus,
		m.APIRequestsTotal, m.APIRequestDurationSeconds,
		m.UptimeSeconds, m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
