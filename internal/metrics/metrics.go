// Package metrics exposes Prometheus instruments for the monitor. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vpnwatch"

// Notification results.
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped" // message could not be rendered
)

type Collector struct {
	registry *prometheus.Registry

	polls             prometheus.Counter
	pollFailures      prometheus.Counter
	transitions       *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	notifyDuration    prometheus.Histogram
	connectedSessions prometheus.Gauge
	mappingEntries    prometheus.Gauge
	feedHealthy       prometheus.Gauge
}

// New registers all instruments on a private registry together with the
// Go runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		polls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Number of status feed polls.",
		}),
		pollFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Number of polls where the status feed could not be read.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session transitions detected, by type.",
		}, []string{"type"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts, by result.",
		}, []string{"result"}),
		notifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_duration_seconds",
			Help:      "Time spent delivering a single notification.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		connectedSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sessions",
			Help:      "Sessions present in the latest successful snapshot.",
		}),
		mappingEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mapping_entries",
			Help:      "Entries loaded from the identity mapping store.",
		}),
		feedHealthy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_healthy",
			Help:      "1 when the last poll read the status feed, 0 otherwise.",
		}),
	}
}

// ObservePoll records one poll. connected is only used when ok is true.
func (c *Collector) ObservePoll(ok bool, connected int) {
	if c == nil {
		return
	}
	c.polls.Inc()
	if !ok {
		c.pollFailures.Inc()
		c.feedHealthy.Set(0)
		return
	}
	c.feedHealthy.Set(1)
	c.connectedSessions.Set(float64(connected))
}

func (c *Collector) ObserveTransition(kind string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(kind).Inc()
}

func (c *Collector) ObserveNotification(result string, took time.Duration) {
	if c == nil {
		return
	}
	c.notifications.WithLabelValues(result).Inc()
	if result != ResultSkipped {
		c.notifyDuration.Observe(took.Seconds())
	}
}

func (c *Collector) SetMappingEntries(n int) {
	if c == nil {
		return
	}
	c.mappingEntries.Set(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
