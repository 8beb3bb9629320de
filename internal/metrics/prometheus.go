// Package metrics exposes connectivity state to Prometheus and summarises
// probe history.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"connkeeper/internal/connectivity"
	"connkeeper/internal/models"
)

const metricsNamespace = "connkeeper"

var allStatuses = []models.NetworkStatus{
	models.StatusOnline,
	models.StatusOffline,
	models.StatusReconnecting,
}

// Collector implements connectivity.Observer on its own registry.
type Collector struct {
	registry *prometheus.Registry

	// Status is 1 for the current status label and 0 for the others.
	Status            *prometheus.GaugeVec
	OfflineMinutes    prometheus.Gauge
	ReconnectAttempts prometheus.Gauge
	DegradationLevel  prometheus.Gauge

	// ProbesTotal counts probes by result (ok, no-network, server-unreachable).
	ProbesTotal *prometheus.CounterVec
	// TransitionsTotal counts status transitions.
	TransitionsTotal *prometheus.CounterVec
	ProbeDuration    prometheus.Histogram
}

var _ connectivity.Observer = (*Collector)(nil)

// NewCollector creates the connectivity metrics and registers them together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		Status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "status",
			Help:      "Current connectivity status (1 for the active status)",
		}, []string{"status"}),
		OfflineMinutes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "offline_minutes",
			Help:      "Minutes spent offline in the current outage",
		}),
		ReconnectAttempts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "reconnect_attempts",
			Help:      "Automatic reconnect attempts in the current outage",
		}),
		DegradationLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "degradation_level",
			Help:      "Feature degradation level (0 none, 1 partial, 2 full)",
		}),
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "probes_total",
			Help:      "Reachability probes by result",
		}, []string{"result"}),
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "Connectivity status transitions",
		}, []string{"from", "to"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of reachability probes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}),
	}
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ProbeFinished implements connectivity.Observer.
func (c *Collector) ProbeFinished(res models.ProbeResult, took time.Duration) {
	result := "ok"
	if !res.OK {
		result = string(res.Reason)
		if result == "" {
			result = "failed"
		}
	}
	c.ProbesTotal.WithLabelValues(result).Inc()
	c.ProbeDuration.Observe(took.Seconds())
}

// StatusChanged implements connectivity.Observer.
func (c *Collector) StatusChanged(from, to models.NetworkStatus) {
	c.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// SnapshotUpdated implements connectivity.Observer.
func (c *Collector) SnapshotUpdated(view connectivity.View) {
	for _, s := range allStatuses {
		value := 0.0
		if s == view.Status {
			value = 1
		}
		c.Status.WithLabelValues(string(s)).Set(value)
	}
	c.OfflineMinutes.Set(float64(view.OfflineMinutes))
	c.ReconnectAttempts.Set(float64(view.ReconnectAttempts))
	c.DegradationLevel.Set(float64(view.Level))
}
