// Package metrics exposes Prometheus metrics for the registry.
package metrics

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "substation"

// NewRegistry creates a Prometheus registry with the Go and process
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// RegisterDB exports connection pool statistics for db.
func RegisterDB(reg prometheus.Registerer, db *sql.DB) {
	reg.MustRegister(collectors.NewDBStatsCollector(db, namespace))
}

// Handler returns the HTTP handler serving reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the registry's own metrics.
type AppMetrics struct {
	Transitions      *prometheus.CounterVec   // labels: from, to, event
	LogEntries       *prometheus.CounterVec   // labels: severity
	HTTPRequests     *prometheus.CounterVec   // labels: method, route, code
	HTTPDuration     *prometheus.HistogramVec // labels: method, route
	WebSocketClients prometheus.Gauge
	Logins           *prometheus.CounterVec // labels: outcome
}

// NewAppMetrics registers and returns the registry metrics.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ied_transitions_total",
			Help:      "Applied connection state transitions.",
		}, []string{"from", "to", "event"}),
		LogEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_log_entries_total",
			Help:      "Event log entries appended, by severity.",
		}, []string{"severity"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_logins_total",
			Help:      "Login attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Transitions, m.LogEntries, m.HTTPRequests, m.HTTPDuration, m.WebSocketClients, m.Logins)
	return m
}

// Sources supplies values read at scrape time. Nil functions are skipped.
type Sources struct {
	// DeviceCounts returns the number of devices per status.
	DeviceCounts func() map[string]int

	// Statuses lists every status so idle ones still export zero.
	Statuses []string

	// SinkFailures returns the number of failed event log sink writes.
	SinkFailures func() int64

	// HeartbeatsDropped returns the number of heartbeats lost to a full queue.
	HeartbeatsDropped func() int64

	// TelemetryDropped returns the number of telemetry deliveries lost to
	// a full queue.
	TelemetryDropped func() int64
}

// RegisterSources registers scrape-time gauges and counters.
func RegisterSources(reg prometheus.Registerer, src Sources) {
	if src.DeviceCounts != nil {
		reg.MustRegister(&deviceCollector{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "ied_devices"),
				"Registered devices by connection status.",
				[]string{"status"}, nil,
			),
			counts:   src.DeviceCounts,
			statuses: src.Statuses,
		})
	}
	if src.SinkFailures != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_log_sink_failures_total",
			Help:      "Event log entries the persistent sink failed to store.",
		}, func() float64 { return float64(src.SinkFailures()) }))
	}
	if src.HeartbeatsDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_dropped_total",
			Help:      "Heartbeats discarded because the queue was full.",
		}, func() float64 { return float64(src.HeartbeatsDropped()) }))
	}
	if src.TelemetryDropped != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_dropped_total",
			Help:      "Telemetry deliveries discarded because the queue was full.",
		}, func() float64 { return float64(src.TelemetryDropped()) }))
	}
}

// deviceCollector reads device counts from the registry at scrape time.
type deviceCollector struct {
	desc     *prometheus.Desc
	counts   func() map[string]int
	statuses []string
}

func (c *deviceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *deviceCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.counts()
	seen := make(map[string]bool, len(counts))
	for _, s := range c.statuses {
		seen[s] = true
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(counts[s]), s)
	}
	for s, n := range counts {
		if !seen[s] {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), s)
		}
	}
}
