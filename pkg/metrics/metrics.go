// Package metrics collects Prometheus metrics for the daemon and serves
// them over HTTP when enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's instruments and their registry.
// A nil *Metrics disables collection; all record methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	downloadsTotal     *prometheus.CounterVec
	piecesTotal        *prometheus.CounterVec
	proxyRequestsTotal prometheus.Counter
	gcRunsTotal        prometheus.Counter
	gcEvictedTotal     prometheus.Counter
	announcementsTotal *prometheus.CounterVec
}

// New creates a registry with the daemon's instruments plus the standard
// process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		downloadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_downloads_total",
				Help: "Total download tasks by result",
			},
			[]string{"result"}, // "success", "failure", "cache_hit"
		),
		piecesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_pieces_total",
				Help: "Total pieces fetched by source",
			},
			[]string{"source"}, // "peer", "origin"
		),
		proxyRequestsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "peerd_proxy_requests_total",
				Help: "Total requests served by the HTTP proxy",
			},
		),
		gcRunsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "peerd_gc_runs_total",
				Help: "Total garbage collection runs",
			},
		),
		gcEvictedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "peerd_gc_evicted_tasks_total",
				Help: "Total tasks evicted by garbage collection",
			},
		),
		announcementsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerd_announcements_total",
				Help: "Total host announcements by target and result",
			},
			[]string{"target", "result"}, // target: "manager", "scheduler"
		),
	}
}

// Registry exposes the registry for the metrics HTTP server.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDownload records a finished download task.
func (m *Metrics) RecordDownload(result string) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(result).Inc()
}

// RecordPiece records one fetched piece by source.
func (m *Metrics) RecordPiece(source string) {
	if m == nil {
		return
	}
	m.piecesTotal.WithLabelValues(source).Inc()
}

// RecordProxyRequest records one proxied request.
func (m *Metrics) RecordProxyRequest() {
	if m == nil {
		return
	}
	m.proxyRequestsTotal.Inc()
}

// RecordGCRun records one collector pass and how many tasks it evicted.
func (m *Metrics) RecordGCRun(evicted int) {
	if m == nil {
		return
	}
	m.gcRunsTotal.Inc()
	m.gcEvictedTotal.Add(float64(evicted))
}

// RecordAnnouncement records one announcement attempt.
func (m *Metrics) RecordAnnouncement(target, result string) {
	if m == nil {
		return
	}
	m.announcementsTotal.WithLabelValues(target, result).Inc()
}
