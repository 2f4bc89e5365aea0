// Package metrics holds the Prometheus collectors for the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracksrv"

// Metrics is a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	StreamRequests   *prometheus.CounterVec
	StreamBytes      prometheus.Counter
	StreamDuration   prometheus.Histogram
	Uploads          *prometheus.CounterVec
	AnalysisRuns     *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	AnalysisQueue    prometheus.Gauge
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_requests_total",
			Help:      "Audio stream requests by response status.",
		}, []string{"status"}),
		StreamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Audio body bytes written to clients.",
		}),
		StreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Time spent writing an audio response.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Song uploads by result.",
		}, []string{"result"}),
		AnalysisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_runs_total",
			Help:      "Background analyses by outcome.",
		}, []string{"outcome"}),
		AnalysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time to decode and analyze one file.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		AnalysisQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_queue_depth",
			Help:      "Jobs waiting for an analysis worker.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StreamRequests,
		m.StreamBytes,
		m.StreamDuration,
		m.Uploads,
		m.AnalysisRuns,
		m.AnalysisDuration,
		m.AnalysisQueue,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStream records one finished audio response.
func (m *Metrics) ObserveStream(status string, bytes int64, elapsed time.Duration) {
	m.StreamRequests.WithLabelValues(status).Inc()
	if bytes > 0 {
		m.StreamBytes.Add(float64(bytes))
	}
	m.StreamDuration.Observe(elapsed.Seconds())
}

// ObserveAnalysis records one finished background analysis.
func (m *Metrics) ObserveAnalysis(outcome string, elapsed time.Duration) {
	m.AnalysisRuns.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.AnalysisDuration.Observe(elapsed.Seconds())
	}
}

// SetQueueDepth reports the analysis backlog.
func (m *Metrics) SetQueueDepth(n int) {
	m.AnalysisQueue.Set(float64(n))
}
