// Package metrics exposes Prometheus collectors for the pricing pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultNamespace = "hh_pricer"

// Source fetch outcomes.
const (
	SourceOK      = "ok"
	SourceEmpty   = "empty"
	SourceError   = "error"
	SourceTimeout = "timeout"
)

// Recorder holds the pipeline collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	namespace      string
	latencyBuckets []float64
	registry       prometheus.Registerer

	requests      *prometheus.CounterVec
	requestTime   prometheus.Histogram
	stageTime     *prometheus.HistogramVec
	sources       *prometheus.CounterVec
	verifications *prometheus.CounterVec
	confidence    prometheus.Histogram
	indexRoles    prometheus.Gauge
	reloads       *prometheus.CounterVec
}

func New(opts ...Option) *Recorder {
	r := &Recorder{
		namespace:      defaultNamespace,
		latencyBuckets: prometheus.DefBuckets,
		registry:       prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(r)
	}

	factory := promauto.With(r.registry)

	r.requests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "requests_total",
		Help:      "Pricing requests by final status.",
	}, []string{"status"})
	r.requestTime = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "request_duration_seconds",
		Help:      "End-to-end pricing latency.",
		Buckets:   r.latencyBuckets,
	})
	r.stageTime = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "stage_duration_seconds",
		Help:      "Latency of pipeline stages.",
		Buckets:   r.latencyBuckets,
	}, []string{"stage"})
	r.sources = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "source_fetches_total",
		Help:      "Source fetches by source and outcome.",
	}, []string{"source", "outcome"})
	r.verifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "verifications_total",
		Help:      "Role match verification outcomes.",
	}, []string{"outcome"})
	r.confidence = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      "confidence",
		Help:      "Confidence score of produced results.",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
	r.indexRoles = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      "index_roles",
		Help:      "Canonical roles in the active candidate index.",
	})
	r.reloads = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      "taxonomy_reloads_total",
		Help:      "Taxonomy reload attempts by result.",
	}, []string{"result"})

	return r
}

func (r *Recorder) ObserveRequest(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(status).Inc()
	r.requestTime.Observe(d.Seconds())
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageTime.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) ObserveSource(sourceID, outcome string) {
	if r == nil {
		return
	}
	r.sources.WithLabelValues(sourceID, outcome).Inc()
}

func (r *Recorder) ObserveVerification(outcome string) {
	if r == nil {
		return
	}
	r.verifications.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveConfidence(v float64) {
	if r == nil {
		return
	}
	r.confidence.Observe(v)
}

func (r *Recorder) SetIndexRoles(n int) {
	if r == nil {
		return
	}
	r.indexRoles.Set(float64(n))
}

func (r *Recorder) ObserveReload(err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.reloads.WithLabelValues(result).Inc()
}
