package metrics

import "github.com/prometheus/client_golang/prometheus"

// Option configures a Recorder.
type Option func(*Recorder)

// WithNamespace sets the metric namespace.
func WithNamespace(namespace string) Option {
	return func(r *Recorder) {
		if namespace != "" {
			r.namespace = namespace
		}
	}
}

// WithLatencyBuckets overrides the latency histogram buckets, in seconds.
func WithLatencyBuckets(buckets []float64) Option {
	return func(r *Recorder) {
		if len(buckets) > 0 {
			r.latencyBuckets = buckets
		}
	}
}

// WithRegistry registers collectors with registry instead of the default one.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(r *Recorder) {
		if registry != nil {
			r.registry = registry
		}
	}
}
