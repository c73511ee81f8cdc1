// Package metrics exposes Prometheus collectors for extraction, lifecycle and delivery.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded for provider attempts.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Delivery sources recorded for served files.
const (
	DeliveryMedia       = "media"
	DeliveryCache       = "cache"
	DeliveryPlaceholder = "placeholder"
)

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	providerAttempts *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	transitions      *prometheus.CounterVec
	fetchedBytes     prometheus.Counter
	deliveries       *prometheus.CounterVec
	queueWait        prometheus.Histogram
}

// New registers the collectors on reg under the tokgrab_ prefix.
func New(reg prometheus.Registerer) *Metrics {
	reg = prometheus.WrapRegistererWithPrefix("tokgrab_", reg)
	f := promauto.With(reg)

	return &Metrics{
		providerAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_attempts_total",
			Help: "Extraction attempts per provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_duration_seconds",
			Help:    "Time spent in a single provider attempt.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"provider"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "download_transitions_total",
			Help: "Committed download lifecycle transitions by target status.",
		}, []string{"status"}),
		fetchedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "media_fetched_bytes_total",
			Help: "Bytes fetched from upstream media hosts.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Files served by source.",
		}, []string{"source"}),
		queueWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_queue_wait_seconds",
			Help:    "Time a download job waited before a worker picked it up.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

// ProviderAttempt records one provider call.
func (m *Metrics) ProviderAttempt(provider, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerAttempts.WithLabelValues(provider, outcome).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(took.Seconds())
}

// Transition records a committed lifecycle transition.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}

// Fetched records bytes pulled from an upstream host.
func (m *Metrics) Fetched(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.fetchedBytes.Add(float64(n))
}

// Delivered records a served file by source.
func (m *Metrics) Delivered(source string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(source).Inc()
}

// QueueWait records how long a job waited for a worker.
func (m *Metrics) QueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.queueWait.Observe(d.Seconds())
}
