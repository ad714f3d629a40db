package nlp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inference outcomes recorded in hana_inference_requests_total.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeEmpty   = "empty"
)

// Metrics holds the Prometheus collectors for the inference guard. A nil
// *Metrics records nothing.
type Metrics struct {
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CacheEvictions    prometheus.Counter
	Throttled         prometheus.Counter
	InferenceRequests *prometheus.CounterVec
	InferenceLatency  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hana", Subsystem: "response_cache", Name: "hits_total",
			Help: "Replies served from the response cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hana", Subsystem: "response_cache", Name: "misses_total",
			Help: "Response cache lookups that fell through to inference.",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hana", Subsystem: "response_cache", Name: "evictions_total",
			Help: "Entries evicted from the response cache by the LRU bound.",
		}),
		Throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hana", Subsystem: "rate_limiter", Name: "throttled_total",
			Help: "Requests rejected by the per-requester rate limiter.",
		}),
		InferenceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hana", Subsystem: "inference", Name: "requests_total",
			Help: "Inference calls by outcome.",
		}, []string{"outcome"}),
		InferenceLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "hana", Subsystem: "inference", Name: "duration_seconds",
			Help:    "Wall-clock duration of inference calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		}),
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) cacheEviction() {
	if m != nil {
		m.CacheEvictions.Inc()
	}
}

func (m *Metrics) throttled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

// ObserveInference records one inference call.
func (m *Metrics) ObserveInference(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.InferenceRequests.WithLabelValues(outcome).Inc()
	m.InferenceLatency.Observe(took.Seconds())
}
