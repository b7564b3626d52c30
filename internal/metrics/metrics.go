// Package metrics exposes Prometheus metrics for the answer pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/hyperjump/nyaya/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nyaya"

// Metrics holds every collector on its own registry.
type Metrics struct {
	reg *prometheus.Registry

	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	stageLatency *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	breakerState *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	tiers        *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	inFlight     prometheus.Gauge
	rejections   *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses delivered, by kind and tier.",
		}, []string{"kind", "tier"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_duration_seconds",
			Help:      "End-to-end answer latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 10, 15},
		}, []string{"kind"}),
		stageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by stage.",
		}, []string{"stage"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Cache misses by stage.",
		}, []string{"stage"}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependency_state",
			Help:      "Dependency breaker state: 0 up, 1 degraded, 2 down.",
		}, []string{"service"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_transitions_total",
			Help:      "Dependency state transitions.",
		}, []string{"service", "to"}),
		tiers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_selected_total",
			Help:      "Operating tier chosen per request.",
		}, []string{"tier"}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "admission_queue_depth",
			Help:      "Requests waiting for admission.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests currently being answered.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Generated answers rejected by the validator, by reason.",
		}, []string{"reason"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// CacheHit implements cache.Observer.
func (m *Metrics) CacheHit(stage string) { m.cacheHits.WithLabelValues(stage).Inc() }

// CacheMiss implements cache.Observer.
func (m *Metrics) CacheMiss(stage string) { m.cacheMisses.WithLabelValues(stage).Inc() }

// StateChanged is a health.StateObserver.
func (m *Metrics) StateChanged(s health.Service, _, to health.State) {
	m.breakerState.WithLabelValues(string(s)).Set(float64(to))
	m.transitions.WithLabelValues(string(s), to.String()).Inc()
}

// InitServices sets every tracked dependency to up so the gauge is present before the first
// transition.
func (m *Metrics) InitServices(services []health.Service) {
	for _, s := range services {
		m.breakerState.WithLabelValues(string(s)).Set(float64(health.StateUp))
	}
}

// ObserveResponse records one delivered response.
func (m *Metrics) ObserveResponse(kind, tier string, d time.Duration) {
	m.requests.WithLabelValues(kind, tier).Inc()
	m.latency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveStage records the duration of one pipeline stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// TierSelected counts the tier chosen for a request.
func (m *Metrics) TierSelected(tier string) { m.tiers.WithLabelValues(tier).Inc() }

// SetQueueDepth reports the admission queue length.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// SetInFlight reports requests holding an admission slot.
func (m *Metrics) SetInFlight(n int) { m.inFlight.Set(float64(n)) }

// Rejected counts a validator rejection.
func (m *Metrics) Rejected(reason string) { m.rejections.WithLabelValues(reason).Inc() }
