package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentkb"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	responses      *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	retrievals     *prometheus.CounterVec
	llmCalls       *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	indexChunks    prometheus.Gauge
	indexRefreshes *prometheus.CounterVec
	sessions       prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_responses_total",
			Help:      "Chat responses by confidence tier and cache status.",
		}, []string{"tier", "cached"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_degraded_total",
			Help:      "Responses served without LLM enhancement, by reason.",
		}, []string{"reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Retrievals by the method that produced the final result set.",
		}, []string{"method"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM enhancement calls by outcome.",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of chat pipeline stages.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"stage"}),
		indexChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vector_index_chunks",
			Help:      "Chunks with embeddings in the current vector index snapshot.",
		}),
		indexRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_index_refreshes_total",
			Help:      "Vector index refresh attempts by result.",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_sessions",
			Help:      "Live conversation sessions held in memory.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.responses, m.degraded, m.cacheLookups, m.retrievals, m.llmCalls,
			m.stageDuration, m.indexChunks, m.indexRefreshes, m.sessions,
		)
	}
	return m
}

// ObserveResponse counts a finished chat response.
func (m *Metrics) ObserveResponse(tier string, cached bool, total time.Duration) {
	if m == nil {
		return
	}
	c := "false"
	if cached {
		c = "true"
	}
	m.responses.WithLabelValues(tier, c).Inc()
	m.stageDuration.WithLabelValues("total").Observe(total.Seconds())
}

// ObserveDegraded counts a degraded response.
func (m *Metrics) ObserveDegraded(reason string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(reason).Inc()
}

// ObserveCacheLookup counts a response cache lookup.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveRetrieval records the winning retrieval method and its latency.
func (m *Metrics) ObserveRetrieval(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(method).Inc()
	m.stageDuration.WithLabelValues("retrieval").Observe(d.Seconds())
}

// ObserveLLMCall records one enhancement attempt.
func (m *Metrics) ObserveLLMCall(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(outcome).Inc()
	m.stageDuration.WithLabelValues("llm").Observe(d.Seconds())
}

// ObserveIndexRefresh records a vector index refresh.
func (m *Metrics) ObserveIndexRefresh(err error, indexed int) {
	if m == nil {
		return
	}
	if err != nil {
		m.indexRefreshes.WithLabelValues("error").Inc()
		return
	}
	m.indexRefreshes.WithLabelValues("ok").Inc()
	m.indexChunks.Set(float64(indexed))
}

// SetSessions reports the number of live sessions.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
