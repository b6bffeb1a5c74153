package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveResponse("excellent", false, 20*time.Millisecond)
	m.ObserveResponse("excellent", true, time.Millisecond)
	m.ObserveDegraded("timeout")
	m.ObserveCacheLookup(true)
	m.ObserveCacheLookup(false)
	m.ObserveCacheLookup(false)
	m.ObserveRetrieval("vector", 5*time.Millisecond)
	m.ObserveLLMCall("timeout", 10*time.Second)
	m.ObserveIndexRefresh(nil, 42)
	m.ObserveIndexRefresh(errors.New("boom"), 0)
	m.SetSessions(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.responses.WithLabelValues("excellent", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.degraded.WithLabelValues("timeout")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retrievals.WithLabelValues("vector")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmCalls.WithLabelValues("timeout")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.indexChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.indexRefreshes.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResponse("low", false, time.Second)
		m.ObserveDegraded("error")
		m.ObserveCacheLookup(true)
		m.ObserveRetrieval("tfidf", time.Millisecond)
		m.ObserveLLMCall("ok", time.Second)
		m.ObserveIndexRefresh(nil, 1)
		m.SetSessions(1)
	})
}
