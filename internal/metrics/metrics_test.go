package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit()
		m.CacheMiss()
		m.ProviderCall(PathShared, "ok")
		m.Filler("error")
		m.Submission("inserted")
		m.RateLimited()
		m.RoundCompleted()
	})
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheHit()
	m.CacheHit()
	m.ProviderCall(PathBYOK, "error")
	m.Filler("rate_limited")

	assert.InDelta(t, 2, testutil.ToFloat64(m.cacheHits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.providerCalls.WithLabelValues(PathBYOK, "error")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.providerCalls.WithLabelValues(PathShared, "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fillers.WithLabelValues("rate_limited")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
