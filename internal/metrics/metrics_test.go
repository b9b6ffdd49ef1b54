package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveUnit("scam", "accepted")
	m.ObserveUnit("scam", "accepted")
	m.ObserveUnit("scam", "rejected")
	m.ObserveAttempt("scam", "parse_failed")
	m.ObserveLLMCall("anthropic", "ok", 1.2)
	m.ObserveTokens("anthropic", 100, 40)
	m.UnitStarted()
	m.UnitStarted()
	m.UnitDone()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.unitsTotal.WithLabelValues("scam", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitsTotal.WithLabelValues("scam", "rejected")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.tokensTotal.WithLabelValues("anthropic", "output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveUnit("scam", "accepted")
	m.ObserveAttempt("legit", "validated")
	m.ObserveLLMCall("gemini", "rate_limit", 0.1)
	m.ObserveTokens("gemini", 1, 1)
	m.UnitStarted()
	m.UnitDone()
}
