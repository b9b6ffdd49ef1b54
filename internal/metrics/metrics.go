package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for a generation batch. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	unitsTotal    *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	llmCalls      *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	tokensTotal   *prometheus.CounterVec
	inFlight      prometheus.Gauge
}

// New registers the collectors with reg, or the default registerer when reg
// is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		unitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsynth",
			Subsystem: "generation",
			Name:      "units_total",
			Help:      "Planned conversation units by final outcome",
		}, []string{"kind", "outcome"}),
		attemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsynth",
			Subsystem: "generation",
			Name:      "attempts_total",
			Help:      "Dialogue generation attempts by result",
		}, []string{"kind", "result"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsynth",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Outbound LLM calls by provider and status",
		}, []string{"provider", "status"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callsynth",
			Subsystem: "llm",
			Name:      "call_latency_seconds",
			Help:      "Latency of outbound LLM calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callsynth",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by direction",
		}, []string{"provider", "direction"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "callsynth",
			Subsystem: "generation",
			Name:      "units_in_flight",
			Help:      "Units currently held by a worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.unitsTotal, m.attemptsTotal, m.llmCalls, m.llmLatency, m.tokensTotal, m.inFlight)
	return m
}

// ObserveUnit counts a unit's final outcome: accepted, rejected, or cancelled.
func (m *Metrics) ObserveUnit(kind, outcome string) {
	if m == nil {
		return
	}
	m.unitsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveAttempt counts one pass through the generate-parse-validate loop.
func (m *Metrics) ObserveAttempt(kind, result string) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveLLMCall records one outbound call.
func (m *Metrics) ObserveLLMCall(provider, status string, seconds float64) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(provider, status).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(seconds)
}

// ObserveTokens adds token usage for provider.
func (m *Metrics) ObserveTokens(provider string, input, output int32) {
	if m == nil {
		return
	}
	m.tokensTotal.WithLabelValues(provider, "input").Add(float64(input))
	m.tokensTotal.WithLabelValues(provider, "output").Add(float64(output))
}

// UnitStarted and UnitDone track worker occupancy.
func (m *Metrics) UnitStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) UnitDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
