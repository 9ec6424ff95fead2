package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_generations_total",
			Help: "Total number of LLM generations",
		},
		[]string{"kind", "model", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlassist_generation_duration_seconds",
			Help:    "LLM generation duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"kind", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_tokens_total",
			Help: "Total number of tokens consumed",
		},
		[]string{"kind", "model", "type"},
	)

	LowConfidenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_low_confidence_total",
			Help: "Generations that did not meet the certainty threshold",
		},
		[]string{"kind", "model"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_cost_total",
			Help: "Estimated LLM cost",
		},
		[]string{"model"},
	)

	UnpricedModels = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_unpriced_model_total",
			Help: "Cost lookups for models missing from the price table",
		},
		[]string{"model"},
	)

	StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_statements_total",
			Help: "Total number of SQL statements run against the database",
		},
		[]string{"kind", "status"},
	)

	GateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_gate_transitions_total",
			Help: "Confirmation gate transitions by target state",
		},
		[]string{"state"},
	)

	BudgetAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlassist_budget_alerts_total",
			Help: "Session budget alerts raised",
		},
		[]string{"level"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlassist_circuit_breaker_state",
			Help: "LLM circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlassist_rate_limited_total",
			Help: "Generation requests rejected by the per-session rate limit",
		},
	)
)

func RecordGeneration(kind, model, status string, durationSec float64) {
	GenerationsTotal.WithLabelValues(kind, model, status).Inc()
	GenerationDuration.WithLabelValues(kind, model).Observe(durationSec)
}

func RecordTokens(kind, model string, promptTokens, completionTokens, cachedTokens int) {
	TokensTotal.WithLabelValues(kind, model, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(kind, model, "completion").Add(float64(completionTokens))
	TokensTotal.WithLabelValues(kind, model, "cached").Add(float64(cachedTokens))
}

func RecordLowConfidence(kind, model string) {
	LowConfidenceTotal.WithLabelValues(kind, model).Inc()
}

func RecordCost(model string, cost float64) {
	CostTotal.WithLabelValues(model).Add(cost)
}

func RecordUnpricedModel(model string) {
	UnpricedModels.WithLabelValues(model).Inc()
}

func RecordStatement(kind, status string) {
	StatementsTotal.WithLabelValues(kind, status).Inc()
}

func RecordGateTransition(state string) {
	GateTransitions.WithLabelValues(state).Inc()
}

func RecordBudgetAlert(level string) {
	BudgetAlerts.WithLabelValues(level).Inc()
}

func RecordBreakerState(breaker string, state int) {
	BreakerState.WithLabelValues(breaker).Set(float64(state))
}

func RecordRateLimited() {
	RateLimited.Inc()
}
