package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus series the pipeline exposes on /metrics:
// per-worker cycle counts, per-stage token usage, stall counts, and deploy
// retry counts. RequestsByState is registered, but nothing in the pipeline
// sets it, so it reports no values.
type Metrics struct {
	CyclesTotal        *prometheus.CounterVec
	CycleErrorsTotal   *prometheus.CounterVec
	TokensTotal        *prometheus.CounterVec
	RequestsByState    *prometheus.GaugeVec
	StallsTotal        *prometheus.CounterVec
	DeployRetriesTotal prometheus.Counter
}

// NewMetrics registers the pipeline's series against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "worker_cycles_total",
			Help:      "Total poll cycles run, by worker.",
		}, []string{"worker"}),
		CycleErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "worker_cycle_errors_total",
			Help:      "Total poll cycles that returned an error, by worker.",
		}, []string{"worker"}),
		TokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed, by stage and direction (input/output).",
		}, []string{"stage", "direction"}),
		RequestsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "requests_by_state",
			Help:      "Current number of requests in each pipeline state.",
		}, []string{"state"}),
		StallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "stalls_total",
			Help:      "Total stall transitions flagged, by state.",
		}, []string{"state"}),
		DeployRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "deploy_retries_total",
			Help:      "Total deployment retries attempted.",
		}),
	}
}

// ObserveCycle records one worker cycle's outcome.
func (m *Metrics) ObserveCycle(worker string, err error) {
	m.CyclesTotal.WithLabelValues(worker).Inc()
	if err != nil {
		m.CycleErrorsTotal.WithLabelValues(worker).Inc()
	}
}

// ObserveTokens records one LLM call's token usage for stage.
func (m *Metrics) ObserveTokens(stage string, input, output int) {
	m.TokensTotal.WithLabelValues(stage, "input").Add(float64(input))
	m.TokensTotal.WithLabelValues(stage, "output").Add(float64(output))
}

// ObserveStall records one stall-state transition.
func (m *Metrics) ObserveStall(state string) {
	m.StallsTotal.WithLabelValues(state).Inc()
}

// ObserveDeployRetry records one deployment retry attempt.
func (m *Metrics) ObserveDeployRetry() {
	m.DeployRetriesTotal.Inc()
}
