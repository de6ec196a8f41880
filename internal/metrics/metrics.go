package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_requests_total",
			Help: "Total number of gateway requests processed",
		},
		[]string{"model", "tier", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hivegate_request_duration_seconds",
			Help:    "End-to-end request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "streamed"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_tokens_total",
			Help: "Total tokens processed",
		},
		[]string{"model", "type"},
	)

	PollenChargedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_pollen_charged_total",
			Help: "Total pollen charged across accounts",
		},
		[]string{"model", "tier"},
	)

	AdmissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_admission_rejections_total",
			Help: "Requests rejected before reaching an upstream",
		},
		[]string{"reason"},
	)

	DedupSharedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hivegate_dedup_shared_total",
			Help: "Requests that attached to an in-flight identical execution",
		},
	)

	DedupInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivegate_dedup_in_flight",
			Help: "Distinct request fingerprints currently executing",
		},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_upstream_errors_total",
			Help: "Upstream provider failures by kind",
		},
		[]string{"provider", "error_type"},
	)

	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hivegate_circuit_state",
			Help: "Circuit breaker state per endpoint (0=closed, 1=half-open, 2=open)",
		},
		[]string{"endpoint"},
	)

	RefillRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_refill_runs_total",
			Help: "Refill trigger outcomes",
		},
		[]string{"outcome"},
	)

	RefillAccounts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_refill_accounts_total",
			Help: "Accounts granted pollen by refill runs",
		},
		[]string{"cadence"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hivegate_active_streams",
			Help: "Streaming responses currently open",
		},
	)

	MediaCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hivegate_media_cache_total",
			Help: "Media inline cache lookups",
		},
		[]string{"result"},
	)
)

func RecordRequest(model, tier, status string, streamed bool, durationSec float64) {
	RequestsTotal.WithLabelValues(model, tier, status).Inc()
	RequestDuration.WithLabelValues(model, boolLabel(streamed)).Observe(durationSec)
}

func RecordTokens(model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}

func RecordPollen(model, tier string, pollen float64) {
	PollenChargedTotal.WithLabelValues(model, tier).Add(pollen)
}

func RecordRejection(reason string) {
	AdmissionRejections.WithLabelValues(reason).Inc()
}

func RecordUpstreamError(provider, errorType string) {
	UpstreamErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordRefillRun(outcome string) {
	RefillRuns.WithLabelValues(outcome).Inc()
}

func RecordRefillAccounts(cadence string, count int) {
	RefillAccounts.WithLabelValues(cadence).Add(float64(count))
}

func SetCircuitState(endpoint string, state int) {
	CircuitState.WithLabelValues(endpoint).Set(float64(state))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
