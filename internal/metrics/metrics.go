// Package metrics provides Prometheus metrics for the prediction engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects engine metrics on its own registry
type Metrics struct {
	registry *prometheus.Registry

	PredictionsGraded *prometheus.CounterVec
	ParseFailures     *prometheus.CounterVec
	Calibrations      *prometheus.CounterVec
	EnsembleDecisions *prometheus.CounterVec
	ModelsFlagged     prometheus.Gauge
	GradingDuration   prometheus.Histogram
	StreamMessages    *prometheus.CounterVec
}

// New creates and registers every metric
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PredictionsGraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_engine_predictions_graded_total",
				Help: "Predictions graded, by market and outcome",
			},
			[]string{"market", "outcome"},
		),
		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_engine_parse_failures_total",
				Help: "Prediction values that could not be parsed",
			},
			[]string{"market"},
		),
		Calibrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_engine_calibrations_total",
				Help: "Calibrated predictions, by market and recommendation",
			},
			[]string{"market", "recommendation"},
		),
		EnsembleDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_engine_ensemble_decisions_total",
				Help: "Ensemble aggregations, by strategy and result",
			},
			[]string{"strategy", "result"},
		),
		ModelsFlagged: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prediction_engine_models_flagged",
				Help: "Models flagged for retraining by the last validation run",
			},
		),
		GradingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prediction_engine_grading_pass_seconds",
				Help:    "Duration of a grading pass",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		StreamMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_engine_stream_messages_total",
				Help: "Game update stream messages, by stream and result",
			},
			[]string{"stream", "result"},
		),
	}

	m.registry.MustRegister(
		m.PredictionsGraded,
		m.ParseFailures,
		m.Calibrations,
		m.EnsembleDecisions,
		m.ModelsFlagged,
		m.GradingDuration,
		m.StreamMessages,
	)
	return m
}

// Registry returns the registry to expose on /metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordGraded counts one graded prediction
func (m *Metrics) RecordGraded(market, outcome string) {
	m.PredictionsGraded.WithLabelValues(market, outcome).Inc()
}

// RecordParseFailure counts a value the parser rejected
func (m *Metrics) RecordParseFailure(market string) {
	m.ParseFailures.WithLabelValues(market).Inc()
}

// RecordCalibration counts one calibration
func (m *Metrics) RecordCalibration(market, recommendation string) {
	m.Calibrations.WithLabelValues(market, recommendation).Inc()
}

// RecordEnsemble counts one ensemble decision
func (m *Metrics) RecordEnsemble(strategy, result string) {
	m.EnsembleDecisions.WithLabelValues(strategy, result).Inc()
}

// SetFlagged records the number of models flagged by the last validation run
func (m *Metrics) SetFlagged(n int) {
	m.ModelsFlagged.Set(float64(n))
}

// ObserveGradingPass records how long a grading pass took
func (m *Metrics) ObserveGradingPass(seconds float64) {
	m.GradingDuration.Observe(seconds)
}

// RecordStreamMessage counts one consumed stream message
func (m *Metrics) RecordStreamMessage(stream, result string) {
	m.StreamMessages.WithLabelValues(stream, result).Inc()
}
