package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/codealloy/alloy-api/internal/models"
)

var (
	transformationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformation_engine_transformations_total",
		Help: "Total number of file transformations attempted",
	})

	transformationsByType = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transformation_engine_transformations_by_type_total",
		Help: "Number of transformations by type",
	}, []string{"type"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transformation_engine_errors_total",
		Help: "Number of transformation errors by type",
	}, []string{"error_type"})

	verificationAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformation_engine_verification_attempts_total",
		Help: "Total number of verification attempts",
	})

	verificationSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformation_engine_verification_successes_total",
		Help: "Total number of successful verifications",
	})

	verificationSuccessRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transformation_engine_verification_success_ratio",
		Help: "Ratio of successful verifications to attempts",
	})

	transformationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transformation_engine_transformation_duration_seconds",
		Help:    "Duration of file transformations in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	sizeReduction = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "transformation_engine_file_size_reduction_percentage",
		Help: "Size reduction percentage of the last accepted transformation",
	})

	attemptCount atomic.Int64
	successCount atomic.Int64
)

// RecordTransformation counts one resolved file transformation.
func RecordTransformation(t models.TransformationType, durationSeconds float64) {
	transformationsTotal.Inc()
	transformationsByType.WithLabelValues(string(t)).Inc()
	transformationDuration.Observe(durationSeconds)
}

// RecordError counts one error by taxonomy kind.
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}

// RecordVerification counts one verification run and refreshes the ratio.
func RecordVerification(success bool) {
	verificationAttempts.Inc()
	attempts := attemptCount.Add(1)
	successes := successCount.Load()
	if success {
		verificationSuccesses.Inc()
		successes = successCount.Add(1)
	}
	verificationSuccessRatio.Set(float64(successes) / float64(attempts))
}

// RecordSizeReduction publishes the size delta of an accepted transformation.
func RecordSizeReduction(pct float64) {
	sizeReduction.Set(pct)
}
