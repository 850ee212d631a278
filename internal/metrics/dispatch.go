package metrics

import (
	"strconv"
	"time"

	"github.com/solanago/solanago/internal/observability"
)

// Dispatch metric names
const (
	PredictionsTotal      = "predictions_total"
	PredictionDuration    = "prediction_duration_ms"
	QueueDepth            = "queue_depth"
	EndpointDisabledTotal = "endpoint_disabled_total"
	EndpointReleasedTotal = "endpoint_released_total"
	RateLimitWait         = "rate_limit_wait_ms"
	ModelInitTotal        = "model_init_total"
)

// RecordPrediction records the terminal status and latency of a prediction.
func RecordPrediction(status string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PredictionsTotal,
			1,
			map[string]string{"status": status},
		)
		_ = observability.TelemetrySystem.Histogram(
			PredictionDuration,
			duration,
			map[string]string{"status": status},
		)
	}
}

// SetQueueDepth records the number of outstanding queued requests.
func SetQueueDepth(depth int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(QueueDepth, float64(depth), nil)
	}
}

// RecordEndpointDisabled counts an endpoint entering cooldown.
func RecordEndpointDisabled(endpointID int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			EndpointDisabledTotal,
			1,
			map[string]string{"endpoint": strconv.Itoa(endpointID)},
		)
	}
}

// RecordEndpointReleased counts an endpoint returning to rotation.
func RecordEndpointReleased(endpointID int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			EndpointReleasedTotal,
			1,
			map[string]string{"endpoint": strconv.Itoa(endpointID)},
		)
	}
}

// RecordRateLimitWait records how long a request waited on its endpoint's
// token bucket.
func RecordRateLimitWait(duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(RateLimitWait, duration, nil)
	}
}

// RecordModelInit records the outcome of one endpoint's model initialization.
func RecordModelInit(endpointID int, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ModelInitTotal,
			1,
			map[string]string{
				"endpoint": strconv.Itoa(endpointID),
				"status":   status,
			},
		)
	}
}
