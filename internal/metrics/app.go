package metrics

import (
	"time"

	"github.com/solanago/solanago/internal/observability"
)

// Server metric names
const (
	ActiveConnections   = "server_active_connections"
	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"
	ServerStartTime     = "server_start_time_seconds"
	ServerUptime        = "server_uptime_seconds"
)

// SetActiveConnections records the number of open HTTP connections.
func SetActiveConnections(count int64) {
	gauge(ActiveConnections, float64(count))
}

// RecordHealthCheck records one health checker run.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{"check": checkName, "status": status},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": checkName},
	)
}

// SetServerStartTime records the server start time as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	gauge(ServerStartTime, float64(timestamp))
}

// SetServerUptime records the server uptime in seconds.
func SetServerUptime(seconds int64) {
	gauge(ServerUptime, float64(seconds))
}

func gauge(name string, value float64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(name, value, nil)
	}
}
