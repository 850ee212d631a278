package metrics

import (
	"strconv"

	"github.com/solanago/solanago/internal/observability"
)

// API error metric names
const (
	APIErrorsTotal   = "api_errors_total"
	APIPanicsTotal   = "api_panics_total"
	RouteErrorsTotal = "api_route_errors_total"
)

// RecordError counts an error envelope returned to an API caller, labelled
// by code and status class so pool exhaustion (503) and endpoint timeouts
// (504) chart apart from rejected input.
func RecordError(code string, httpStatus int) {
	counter(APIErrorsTotal, map[string]string{
		"error_code":   code,
		"status_class": statusClass(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic on route.
func RecordPanic(route string) {
	counter(APIPanicsTotal, map[string]string{"route": route})
}

// RecordRouteError counts an error code per route pattern.
func RecordRouteError(route, code string) {
	counter(RouteErrorsTotal, map[string]string{
		"route":      route,
		"error_code": code,
	})
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

func counter(name string, tags map[string]string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(name, 1, tags)
	}
}
