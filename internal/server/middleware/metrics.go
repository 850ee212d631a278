package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/solanago/solanago/internal/observability"
)

// HTTP metric names
const (
	HTTPRequestsTotal     = "http_requests_total"
	HTTPRequestDuration   = "http_request_duration_ms"
	HTTPRequestSizeBytes  = "http_request_size_bytes"
	HTTPResponseSizeBytes = "http_response_size_bytes"
	HTTPErrorsTotal       = "http_errors_total"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int64
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.size += int64(n)
	return n, err
}

// RoutePattern returns the chi route pattern, or a fixed bucket for
// requests served outside the router, so labels stay low cardinality.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	switch {
	case path == "/" || path == "/version" || path == "/metrics":
		return path
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/v1/predict" || path == "/v1/predict/batch" || path == "/v1/nodes" || path == "/v1/queue":
		return path
	case strings.HasPrefix(path, "/v1/history"):
		return "/v1/history"
	case strings.HasPrefix(path, "/admin/"):
		return "/admin/*"
	default:
		return "/unknown"
	}
}

// RequestMetrics emits request count, latency, sizes and errors for every
// request, then logs it with its request ID.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sys := observability.TelemetrySystem
		if sys == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		var requestSize int64
		if size, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil {
			requestSize = size
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		endpoint := RoutePattern(r)
		status := strconv.Itoa(rec.status)
		labels := map[string]string{"method": r.Method, "endpoint": endpoint, "status": status}
		sizeLabels := map[string]string{"method": r.Method, "endpoint": endpoint}

		_ = sys.Counter(HTTPRequestsTotal, 1, labels)
		_ = sys.Histogram(HTTPRequestDuration, duration, labels)
		_ = sys.Gauge(HTTPRequestSizeBytes, float64(requestSize), sizeLabels)
		_ = sys.Gauge(HTTPResponseSizeBytes, float64(rec.size), sizeLabels)

		if rec.status >= 400 {
			errorType := "client_error"
			if rec.status >= 500 {
				errorType = "server_error"
			}
			_ = sys.Counter(HTTPErrorsTotal, 1, map[string]string{
				"method":     r.Method,
				"endpoint":   endpoint,
				"status":     status,
				"error_type": errorType,
			})
		}

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", endpoint),
				zap.Int("status", rec.status),
				zap.Duration("duration", duration),
				zap.Int64("request_size", requestSize),
				zap.Int64("response_size", rec.size),
				zap.String("request_id", GetRequestID(r.Context())),
			)
		}
	})
}
