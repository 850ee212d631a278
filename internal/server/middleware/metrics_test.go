package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanago/solanago/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRequestMetrics(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		collector := setupTelemetry(t)

		handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"value":0.5}`))
		}))

		req := httptest.NewRequest(http.MethodPost, "/v1/predict", strings.NewReader(`{"input":[]}`))
		req.Header.Set("Content-Length", "12")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Greater(t, collector.CountMetricsByName(HTTPRequestsTotal), 0)
		assert.Greater(t, collector.CountMetricsByName(HTTPRequestDuration), 0)
		assert.Greater(t, collector.CountMetricsByName(HTTPRequestSizeBytes), 0)
		assert.Greater(t, collector.CountMetricsByName(HTTPResponseSizeBytes), 0)
		assert.Zero(t, collector.CountMetricsByName(HTTPErrorsTotal))
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		collector := setupTelemetry(t)

		handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/predict", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Greater(t, collector.CountMetricsByName(HTTPErrorsTotal), 0)
	})

	t.Run("TelemetryDisabled", func(t *testing.T) {
		original := observability.TelemetrySystem
		observability.TelemetrySystem = nil
		t.Cleanup(func() { observability.TelemetrySystem = original })

		handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}

func TestGetEndpointPattern(t *testing.T) {
	tests := map[string]string{
		"/health":              "/health/*",
		"/health/ready":        "/health/*",
		"/version":             "/version",
		"/metrics":             "/metrics",
		"/v1/predict":          "/v1/predict",
		"/v1/predict/batch":    "/v1/predict/batch",
		"/v1/nodes":            "/v1/nodes",
		"/v1/history?limit=10": "/v1/history",
		"/admin/signal":        "/admin/*",
		"/v1/unknown/123":      "/unknown",
		"/":                    "/",
	}

	for path, expected := range tests {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			assert.Equal(t, expected, RoutePattern(req))
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/nodes", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	setupTelemetry(t)

	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INTERNAL_ERROR"`)
	assert.Contains(t, rec.Body.String(), "panic: boom")
}
