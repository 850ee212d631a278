package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/pool"
	apperrors "github.com/solanago/solanago/internal/errors"
	"github.com/solanago/solanago/internal/model"
	"github.com/solanago/solanago/internal/server/handlers"
)

type stubDispatcher struct {
	status engine.Status
	err    error
}

func (s *stubDispatcher) Predict(ctx context.Context, input model.Input) (*engine.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &engine.Prediction{ID: "p", Signature: "sig", Output: &model.Output{Policy: make([]float32, model.PolicySize)}}, nil
}

func (s *stubDispatcher) PredictBatch(ctx context.Context, inputs []model.Input) []engine.BatchResult {
	results := make([]engine.BatchResult, len(inputs))
	for i := range inputs {
		results[i] = engine.BatchResult{Index: i, Err: s.err}
	}
	return results
}

func (s *stubDispatcher) Status() engine.Status {
	return s.status
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
	}
}

func newTestServer(t *testing.T, dispatcher *stubDispatcher) *Server {
	t.Helper()
	srv, err := New(testConfig(), Dependencies{Dispatcher: dispatcher, Version: "test"})
	require.NoError(t, err)
	return srv
}

func serve(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestNewRequiresDispatcher(t *testing.T) {
	_, err := New(testConfig(), Dependencies{})
	require.Error(t, err)
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := newTestServer(t, &stubDispatcher{})

	rec := serve(srv, http.MethodGet, "/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)

	rec = serve(srv, http.MethodGet, "/v1/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerRoutes(t *testing.T) {
	dispatcher := &stubDispatcher{status: engine.Status{
		Endpoints: []pool.EndpointStatus{{ID: 0, Address: "http://a", State: core.EndpointAvailable}},
		Available: 1,
	}}
	srv := newTestServer(t, dispatcher)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup", "/version", "/v1/nodes", "/v1/queue"} {
		rec := serve(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := serve(srv, http.MethodGet, "/v1/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serve(srv, http.MethodPost, "/admin/signal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerPredictErrorMapping(t *testing.T) {
	srv := newTestServer(t, &stubDispatcher{err: core.ErrNoNodesAvailable})

	rec := serve(srv, http.MethodPost, "/v1/predict", `{"input":[true]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	input := make([]bool, model.InputSize)
	data, err := json.Marshal(map[string]any{"input": input})
	require.NoError(t, err)

	rec = serve(srv, http.MethodPost, "/v1/predict", string(data))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NO_NODES_AVAILABLE")
}

func TestReadinessFailsWhenEveryEndpointIsDisabled(t *testing.T) {
	dispatcher := &stubDispatcher{status: engine.Status{
		Endpoints: []pool.EndpointStatus{
			{ID: 0, State: core.EndpointDisabled},
			{ID: 1, State: core.EndpointDisabled},
		},
	}}
	srv := newTestServer(t, dispatcher)

	assert.Equal(t, http.StatusServiceUnavailable, serve(srv, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/live", "").Code)
}

func TestExtraHealthCheckers(t *testing.T) {
	srv, err := New(testConfig(), Dependencies{
		Dispatcher: &stubDispatcher{status: engine.Status{
			Endpoints: []pool.EndpointStatus{{State: core.EndpointAvailable}},
		}},
		Health: map[string]handlers.HealthChecker{
			"store": handlers.HealthCheckerFunc(func(ctx context.Context) error { return context.Canceled }),
		},
	})
	require.NoError(t, err)

	rec := serve(srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store")
}

func TestServeAndShutdown(t *testing.T) {
	srv := newTestServer(t, &stubDispatcher{status: engine.Status{
		Endpoints: []pool.EndpointStatus{{State: core.EndpointAvailable}},
	}})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/health/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-done)
}
