package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/core/store"
	"github.com/solanago/solanago/internal/ledger"
	"github.com/solanago/solanago/internal/model"
)

type fakeDispatcher struct {
	err    error
	errAt  map[int]error
	status engine.Status
	inputs []model.Input
}

func (f *fakeDispatcher) prediction() *engine.Prediction {
	policy := make([]float32, model.PolicySize)
	policy[model.PassMove] = 0.75
	return &engine.Prediction{
		ID:           "pred-1",
		Output:       &model.Output{Policy: policy, Value: 0.25},
		Signature:    "sig-1",
		EndpointID:   1,
		Address:      "http://node-1:8899",
		Confirmation: ledger.Confirmation{Signature: "sig-1", Slot: 42},
		Latency:      120 * time.Millisecond,
	}
}

func (f *fakeDispatcher) Predict(ctx context.Context, input model.Input) (*engine.Prediction, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return f.prediction(), nil
}

func (f *fakeDispatcher) PredictBatch(ctx context.Context, inputs []model.Input) []engine.BatchResult {
	results := make([]engine.BatchResult, len(inputs))
	for i := range inputs {
		if err, ok := f.errAt[i]; ok {
			results[i] = engine.BatchResult{Index: i, Err: err}
			continue
		}
		results[i] = engine.BatchResult{Index: i, Prediction: f.prediction()}
	}
	return results
}

func (f *fakeDispatcher) Status() engine.Status {
	return f.status
}

type fakeHistory struct {
	filter  store.PredictionFilter
	records []core.PredictionRecord
	events  []core.EndpointEvent
	eventID int
}

func (f *fakeHistory) ListPredictions(ctx context.Context, filter store.PredictionFilter) ([]core.PredictionRecord, error) {
	f.filter = filter
	return f.records, nil
}

func (f *fakeHistory) ListEndpointEvents(ctx context.Context, endpointID int, limit int) ([]core.EndpointEvent, error) {
	f.eventID = endpointID
	return f.events, nil
}

func inputJSON(t *testing.T) string {
	t.Helper()
	in := make([]int, model.InputSize)
	in[0] = 1
	data, err := json.Marshal(in)
	require.NoError(t, err)
	return string(data)
}

func post(handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func TestPredictHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewDispatchHandler(dispatcher, nil)

		rec := post(h.Predict, "/v1/predict", `{"input":`+inputJSON(t)+`}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PredictionResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "sig-1", resp.Signature)
		assert.Equal(t, float32(0.25), resp.Value)
		assert.Equal(t, "pass", resp.BestMove)
		assert.Equal(t, model.PassMove, resp.BestIndex)
		assert.Equal(t, uint64(42), resp.Slot)
		assert.Equal(t, int64(120), resp.LatencyMS)

		require.Len(t, dispatcher.inputs, 1)
		assert.True(t, dispatcher.inputs[0][0])
		assert.False(t, dispatcher.inputs[0][1])
	})

	t.Run("MalformedBody", func(t *testing.T) {
		h := NewDispatchHandler(&fakeDispatcher{}, nil)

		rec := post(h.Predict, "/v1/predict", `{"input":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_INPUT")
	})

	t.Run("WrongInputSize", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewDispatchHandler(dispatcher, nil)

		rec := post(h.Predict, "/v1/predict", `{"input":[true,false]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, dispatcher.inputs)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"NoNodes", core.ErrNoNodesAvailable, http.StatusServiceUnavailable, "NO_NODES_AVAILABLE"},
		{"QueueFull", fmt.Errorf("%w: %w", core.ErrPredictionFailed, core.ErrQueueFull), http.StatusTooManyRequests, "QUEUE_FULL"},
		{"Timeout", fmt.Errorf("%w: %w", core.ErrPredictionFailed, core.ErrTimeout), http.StatusGatewayTimeout, "TIMEOUT"},
		{"BackendFailure", fmt.Errorf("%w: connection refused", core.ErrPredictionFailed), http.StatusBadGateway, "PREDICTION_FAILED"},
		{"ShuttingDown", fmt.Errorf("%w: %w", core.ErrPredictionFailed, core.ErrChannelClosed), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewDispatchHandler(&fakeDispatcher{err: tc.err}, nil)

			rec := post(h.Predict, "/v1/predict", `{"input":`+inputJSON(t)+`}`)
			assert.Equal(t, tc.status, rec.Code)

			var resp errorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestPredictBatchHandler(t *testing.T) {
	t.Run("MixedResults", func(t *testing.T) {
		dispatcher := &fakeDispatcher{errAt: map[int]error{1: core.ErrNoNodesAvailable}}
		h := NewDispatchHandler(dispatcher, nil)

		input := inputJSON(t)
		rec := post(h.PredictBatch, "/v1/predict/batch", `{"inputs":[`+input+`,`+input+`,`+input+`]}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp BatchResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Results, 3)
		assert.Equal(t, 2, resp.Succeeded)
		assert.Equal(t, 1, resp.Failed)

		assert.NotNil(t, resp.Results[0].Prediction)
		assert.Nil(t, resp.Results[1].Prediction)
		require.NotNil(t, resp.Results[1].Error)
		assert.Equal(t, "NO_NODES_AVAILABLE", resp.Results[1].Error.Code)
		assert.Equal(t, 2, resp.Results[2].Index)
	})

	t.Run("Empty", func(t *testing.T) {
		h := NewDispatchHandler(&fakeDispatcher{}, nil)
		rec := post(h.PredictBatch, "/v1/predict/batch", `{"inputs":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidItem", func(t *testing.T) {
		h := NewDispatchHandler(&fakeDispatcher{}, nil)
		rec := post(h.PredictBatch, "/v1/predict/batch", `{"inputs":[`+inputJSON(t)+`,[2]]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "inputs[1]")
	})

	t.Run("TooLarge", func(t *testing.T) {
		h := NewDispatchHandler(&fakeDispatcher{}, nil)

		var body bytes.Buffer
		body.WriteString(`{"inputs":[`)
		for i := 0; i <= MaxBatchItems; i++ {
			if i > 0 {
				body.WriteByte(',')
			}
			body.WriteString("[]")
		}
		body.WriteString(`]}`)

		rec := post(h.PredictBatch, "/v1/predict/batch", body.String())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "limit is 1024")
	})
}

func TestNodesAndQueueHandlers(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dispatcher := &fakeDispatcher{status: engine.Status{
		Endpoints: []pool.EndpointStatus{
			{ID: 0, Address: "http://a", State: core.EndpointAvailable, Healthy: true, Capacity: 20},
			{ID: 1, Address: "http://b", State: core.EndpointDisabled, DisabledUntil: &until},
		},
		Available:  1,
		QueueDepth: 3,
		Pending:    2,
	}}
	h := NewDispatchHandler(dispatcher, nil)

	rec := httptest.NewRecorder()
	h.Nodes(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var nodes NodesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&nodes))
	assert.Equal(t, 2, nodes.Total)
	assert.Equal(t, 1, nodes.Available)
	assert.Equal(t, "disabled", nodes.Endpoints[1].State)
	require.NotNil(t, nodes.Endpoints[1].DisabledUntil)
	assert.True(t, until.Equal(*nodes.Endpoints[1].DisabledUntil))

	rec = httptest.NewRecorder()
	h.Queue(rec, httptest.NewRequest(http.MethodGet, "/v1/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var queue QueueResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&queue))
	assert.Equal(t, QueueResponse{Depth: 3, Pending: 2, Available: 1}, queue)
}

func TestHistoryHandler(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		h := NewDispatchHandler(&fakeDispatcher{}, nil)
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("Filters", func(t *testing.T) {
		history := &fakeHistory{records: []core.PredictionRecord{{ID: "a", Status: core.PredictionFailed}}}
		h := NewDispatchHandler(&fakeDispatcher{}, history)

		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet,
			"/v1/history?status=failed&endpoint=2&since=2026-01-01T00:00:00Z&limit=5", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		assert.Equal(t, core.PredictionFailed, history.filter.Status)
		require.NotNil(t, history.filter.EndpointID)
		assert.Equal(t, 2, *history.filter.EndpointID)
		assert.Equal(t, 5, history.filter.Limit)
		assert.True(t, history.filter.Since.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

		var body struct {
			Predictions []core.PredictionRecord `json:"predictions"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Len(t, body.Predictions, 1)
		assert.Equal(t, "a", body.Predictions[0].ID)
	})

	t.Run("DefaultLimit", func(t *testing.T) {
		history := &fakeHistory{}
		h := NewDispatchHandler(&fakeDispatcher{}, history)

		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, store.DefaultHistoryLimit, history.filter.Limit)
		assert.JSONEq(t, `{"predictions":[]}`, rec.Body.String())
	})

	bad := []string{"status=lost", "endpoint=-1", "since=yesterday", "limit=0"}
	for _, query := range bad {
		t.Run(query, func(t *testing.T) {
			h := NewDispatchHandler(&fakeDispatcher{}, &fakeHistory{})
			rec := httptest.NewRecorder()
			h.History(rec, httptest.NewRequest(http.MethodGet, "/v1/history?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestNodeEventsHandler(t *testing.T) {
	history := &fakeHistory{events: []core.EndpointEvent{{EndpointID: 3, State: core.EndpointDisabled}}}
	h := NewDispatchHandler(&fakeDispatcher{}, history)

	router := chi.NewRouter()
	router.Get("/v1/nodes/{id}/events", h.NodeEvents)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes/3/events", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, history.eventID)
	assert.Contains(t, rec.Body.String(), `"state":"disabled"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nodes/x/events", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
