package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/store"
	apperrors "github.com/solanago/solanago/internal/errors"
	"github.com/solanago/solanago/internal/model"
)

const (
	// MaxBatchItems bounds the number of inputs in one batch request.
	MaxBatchItems = 1024

	maxBodyBytes = 16 << 20
)

// Dispatcher is the subset of engine.Dispatcher served over HTTP.
type Dispatcher interface {
	Predict(ctx context.Context, input model.Input) (*engine.Prediction, error)
	PredictBatch(ctx context.Context, inputs []model.Input) []engine.BatchResult
	Status() engine.Status
}

// History reads persisted dispatch outcomes.
type History interface {
	ListPredictions(ctx context.Context, filter store.PredictionFilter) ([]core.PredictionRecord, error)
	ListEndpointEvents(ctx context.Context, endpointID int, limit int) ([]core.EndpointEvent, error)
}

// DispatchHandler serves the prediction and node status API.
type DispatchHandler struct {
	dispatcher Dispatcher
	history    History
}

// NewDispatchHandler returns handlers backed by dispatcher. history may be
// nil when the store is disabled; the history routes then answer 503.
func NewDispatchHandler(dispatcher Dispatcher, history History) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, history: history}
}

// PredictRequest is the body of POST /v1/predict.
type PredictRequest struct {
	Input json.RawMessage `json:"input"`
}

// BatchRequest is the body of POST /v1/predict/batch.
type BatchRequest struct {
	Inputs []json.RawMessage `json:"inputs"`
}

// PredictionResponse is one successful prediction.
type PredictionResponse struct {
	ID          string    `json:"id"`
	Signature   string    `json:"signature"`
	EndpointID  int       `json:"endpoint_id"`
	Address     string    `json:"address"`
	Value       float32   `json:"value"`
	BestMove    string    `json:"best_move"`
	BestIndex   int       `json:"best_move_index"`
	Probability float32   `json:"probability"`
	Policy      []float32 `json:"policy"`
	Slot        uint64    `json:"slot"`
	LatencyMS   int64     `json:"latency_ms"`
}

// BatchItem is one entry of a batch response. Exactly one of Prediction
// and Error is set.
type BatchItem struct {
	Index      int                        `json:"index"`
	Prediction *PredictionResponse        `json:"prediction,omitempty"`
	Error      *apperrors.HTTPErrorDetail `json:"error,omitempty"`
}

// BatchResponse is the body returned by POST /v1/predict/batch.
type BatchResponse struct {
	Results   []BatchItem `json:"results"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// NodesResponse is the body returned by GET /v1/nodes.
type NodesResponse struct {
	Endpoints []EndpointView `json:"endpoints"`
	Available int            `json:"available"`
	Total     int            `json:"total"`
}

// EndpointView is one endpoint in NodesResponse.
type EndpointView struct {
	ID              int        `json:"id"`
	Address         string     `json:"address"`
	State           string     `json:"state"`
	DisabledUntil   *time.Time `json:"disabled_until,omitempty"`
	Healthy         bool       `json:"healthy"`
	TokensAvailable float64    `json:"tokens_available"`
	Capacity        float64    `json:"capacity"`
	RecentErrors    int        `json:"recent_errors"`
}

// QueueResponse is the body returned by GET /v1/queue.
type QueueResponse struct {
	Depth     int `json:"depth"`
	Pending   int `json:"pending"`
	Available int `json:"available"`
}

// Predict handles POST /v1/predict.
func (h *DispatchHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	input, err := model.ParseInput(req.Input)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "input must be an array of booleans or 0/1 values"))
		return
	}

	prediction, err := h.dispatcher.Predict(r.Context(), input)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDispatchError(r.Context(), err))
		return
	}

	writeJSON(w, http.StatusOK, newPredictionResponse(prediction))
}

// PredictBatch handles POST /v1/predict/batch. Item failures are reported
// per item; the response itself is 200 once the request parses.
func (h *DispatchHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if len(req.Inputs) == 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("inputs must not be empty"))
		return
	}
	if len(req.Inputs) > MaxBatchItems {
		respondWithError(w, r, apperrors.NewInvalidInputError(
			fmt.Sprintf("batch has %d inputs, limit is %d", len(req.Inputs), MaxBatchItems)))
		return
	}

	inputs := make([]model.Input, len(req.Inputs))
	for i, raw := range req.Inputs {
		input, err := model.ParseInput(raw)
		if err != nil {
			respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, fmt.Sprintf("inputs[%d] is invalid", i)))
			return
		}
		inputs[i] = input
	}

	results := h.dispatcher.PredictBatch(r.Context(), inputs)

	resp := BatchResponse{Results: make([]BatchItem, len(results))}
	for i, result := range results {
		item := BatchItem{Index: result.Index}
		if result.Err != nil {
			envelope := apperrors.WrapDispatchError(r.Context(), result.Err)
			item.Error = &apperrors.HTTPErrorDetail{
				Code:    envelope.Code,
				Message: result.Err.Error(),
			}
			resp.Failed++
		} else {
			item.Prediction = newPredictionResponse(result.Prediction)
			resp.Succeeded++
		}
		resp.Results[i] = item
	}

	writeJSON(w, http.StatusOK, resp)
}

// Nodes handles GET /v1/nodes.
func (h *DispatchHandler) Nodes(w http.ResponseWriter, r *http.Request) {
	status := h.dispatcher.Status()

	resp := NodesResponse{
		Endpoints: make([]EndpointView, len(status.Endpoints)),
		Available: status.Available,
		Total:     len(status.Endpoints),
	}
	for i, ep := range status.Endpoints {
		resp.Endpoints[i] = EndpointView{
			ID:              ep.ID,
			Address:         ep.Address,
			State:           string(ep.State),
			DisabledUntil:   ep.DisabledUntil,
			Healthy:         ep.Healthy,
			TokensAvailable: ep.TokensAvailable,
			Capacity:        ep.Capacity,
			RecentErrors:    ep.RecentErrors,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Queue handles GET /v1/queue.
func (h *DispatchHandler) Queue(w http.ResponseWriter, r *http.Request) {
	status := h.dispatcher.Status()
	writeJSON(w, http.StatusOK, QueueResponse{
		Depth:     status.QueueDepth,
		Pending:   status.Pending,
		Available: status.Available,
	})
}

// History handles GET /v1/history. Query parameters: status, endpoint,
// since (RFC 3339) and limit.
func (h *DispatchHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("prediction history is disabled"))
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}

	records, err := h.history.ListPredictions(r.Context(), filter)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list predictions"))
		return
	}
	if records == nil {
		records = []core.PredictionRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"predictions": records})
}

// NodeEvents handles GET /v1/nodes/{id}/events.
func (h *DispatchHandler) NodeEvents(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		respondWithError(w, r, apperrors.NewServiceUnavailableError("prediction history is disabled"))
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("endpoint id must be a non-negative integer"))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, err.Error()))
		return
	}

	events, err := h.history.ListEndpointEvents(r.Context(), id, limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list endpoint events"))
		return
	}
	if events == nil {
		events = []core.EndpointEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func parseHistoryFilter(r *http.Request) (store.PredictionFilter, error) {
	query := r.URL.Query()
	filter := store.PredictionFilter{}

	switch status := core.PredictionStatus(strings.TrimSpace(query.Get("status"))); status {
	case "":
	case core.PredictionSucceeded, core.PredictionFailed, core.PredictionTimedOut, core.PredictionRejected:
		filter.Status = status
	default:
		return filter, fmt.Errorf("unknown status %q", status)
	}

	if raw := strings.TrimSpace(query.Get("endpoint")); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id < 0 {
			return filter, fmt.Errorf("endpoint must be a non-negative integer")
		}
		filter.EndpointID = &id
	}

	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("since must be an RFC 3339 timestamp")
		}
		filter.Since = since
	}

	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return store.DefaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return limit, nil
}

func newPredictionResponse(p *engine.Prediction) *PredictionResponse {
	if p == nil {
		return nil
	}
	resp := &PredictionResponse{
		ID:         p.ID,
		Signature:  p.Signature,
		EndpointID: p.EndpointID,
		Address:    p.Address,
		Slot:       p.Confirmation.Slot,
		LatencyMS:  p.Latency.Milliseconds(),
	}
	if p.Output != nil {
		resp.Value = p.Output.Value
		resp.Policy = p.Output.Policy
		resp.BestIndex, resp.Probability = p.Output.BestMove()
		resp.BestMove = model.MoveName(resp.BestIndex)
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "request body must be valid JSON"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
