package output

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/ledger"
	"github.com/solanago/solanago/internal/model"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func samplePrediction() *engine.Prediction {
	policy := make([]float32, model.PolicySize)
	policy[60] = 0.5
	return &engine.Prediction{
		ID:           "pred-1",
		Output:       &model.Output{Policy: policy, Value: -0.25},
		Signature:    "5sig",
		EndpointID:   2,
		Address:      "http://node-2:8899",
		Confirmation: ledger.Confirmation{Signature: "5sig", Slot: 99},
		Latency:      250 * time.Millisecond,
	}
}

func TestPredictionView(t *testing.T) {
	rendered, err := Render(FormatTable, PredictionView{Prediction: samplePrediction()})
	require.NoError(t, err)
	require.Contains(t, rendered, "5sig")
	require.Contains(t, rendered, "2 (http://node-2:8899)")
	require.Contains(t, rendered, "-0.2500")
	require.Contains(t, rendered, model.MoveName(60)+" (50.0%)")

	rendered, err = Render(FormatJSON, PredictionView{Prediction: samplePrediction()})
	require.NoError(t, err)
	require.Contains(t, rendered, `"signature": "5sig"`)
}

func TestBatchView(t *testing.T) {
	view := BatchView{Results: []engine.BatchResult{
		{Index: 0, Prediction: samplePrediction()},
		{Index: 1, Err: errors.New("no nodes available")},
	}}

	require.Equal(t, "1/2 succeeded", view.Footer())

	rendered, err := Render(FormatMarkdown, view)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "## Batch predictions"))
	require.Contains(t, rendered, "| 1 | failed |")
	require.Contains(t, rendered, "**Summary**: 1/2 succeeded")

	rendered, err = Render(FormatJSON, view)
	require.NoError(t, err)
	require.Contains(t, rendered, `"error": "no nodes available"`)
}

func TestNodesView(t *testing.T) {
	until := time.Now().Add(time.Minute)
	view := NodesView{Status: engine.Status{
		Endpoints: []pool.EndpointStatus{
			{ID: 0, Address: "http://a", State: core.EndpointAvailable, TokensAvailable: 19.5, Capacity: 20},
			{ID: 1, Address: "http://b|c", State: core.EndpointDisabled, DisabledUntil: &until, RecentErrors: 3},
		},
		Available:  1,
		QueueDepth: 4,
	}}

	rendered, err := Render(FormatTable, view)
	require.NoError(t, err)
	require.Contains(t, rendered, "19.5/20")
	require.Contains(t, rendered, "disabled")
	require.Contains(t, rendered, "1/2 available, queue depth 4")

	rendered, err = Render(FormatMarkdown, view)
	require.NoError(t, err)
	require.Contains(t, rendered, `http://b\|c`)
}

func TestHistoryView(t *testing.T) {
	value := float32(0.5)
	view := HistoryView{Records: []core.PredictionRecord{
		{ID: "a", EndpointID: 0, Status: core.PredictionSucceeded, Value: &value, Latency: time.Second},
		{ID: "b", EndpointID: -1, Status: core.PredictionRejected, Message: "no nodes available"},
	}}

	rows := view.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, "0.5000", rows[0][3])
	require.Empty(t, rows[1][2])
	require.Equal(t, "2 records", view.Footer())

	rendered, err := Render(FormatJSON, HistoryView{})
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestInitView(t *testing.T) {
	view := InitView{Report: engine.InitReport{Results: []engine.InitResult{
		{EndpointID: 0, Address: "http://a", Attempted: true, Initialized: true, Signature: "s0"},
		{EndpointID: 1, Address: "http://b", Attempted: true, Error: "refused"},
		{EndpointID: 2, Address: "http://c"},
	}}}

	rows := view.Rows()
	require.Equal(t, "initialized", rows[0][2])
	require.Equal(t, "failed", rows[1][2])
	require.Equal(t, "skipped", rows[2][2])
	require.Equal(t, "1/3 initialized", view.Footer())
}

func TestEventsView(t *testing.T) {
	view := EventsView{EndpointID: 3, Events: []core.EndpointEvent{
		{EndpointID: 3, State: core.EndpointDisabled, Reason: "timeout", OccurredAt: time.Now()},
		{EndpointID: 3, State: core.EndpointAvailable, OccurredAt: time.Now()},
	}}

	require.Equal(t, "Endpoint 3 events", view.Title())
	rows := view.Rows()
	require.Len(t, rows, 2)
	require.Equal(t, "disabled", rows[0][1])
	require.Equal(t, "timeout", rows[0][2])
	require.Equal(t, "2 events", view.Footer())

	rendered, err := Render(FormatJSON, EventsView{})
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}
