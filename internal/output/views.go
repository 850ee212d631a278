package output

import (
	"fmt"
	"strconv"
	"time"

	"github.com/solanago/solanago/internal/core"
	"github.com/solanago/solanago/internal/core/engine"
	"github.com/solanago/solanago/internal/model"
)

// PredictionView renders a single prediction.
type PredictionView struct {
	Prediction *engine.Prediction
}

func (v PredictionView) Title() string { return "Prediction" }
func (v PredictionView) Header() []string { return []string{"Field", "Value"} }
func (v PredictionView) Footer() string { return "" }
func (v PredictionView) Data() any { return v.Prediction }

func (v PredictionView) Rows() [][]string {
	p := v.Prediction
	if p == nil {
		return nil
	}
	rows := [][]string{
		{"ID", p.ID},
		{"Signature", p.Signature},
		{"Endpoint", endpointLabel(p.EndpointID, p.Address)},
		{"Slot", strconv.FormatUint(p.Confirmation.Slot, 10)},
		{"Latency", p.Latency.Round(time.Millisecond).String()},
	}
	if p.Output != nil {
		index, prob := p.Output.BestMove()
		rows = append(rows,
			[]string{"Value", formatFloat(p.Output.Value)},
			[]string{"Best move", fmt.Sprintf("%s (%.1f%%)", model.MoveName(index), prob*100)},
		)
	}
	return rows
}

// BatchView renders PredictBatch results in input order.
type BatchView struct {
	Results []engine.BatchResult
}

type batchItem struct {
	Index      int                `json:"index"`
	Prediction *engine.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (v BatchView) Title() string { return "Batch predictions" }

func (v BatchView) Header() []string {
	return []string{"#", "Status", "Endpoint", "Best move", "Value", "Error"}
}

func (v BatchView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Results))
	for _, r := range v.Results {
		if r.Err != nil {
			rows = append(rows, []string{strconv.Itoa(r.Index), "failed", "", "", "", r.Err.Error()})
			continue
		}
		move, value := "", ""
		if r.Prediction != nil && r.Prediction.Output != nil {
			index, _ := r.Prediction.Output.BestMove()
			move = model.MoveName(index)
			value = formatFloat(r.Prediction.Output.Value)
		}
		endpoint := ""
		if r.Prediction != nil {
			endpoint = endpointLabel(r.Prediction.EndpointID, r.Prediction.Address)
		}
		rows = append(rows, []string{strconv.Itoa(r.Index), "ok", endpoint, move, value, ""})
	}
	return rows
}

func (v BatchView) Footer() string {
	ok := 0
	for _, r := range v.Results {
		if r.Err == nil {
			ok++
		}
	}
	return fmt.Sprintf("%d/%d succeeded", ok, len(v.Results))
}

func (v BatchView) Data() any {
	items := make([]batchItem, len(v.Results))
	for i, r := range v.Results {
		items[i] = batchItem{Index: r.Index, Prediction: r.Prediction}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		}
	}
	return items
}

// NodesView renders the endpoint pool.
type NodesView struct {
	Status engine.Status
}

func (v NodesView) Title() string { return "Nodes" }

func (v NodesView) Header() []string {
	return []string{"ID", "Address", "State", "Tokens", "Errors", "Disabled until"}
}

func (v NodesView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Status.Endpoints))
	for _, ep := range v.Status.Endpoints {
		until := ""
		if ep.DisabledUntil != nil {
			until = ep.DisabledUntil.Local().Format(time.TimeOnly)
		}
		rows = append(rows, []string{
			strconv.Itoa(ep.ID),
			ep.Address,
			string(ep.State),
			fmt.Sprintf("%.1f/%.0f", ep.TokensAvailable, ep.Capacity),
			strconv.Itoa(ep.RecentErrors),
			until,
		})
	}
	return rows
}

func (v NodesView) Footer() string {
	return fmt.Sprintf("%d/%d available, queue depth %d", v.Status.Available, len(v.Status.Endpoints), v.Status.QueueDepth)
}

func (v NodesView) Data() any { return v.Status }

// HistoryView renders persisted prediction records.
type HistoryView struct {
	Records []core.PredictionRecord
}

func (v HistoryView) Title() string { return "Prediction history" }

func (v HistoryView) Header() []string {
	return []string{"Requested", "Status", "Endpoint", "Value", "Latency", "Message"}
}

func (v HistoryView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Records))
	for _, r := range v.Records {
		value := ""
		if r.Value != nil {
			value = formatFloat(*r.Value)
		}
		endpoint := ""
		if r.EndpointID >= 0 {
			endpoint = endpointLabel(r.EndpointID, r.Address)
		}
		rows = append(rows, []string{
			r.RequestedAt.Local().Format(time.DateTime),
			string(r.Status),
			endpoint,
			value,
			r.Latency.Round(time.Millisecond).String(),
			r.Message,
		})
	}
	return rows
}

func (v HistoryView) Footer() string {
	return fmt.Sprintf("%d records", len(v.Records))
}

func (v HistoryView) Data() any {
	if v.Records == nil {
		return []core.PredictionRecord{}
	}
	return v.Records
}

// EventsView renders the recorded state transitions of one endpoint.
type EventsView struct {
	EndpointID int
	Events     []core.EndpointEvent
}

func (v EventsView) Title() string { return fmt.Sprintf("Endpoint %d events", v.EndpointID) }

func (v EventsView) Header() []string {
	return []string{"Occurred", "State", "Reason"}
}

func (v EventsView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Events))
	for _, e := range v.Events {
		rows = append(rows, []string{e.OccurredAt.Local().Format(time.DateTime), string(e.State), e.Reason})
	}
	return rows
}

func (v EventsView) Footer() string {
	return fmt.Sprintf("%d events", len(v.Events))
}

func (v EventsView) Data() any {
	if v.Events == nil {
		return []core.EndpointEvent{}
	}
	return v.Events
}

// InitView renders a model initialization report.
type InitView struct {
	Report engine.InitReport
}

func (v InitView) Title() string { return "Model initialization" }

func (v InitView) Header() []string {
	return []string{"ID", "Address", "Result", "Signature", "Error"}
}

func (v InitView) Rows() [][]string {
	rows := make([][]string, 0, len(v.Report.Results))
	for _, r := range v.Report.Results {
		result := "skipped"
		switch {
		case r.Initialized:
			result = "initialized"
		case r.Attempted:
			result = "failed"
		}
		rows = append(rows, []string{strconv.Itoa(r.EndpointID), r.Address, result, r.Signature, r.Error})
	}
	return rows
}

func (v InitView) Footer() string {
	return fmt.Sprintf("%d/%d initialized", v.Report.Initialized(), len(v.Report.Results))
}

func (v InitView) Data() any { return v.Report }

func endpointLabel(id int, address string) string {
	if address == "" {
		return strconv.Itoa(id)
	}
	return fmt.Sprintf("%d (%s)", id, address)
}

func formatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', 4, 32)
}
