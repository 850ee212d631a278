package core

import "time"

// EndpointState identifies where an endpoint sits in the pool rotation.
type EndpointState string

const (
	EndpointAvailable EndpointState = "available"
	EndpointReserved  EndpointState = "reserved"
	EndpointDisabled  EndpointState = "disabled"
)

// EndpointEvent records a state transition for one endpoint.
type EndpointEvent struct {
	EndpointID    int           `json:"endpoint_id"`
	Address       string        `json:"address"`
	State         EndpointState `json:"state"`
	Reason        string        `json:"reason,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
	DisabledUntil *time.Time    `json:"disabled_until,omitempty"`
}

// PredictionStatus is the terminal status of a prediction request.
type PredictionStatus string

const (
	PredictionSucceeded PredictionStatus = "succeeded"
	PredictionFailed    PredictionStatus = "failed"
	PredictionTimedOut  PredictionStatus = "timed_out"
	PredictionRejected  PredictionStatus = "rejected"
)

// PredictionRecord captures the outcome of a single prediction request.
type PredictionRecord struct {
	ID          string           `json:"id"`
	Signature   string           `json:"signature,omitempty"`
	EndpointID  int              `json:"endpoint_id"`
	Address     string           `json:"address,omitempty"`
	Status      PredictionStatus `json:"status"`
	Message     string           `json:"message,omitempty"`
	Value       *float32         `json:"value,omitempty"`
	Latency     time.Duration    `json:"latency"`
	RequestedAt time.Time        `json:"requested_at"`
	ResolvedAt  time.Time        `json:"resolved_at"`
}
