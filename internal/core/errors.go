package core

import (
	"context"
	"errors"
)

// Dispatch error taxonomy. Callers match with errors.Is; the concrete errors
// returned by the pool, queue and dispatcher wrap these with context.
var (
	// ErrNoNodesAvailable means every endpoint is reserved or cooling down.
	ErrNoNodesAvailable = errors.New("no nodes available")

	// ErrQueueFull means the request queue rejected work for admission.
	ErrQueueFull = errors.New("request queue is full")

	// ErrTimeout means no correlated response arrived before the deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrChannelClosed means the queue plumbing is gone (shutdown or a bug).
	ErrChannelClosed = errors.New("response channel closed")

	// ErrInitialization means the model initialization broadcast was aborted.
	ErrInitialization = errors.New("model initialization failed")

	// ErrPredictionFailed means the endpoint-level submission failed.
	ErrPredictionFailed = errors.New("prediction failed")

	// ErrDuplicateRequest means a request with the same correlation key is
	// already pending.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrInvalidInput means the request was rejected before dispatch.
	ErrInvalidInput = errors.New("invalid input")
)

// IsTimeout reports whether err is a dispatch timeout or a context deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsAdmissionRejection reports whether err was raised before any endpoint
// was contacted, so the endpoint itself is not at fault.
func IsAdmissionRejection(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrDuplicateRequest)
}
