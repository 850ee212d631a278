package ledger

import (
	"context"
	"time"
)

// Commitment levels, weakest first.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// ValidCommitment reports whether level is a known commitment level.
func ValidCommitment(level string) bool {
	return commitmentRank(level) > 0
}

func commitmentRank(level string) int {
	switch level {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Confirmation describes a transaction that reached the requested commitment.
type Confirmation struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	Commitment  string    `json:"commitment"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Backend is the ledger collaborator the dispatcher submits work to. Any
// error is treated as one endpoint-level failure.
type Backend interface {
	// SubmitAndConfirm sends a signed transaction and blocks until it is
	// confirmed or fails.
	SubmitAndConfirm(ctx context.Context, tx *Transaction) (Confirmation, error)

	// CurrentAnchor returns a recent anchor to stamp new transactions with.
	CurrentAnchor(ctx context.Context) (Anchor, error)

	// ReadAccount returns the raw data stored in an account.
	ReadAccount(ctx context.Context, address string) ([]byte, error)
}
