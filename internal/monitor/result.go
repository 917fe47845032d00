package monitor

import (
	"context"
	"math/big"
)

// Sink delivers operator-facing alert text. Delivery failures are logged
// by the caller, never treated as fatal.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// EventSink receives fire-and-forget live-update events.
type EventSink interface {
	Broadcast(event string, payload any)
	LogEvent(source, message, level string)
}

// Observation is the outcome of one balance check.
type Observation struct {
	Changed          bool
	Delta            *big.Int // signed, wei
	NewBalance       *big.Int
	SnapshotID       int64
	NotificationSent bool

	// ShouldForward is set when the delta is positive and the wallet has
	// forwarding enabled. The caller invokes the forwarder after the
	// observation has been committed, never before.
	ShouldForward bool
}

// SkipReason classifies why a forwarding attempt did nothing. Skips are
// expected conditions, not errors.
type SkipReason string

const (
	SkipNoReceiver               SkipReason = "no_receiver_configured"
	SkipNoRPC                    SkipReason = "no_rpc_configured"
	SkipNoSigningKey             SkipReason = "no_signing_key"
	SkipInsufficientAfterReserve SkipReason = "insufficient_after_reserve"
	SkipBelowMinimum             SkipReason = "below_minimum"
)

// ForwardOutcome is the top-level result class of a forwarding attempt.
type ForwardOutcome int

const (
	Forwarded ForwardOutcome = iota
	Skipped
	Failed
)

func (o ForwardOutcome) String() string {
	switch o {
	case Forwarded:
		return "forwarded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ForwardResult reports what a forwarding attempt did. Exactly one of
// TxHash/Reason/Err is meaningful depending on Outcome.
type ForwardResult struct {
	Outcome ForwardOutcome
	TxHash  string
	Amount  *big.Int
	Reason  SkipReason
	Err     error
}

func forwarded(txHash string, amount *big.Int) ForwardResult {
	return ForwardResult{Outcome: Forwarded, TxHash: txHash, Amount: amount}
}

func skipped(reason SkipReason) ForwardResult {
	return ForwardResult{Outcome: Skipped, Reason: reason}
}

func failed(err error) ForwardResult {
	return ForwardResult{Outcome: Failed, Err: err}
}
