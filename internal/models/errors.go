package models

import "errors"

// Cycle abort conditions. Every abort is local to one cycle: the cycle logs
// the decision context and produces no trade. Callers classify with errors.Is.
var (
	// ErrDataUnavailable means no spot/vol data could be fetched this cycle.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrInvalidSignal means every strike source violated the minimum-distance
	// invariant, or no positive credit could be obtained.
	ErrInvalidSignal = errors.New("invalid trade signal")

	// ErrSizingFailure means max loss per contract was non-positive (credit at
	// or above width, a mispriced or illiquid quote).
	ErrSizingFailure = errors.New("position sizing failed")

	// ErrRiskGateRejected means a pre-trade risk check vetoed the signal.
	ErrRiskGateRejected = errors.New("risk gate rejected signal")

	// ErrDuplicateSubmission means the idempotency key is already pending or
	// completed; the caller must short-circuit to the cached result or back
	// off, never resubmit.
	ErrDuplicateSubmission = errors.New("duplicate submission")

	// ErrBrokerRejected means the broker refused the order; no position was
	// created and the next cycle may retry with a fresh key.
	ErrBrokerRejected = errors.New("broker rejected order")

	// ErrUnknownOutcome means order submission timed out; the idempotency key
	// stays pending and must be reconciled against the broker before any
	// further action.
	ErrUnknownOutcome = errors.New("order outcome unknown")

	// ErrStorageUnavailable means the durable store is unreachable. This is
	// the only condition fatal enough to skip an entire cycle: never trade
	// without a working dedup guarantee.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
