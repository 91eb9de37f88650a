package models

import "errors"

// Error taxonomy for settlement operations. Every error here is recoverable
// from the caller's perspective: the settlement and queue remain consistent,
// and no operation leaves partial state behind.
var (
	// ErrNotFound means the settlement ID is unknown.
	ErrNotFound = errors.New("settlement not found")

	// ErrUnauthorized means the caller lacks the role the operation
	// requires (wrong initiator, non-admin resolving a dispute, ...).
	ErrUnauthorized = errors.New("caller not authorized for this operation")

	// ErrNotFullyFunded means initiate was called before deposits
	// reached the settlement total.
	ErrNotFullyFunded = errors.New("settlement is not fully funded")

	// ErrOverfunded means a deposit would push the balance past the
	// settlement total.
	ErrOverfunded = errors.New("deposit exceeds settlement total")

	// ErrInsufficientFunds means a debit exceeds the deposited balance.
	ErrInsufficientFunds = errors.New("insufficient deposited funds")

	// ErrInvalidBatch means an execute count is non-positive or exceeds
	// the remaining unexecuted transfers.
	ErrInvalidBatch = errors.New("invalid execution batch size")

	// ErrQueueOrder means execute was attempted on a settlement that is
	// not at the head of the queue. Callers retry once their settlement
	// reaches the head; nothing blocks.
	ErrQueueOrder = errors.New("settlement is not at the queue head")

	// ErrAlreadyTerminal means a mutating call hit a FINALIZED or FAILED
	// settlement.
	ErrAlreadyTerminal = errors.New("settlement is in a terminal state")

	// ErrDisputed means execution or refund was attempted while the
	// settlement is halted pending dispute resolution.
	ErrDisputed = errors.New("settlement is disputed")

	// ErrPriceGuard means the secured price was unavailable, insecure, or
	// below the configured confidence threshold.
	ErrPriceGuard = errors.New("secured price unavailable or untrusted")

	// ErrTimeoutNotReached means refund was attempted before the
	// settlement's deadline.
	ErrTimeoutNotReached = errors.New("refund timeout not reached")

	// ErrInvalidAmount means an amount is zero or negative.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAmountOverflow means an int64 amount addition would wrap.
	ErrAmountOverflow = errors.New("amount arithmetic overflow")

	// ErrEmptyTransferList means a settlement was created without
	// transfers.
	ErrEmptyTransferList = errors.New("settlement requires at least one transfer")

	// ErrInvalidOutcome means a dispute resolution outcome was neither
	// "resume" nor "fail".
	ErrInvalidOutcome = errors.New("invalid dispute outcome")

	// ErrInvalidTransition means the requested operation is not valid
	// from the settlement's current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// AddAmount returns a+b, failing with ErrAmountOverflow instead of wrapping.
// Both operands are expected to be non-negative smallest-unit quantities.
func AddAmount(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}
