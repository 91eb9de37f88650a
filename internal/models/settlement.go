package models

// State is the lifecycle state of a settlement.
type State string

const (
	// StatePending means the settlement exists and is collecting deposits.
	StatePending State = "PENDING"

	// StateInitiated means the settlement is fully funded and queued for
	// execution at its assigned queue position.
	StateInitiated State = "INITIATED"

	// StateExecuting means at least one transfer batch has been executed
	// but the settlement has not finalized yet.
	StateExecuting State = "EXECUTING"

	// StateFinalized means every transfer executed. Terminal.
	StateFinalized State = "FINALIZED"

	// StateDisputed means execution and refunds are halted until an admin
	// resolves the dispute.
	StateDisputed State = "DISPUTED"

	// StateFailed means the settlement timed out and deposits were
	// refunded. Terminal.
	StateFailed State = "FAILED"
)

// AllowedTransitions defines the valid state transitions.
// The key is the current state, the value the set of valid target states.
var AllowedTransitions = map[State][]State{
	StatePending:   {StateInitiated, StateDisputed, StateFailed},
	StateInitiated: {StateExecuting, StateFinalized, StateDisputed, StateFailed},
	StateExecuting: {StateFinalized, StateDisputed, StateFailed},
	StateDisputed:  {StateInitiated, StateExecuting, StateFailed},
	StateFinalized: {},
	StateFailed:    {},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to State) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state permits no further mutation.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// Settlement represents one funded batch of transfers.
type Settlement struct {
	// ID is unique and monotonically assigned; IDs are never reused.
	ID int64 `json:"id"`

	// Initiator is the user ID of the creator. Only this identity may
	// initiate the settlement.
	Initiator string `json:"initiator"`

	// TotalAmount is the sum of all transfer amounts at creation time.
	// Immutable after creation.
	TotalAmount int64 `json:"totalAmount"`

	// TotalDeposited is the escrow balance still held for this settlement.
	// It never exceeds TotalAmount, decreases as executed transfers
	// disburse funds, and drains to zero on refund.
	TotalDeposited int64 `json:"totalDeposited"`

	State State `json:"state"`

	// CreatedAt is the Unix timestamp when the settlement was created.
	CreatedAt int64 `json:"createdAt"`

	// Timeout is the refund deadline in seconds after CreatedAt.
	Timeout int64 `json:"timeout"`

	// QueuePosition is assigned at initiate time and defines FIFO rank.
	// Nil until the settlement enters the queue.
	QueuePosition *int64 `json:"queuePosition,omitempty"`

	TotalTransfers    int `json:"totalTransfers"`
	ExecutedTransfers int `json:"executedTransfers"`

	// PriceSymbol, when non-empty, marks the settlement's valuation as
	// price-denominated: initiation requires a secured quote for this
	// symbol from the price guard.
	PriceSymbol string `json:"priceSymbol,omitempty"`

	// DisputeReason is set when the settlement enters DISPUTED.
	DisputeReason string `json:"disputeReason,omitempty"`
}

// FullyFunded reports whether deposits cover the settlement total.
func (s *Settlement) FullyFunded() bool {
	return s.TotalDeposited == s.TotalAmount
}

// RefundDeadline is the Unix timestamp after which refund becomes eligible.
func (s *Settlement) RefundDeadline() int64 {
	return s.CreatedAt + s.Timeout
}

// Transfer represents one line item of a settlement.
// The Executed flag is monotonic: it never reverts to false.
type Transfer struct {
	SettlementID int64 `json:"settlementId"`

	// Index is the position in the original transfer list; execution
	// order follows Index ascending.
	Index int `json:"index"`

	From     string `json:"from"`
	To       string `json:"to"`
	Amount   int64  `json:"amount"`
	Executed bool   `json:"executed"`
}

// Deposit records one depositor's contribution toward a settlement.
// Refunds return each depositor exactly the sum of their deposits.
type Deposit struct {
	SettlementID int64  `json:"settlementId"`
	Depositor    string `json:"depositor"`
	Amount       int64  `json:"amount"`
	CreatedAt    int64  `json:"createdAt"`
}

// DisputeOutcome is an admin's resolution of a disputed settlement.
type DisputeOutcome string

const (
	// OutcomeResume returns the settlement to the queue at its original
	// position (INITIATED, or EXECUTING if partial progress exists).
	OutcomeResume DisputeOutcome = "resume"

	// OutcomeFail refunds all depositors and fails the settlement.
	OutcomeFail DisputeOutcome = "fail"
)
