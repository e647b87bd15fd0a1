package domain

// Trade action types inside an execution trace. Compensation entries
// correct earlier actions by appending, never by editing.
const (
	TraceActionBuy        = "buy"
	TraceActionSell       = "sell"
	TraceActionRebalance  = "rebalance"
	TraceActionCompensate = "compensate"
)

// ActionRecord is one entry in an execution trace's ordered action log.
type ActionRecord struct {
	Seq         int // 1-based position in the trace, assigned by the store
	ActionType  string
	Symbol      string
	Quantity    float64
	Price       float64
	Timestamp   int64 // unix ms
	Compensates int   // seq of the action this entry corrects, 0 if none
	Note        string
}

// ExecutionTrace is the append-only action log created when a decision
// is accepted (directly or via a modified fork). The engine guarantees
// the container exists with exactly one trace per accepted decision;
// the execution boundary populates the actions.
type ExecutionTrace struct {
	TraceID     string
	DecisionID  string
	Actions     []ActionRecord
	StartedAt   int64 // unix ms
	CompletedAt int64 // unix ms, zero while open
}

// Completed reports whether the trace has been closed by execution.
func (t *ExecutionTrace) Completed() bool {
	return t.CompletedAt != 0
}
