package domain

// Decision states. A decision starts proposed and terminates in
// exactly one of accepted, modified or rejected. Terminal states are
// final; re-deciding a terminal decision is an invalid transition.
const (
	DecisionProposed = "proposed"
	DecisionAccepted = "accepted"
	DecisionModified = "modified"
	DecisionRejected = "rejected"
)

// Rejection reason codes, recorded for learning-signal use.
const (
	ReasonTooRisky        = "too_risky"
	ReasonLowConfidence   = "low_confidence"
	ReasonHorizonMismatch = "horizon_mismatch"
	ReasonNotExplainable  = "not_explainable"
	ReasonOther           = "other"
)

// Decision is the human-in-the-loop checkpoint for one strategy
// version. Exactly one terminal outcome is ever recorded per decision.
type Decision struct {
	DecisionID string
	Strategy   VersionRef
	UserID     string
	State      string      // proposed | accepted | modified | rejected
	ReasonCode string      // set when State is rejected
	Modified   *VersionRef // fork created when State is modified
	NextID     string      // decision proposed against the fork
	CreatedAt  int64       // unix ms
	DecidedAt  int64       // unix ms, zero while proposed
}

// Terminal reports whether the decision has reached a final state.
func (d *Decision) Terminal() bool {
	return d.State != DecisionProposed
}

// Feedback is optional qualitative feedback attached to a decided
// strategy, supplied through the user-feedback boundary.
type Feedback struct {
	DecisionID string
	Rating     int // 1..5
	Comment    string
}
