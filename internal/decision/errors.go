package decision

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is matched by InvalidTransitionError. Not
// retryable: it signals a logic error, not contention.
var ErrInvalidTransition = errors.New("invalid decision transition")

// InvalidTransitionError reports an illegal decision state transition,
// including an attempt to re-decide a terminal decision or to propose
// a decision against a strategy that is not proposable.
type InvalidTransitionError struct {
	DecisionID string
	StrategyID string
	Version    int
	From       string
	To         string
}

func (e *InvalidTransitionError) Error() string {
	if e.DecisionID != "" {
		return fmt.Sprintf("decision %s: invalid transition %s -> %s", e.DecisionID, e.From, e.To)
	}
	return fmt.Sprintf("strategy %s@v%d: invalid transition %s -> %s", e.StrategyID, e.Version, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) match any InvalidTransitionError.
func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }
