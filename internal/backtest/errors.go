package backtest

import (
	"errors"
	"fmt"
)

// ErrDataInsufficient is matched by DataInsufficientError. Recoverable:
// the caller may retry once more market history has been ingested.
var ErrDataInsufficient = errors.New("insufficient market history")

// DataInsufficientError reports that the market context lacks enough
// history for the requested horizon. It carries the exact shortfall so
// the caller can tell how much more history is needed.
type DataInsufficientError struct {
	StrategyID    string
	Version       int
	HorizonMonths int
	Required      int // snapshots needed for the horizon
	Available     int // snapshots actually present
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("strategy %s@v%d: insufficient market history for %d-month horizon: have %d snapshots, need %d",
		e.StrategyID, e.Version, e.HorizonMonths, e.Available, e.Required)
}

// Is makes errors.Is(err, ErrDataInsufficient) match any DataInsufficientError.
func (e *DataInsufficientError) Is(target error) bool { return target == ErrDataInsufficient }
