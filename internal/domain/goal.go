package domain

// Goal is a versioned investment objective supplied by the
// intent-extraction collaborator. Downstream entities reference it by
// (GoalID, Version); a goal version is never edited after creation.
type Goal struct {
	GoalID        string
	Version       int
	UserID        string
	Description   string
	TargetAmount  float64
	HorizonMonths int
	Constraints   []string // free-form constraint labels ("no_leverage", "esg_only", ...)
	CreatedAt     int64    // unix ms
}

// GoalRef is an immutable reference to a specific goal version.
type GoalRef struct {
	GoalID  string
	Version int
}
