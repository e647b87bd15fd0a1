package domain

// RiskProfile captures a user's risk attitude as extracted by the
// intent-extraction collaborator. Immutable once captured.
type RiskProfile struct {
	RiskTolerance        string  // "conservative" | "balanced" | "aggressive"
	MaxDrawdownTolerance float64 // worst acceptable peak-to-trough loss, fraction (0.15 = 15%)
	LossAversionScore    float64 // 0..1, higher means more loss-averse
}

// Preferences holds user-level presentation and gating preferences.
type Preferences struct {
	ExplainableOnly      bool   // only surface strategies with an explainability trace
	NotificationPriority string // "low" | "normal" | "high"
	ReportingFrequency   string // "daily" | "weekly" | "monthly"
}

// UserProfile is an immutable snapshot of user identity and constraints.
// Owned by the intent-extraction boundary; the engine only reads it by ID.
type UserProfile struct {
	UserID      string
	Name        string
	WealthTier  string
	Residence   string
	Risk        RiskProfile
	Preferences Preferences
	CreatedAt   int64 // unix ms
}

// Risk tolerance constants.
const (
	RiskConservative = "conservative"
	RiskBalanced     = "balanced"
	RiskAggressive   = "aggressive"
)
