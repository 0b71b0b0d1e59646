package domain

import "time"

// DecisionOutcome is the terminal state of one delivery attempt.
type DecisionOutcome string

const (
	OutcomeDelivered DecisionOutcome = "delivered"
	OutcomeSkipped   DecisionOutcome = "skipped"
	OutcomeFailed    DecisionOutcome = "failed" // transport failure after retry
)

// SkipReason is the machine-readable reason a delivery was withheld. Reasons
// map one-to-one onto the eligibility layers plus the scheduler's own
// deferral and fail-closed paths.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipSession    SkipReason = "session"
	SkipPermission SkipReason = "permission"
	SkipPreference SkipReason = "preference"
	SkipRateLimit  SkipReason = "rate_limit"
	SkipAPIKeys    SkipReason = "api"
	SkipCompliance SkipReason = "compliance"
	SkipDeferred   SkipReason = "deferred"    // pass deadline expired before evaluation
	SkipStoreError SkipReason = "store_error" // eligibility could not be confirmed
)

// DistributionDecision is the authoritative record of one (opportunity,
// user) delivery attempt. Every candidate evaluated in a pass produces
// exactly one decision, delivered or not.
type DistributionDecision struct {
	AttemptID     string // unique per attempt
	OpportunityID string
	UserID        string
	Outcome       DecisionOutcome
	SkipReason    SkipReason
	ChatContext   ChatContextType
	AttemptedAt   time.Time
}
