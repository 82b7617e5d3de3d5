package ingest

import "github.com/RustyBraze/Stickerwall/internal/domain"

// State is the furthest point a submission reached.
type State int

const (
	StateReceived State = iota
	StatePolicyChecked
	StateRejected
	StateAccepted
	StatePersisted
	StateBroadcast
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StatePolicyChecked:
		return "policy_checked"
	case StateRejected:
		return "rejected"
	case StateAccepted:
		return "accepted"
	case StatePersisted:
		return "persisted"
	case StateBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Outcome labels the result for logs and metrics.
type Outcome string

const (
	OutcomeMalformed         Outcome = "malformed"
	OutcomeUserBanned        Outcome = "user_banned"
	OutcomeStickerBanned     Outcome = "sticker_banned"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomePersistenceFailed Outcome = "persistence_failed"
	OutcomeAccepted          Outcome = "accepted"
)

type Result struct {
	State    State
	Outcome  Outcome
	Decision domain.Decision
	Sticker  *domain.Sticker
	IsNew    bool
	// Warned is set when a rate-limited submission went through in warn mode.
	Warned bool
	Err    error
}

func rejected(outcome Outcome, decision domain.Decision, err error) Result {
	return Result{State: StateRejected, Outcome: outcome, Decision: decision, Err: err}
}
