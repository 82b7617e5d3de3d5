package domain

// Decision is the outcome of a policy evaluation.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionDenyUserBanned
	DecisionDenyStickerBanned
	DecisionDenyRateLimited
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDenyUserBanned:
		return "deny_user_banned"
	case DecisionDenyStickerBanned:
		return "deny_sticker_banned"
	case DecisionDenyRateLimited:
		return "deny_rate_limited"
	default:
		return "unknown"
	}
}

// IsBan reports whether the decision is an early reject caused by a ban.
func (d Decision) IsBan() bool {
	return d == DecisionDenyUserBanned || d == DecisionDenyStickerBanned
}
