// Package policy decides whether a sticker submission may proceed.
//
// Decide is a pure function over Inputs; Store gathers those inputs from the
// catalog and applies the configured defaults.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Inputs is everything a decision depends on.
type Inputs struct {
	UserBanned        bool
	StickerBanned     bool
	RecentSubmissions int
	Policy            domain.RateLimitPolicy
}

// Decide applies, in order: user ban, sticker ban, rate limit.
func Decide(in Inputs) domain.Decision {
	switch {
	case in.UserBanned:
		return domain.DecisionDenyUserBanned
	case in.StickerBanned:
		return domain.DecisionDenyStickerBanned
	case in.RecentSubmissions >= in.Policy.MaxSubmissions:
		return domain.DecisionDenyRateLimited
	default:
		return domain.DecisionAllow
	}
}

type Config struct {
	Default domain.RateLimitPolicy
	// CountBlocked includes policy-blocked attempts in the rate-limit count.
	CountBlocked bool
}

type Store struct {
	reader domain.PolicyReader
	config Config
	clock  clockwork.Clock
}

func NewStore(reader domain.PolicyReader, config Config, clock clockwork.Clock) *Store {
	return &Store{reader: reader, config: config, clock: clock}
}

// Evaluation is a decision together with the inputs that produced it.
type Evaluation struct {
	Decision domain.Decision
	Inputs   Inputs
	// Limit is the rate limit to re-check when persisting. Nil when a ban
	// decided.
	Limit *domain.SubmissionLimit
}

// Evaluate loads the user's ban state and override, the sticker's ban state
// and the user's recent submission count, then decides. Unknown users and
// stickers are treated as unbanned with no history.
func (s *Store) Evaluate(ctx context.Context, userID, stickerID string) (Evaluation, error) {
	in := Inputs{Policy: s.config.Default}

	user, err := s.reader.GetUser(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
	case err != nil:
		return Evaluation{}, fmt.Errorf("policy: load user: %w", err)
	default:
		in.UserBanned = user.Banned
		if user.Policy != nil {
			in.Policy = *user.Policy
		}
	}
	if in.UserBanned {
		return Evaluation{Decision: Decide(in), Inputs: in}, nil
	}

	sticker, err := s.reader.GetStickerByExternalID(ctx, stickerID)
	switch {
	case errors.Is(err, domain.ErrStickerNotFound):
	case err != nil:
		return Evaluation{}, fmt.Errorf("policy: load sticker: %w", err)
	default:
		in.StickerBanned = sticker.Banned
	}
	if in.StickerBanned {
		return Evaluation{Decision: Decide(in), Inputs: in}, nil
	}

	limit := &domain.SubmissionLimit{
		Max:          in.Policy.MaxSubmissions,
		Since:        s.clock.Now().Add(-in.Policy.Window()),
		CountBlocked: s.config.CountBlocked,
	}
	if user != nil {
		in.RecentSubmissions, err = s.reader.CountSubmissionsSince(ctx, userID, limit.Since, limit.CountBlocked)
		if err != nil {
			return Evaluation{}, fmt.Errorf("policy: count submissions: %w", err)
		}
	}

	return Evaluation{Decision: Decide(in), Inputs: in, Limit: limit}, nil
}
