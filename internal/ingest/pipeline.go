package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/catalog"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/RustyBraze/Stickerwall/internal/policy"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

const DefaultPersistTimeout = 5 * time.Second

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, userID, stickerID string) (policy.Evaluation, error)
}

type Catalog interface {
	Ingest(ctx context.Context, req catalog.IngestRequest) (*domain.SubmissionOutcome, error)
	RecordBlocked(ctx context.Context, userID, stickerID string) (bool, error)
}

type Broadcaster interface {
	Broadcast(event domain.Event) (int, error)
}

// Notifier replies to the producer that sent a submission.
type Notifier interface {
	Notify(event domain.Event) bool
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(domain.Event) bool

func (f NotifierFunc) Notify(event domain.Event) bool { return f(event) }

// Observer receives per-submission measurements.
type Observer interface {
	SubmissionProcessed(outcome string)
	PersistDuration(d time.Duration)
}

type noopObserver struct{}

func (noopObserver) SubmissionProcessed(string)    {}
func (noopObserver) PersistDuration(time.Duration) {}

type Config struct {
	// WarnOnRateLimit lets rate-limited submissions through with a notice.
	WarnOnRateLimit bool
	// RecordBlocked appends an audit row for rate-limited attempts.
	RecordBlocked bool
	// AuditBanned appends an audit row for attempts rejected by a ban.
	AuditBanned    bool
	PersistTimeout time.Duration
}

type Pipeline struct {
	policy      PolicyEvaluator
	catalog     Catalog
	broadcaster Broadcaster
	observer    Observer
	validate    *validator.Validate
	clock       clockwork.Clock
	config      Config
}

func NewPipeline(policy PolicyEvaluator, catalog Catalog, broadcaster Broadcaster, observer Observer, clock clockwork.Clock, config Config) *Pipeline {
	if observer == nil {
		observer = noopObserver{}
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = DefaultPersistTimeout
	}
	return &Pipeline{
		policy:      policy,
		catalog:     catalog,
		broadcaster: broadcaster,
		observer:    observer,
		validate:    newValidator(),
		clock:       clock,
		config:      config,
	}
}

// Process handles one sticker message. notifier may be nil.
func (p *Pipeline) Process(ctx context.Context, msg domain.StickerSubmission, notifier Notifier) Result {
	res := p.process(ctx, msg, notifier)
	p.observer.SubmissionProcessed(string(res.Outcome))

	attrs := []any{
		"user_id", string(msg.TelegramUserID),
		"sticker_id", msg.StickerID,
		"outcome", string(res.Outcome),
		"state", res.State.String(),
	}
	switch {
	case res.Outcome == OutcomePersistenceFailed:
		slog.ErrorContext(ctx, "Sticker submission failed", append(attrs, "error", res.Err)...)
	case res.State == StateRejected:
		slog.InfoContext(ctx, "Sticker submission rejected", append(attrs, "error", res.Err)...)
	default:
		slog.InfoContext(ctx, "Sticker submission accepted", append(attrs, "boost_factor", res.Sticker.BoostFactor, "new", res.IsNew)...)
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, msg domain.StickerSubmission, notifier Notifier) Result {
	payload, err := decodeSubmission(p.validate, msg)
	if err != nil {
		return rejected(OutcomeMalformed, domain.DecisionAllow, err)
	}
	ext := strings.ToLower(msg.FileExtension)
	userID := string(msg.TelegramUserID)

	ctx, cancel := context.WithTimeout(ctx, p.config.PersistTimeout)
	defer cancel()

	eval, err := p.policy.Evaluate(ctx, userID, msg.StickerID)
	if err != nil {
		return rejected(OutcomePersistenceFailed, domain.DecisionAllow, err)
	}

	warned := false
	switch eval.Decision {
	case domain.DecisionDenyUserBanned, domain.DecisionDenyStickerBanned:
		if p.config.AuditBanned {
			p.recordBlocked(ctx, userID, msg.StickerID)
		}
		return rejected(banOutcome(eval.Decision), eval.Decision, nil)

	case domain.DecisionDenyRateLimited:
		if !p.config.WarnOnRateLimit {
			return p.denyRateLimited(ctx, msg, eval.Inputs.Policy, notifier)
		}
		warned = true
	}

	req := catalog.IngestRequest{
		Profile:       msg.Profile(),
		StickerID:     msg.StickerID,
		FileExtension: ext,
		Payload:       payload,
	}
	if !p.config.WarnOnRateLimit {
		req.Limit = eval.Limit
	}

	start := p.clock.Now()
	outcome, err := p.catalog.Ingest(ctx, req)
	p.observer.PersistDuration(p.clock.Since(start))
	if errors.Is(err, domain.ErrStickerBanned) {
		return rejected(OutcomeStickerBanned, domain.DecisionDenyStickerBanned, nil)
	}
	if errors.Is(err, domain.ErrRateLimited) {
		// Another submission from the same user committed first.
		return p.denyRateLimited(ctx, msg, eval.Inputs.Policy, notifier)
	}
	if err != nil {
		return rejected(OutcomePersistenceFailed, eval.Decision, fmt.Errorf("failed to persist submission: %w", err))
	}

	if warned {
		p.notifyRateLimited(notifier, msg, eval.Inputs.Policy, true)
	}

	res := Result{
		State:    StatePersisted,
		Outcome:  OutcomeAccepted,
		Decision: eval.Decision,
		Sticker:  &outcome.Sticker,
		IsNew:    outcome.IsNew,
		Warned:   warned,
	}
	if !outcome.Sticker.Displayable() {
		return res
	}

	if _, err := p.broadcaster.Broadcast(domain.StickerAddEvent(outcome.Sticker)); err != nil {
		// Persisted state stands; the next replay carries it.
		slog.WarnContext(ctx, "Failed to broadcast sticker", "sticker_uuid", outcome.Sticker.UUID, "error", err)
		return res
	}
	res.State = StateBroadcast
	return res
}

func (p *Pipeline) denyRateLimited(ctx context.Context, msg domain.StickerSubmission, limit domain.RateLimitPolicy, notifier Notifier) Result {
	if p.config.RecordBlocked {
		p.recordBlocked(ctx, string(msg.TelegramUserID), msg.StickerID)
	}
	p.notifyRateLimited(notifier, msg, limit, false)
	return rejected(OutcomeRateLimited, domain.DecisionDenyRateLimited, nil)
}

func (p *Pipeline) recordBlocked(ctx context.Context, userID, stickerID string) {
	recorded, err := p.catalog.RecordBlocked(ctx, userID, stickerID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to record blocked attempt", "user_id", userID, "sticker_id", stickerID, "error", err)
		return
	}
	if !recorded {
		slog.DebugContext(ctx, "Blocked attempt not recorded, user or sticker unknown", "user_id", userID, "sticker_id", stickerID)
	}
}

func (p *Pipeline) notifyRateLimited(notifier Notifier, msg domain.StickerSubmission, limit domain.RateLimitPolicy, accepted bool) {
	if notifier == nil {
		return
	}
	text := fmt.Sprintf("Rate limit reached: at most %d stickers per %s.", limit.MaxSubmissions, limit.Window())
	if accepted {
		text += " This sticker was still accepted."
	}
	notifier.Notify(domain.PolicyNoticeEvent(domain.PolicyNotice{
		UserID:   string(msg.TelegramUserID),
		ChatRef:  string(msg.ChatID),
		Reason:   string(OutcomeRateLimited),
		Accepted: accepted,
		Message:  text,
	}))
}

func banOutcome(d domain.Decision) Outcome {
	if d == domain.DecisionDenyUserBanned {
		return OutcomeUserBanned
	}
	return OutcomeStickerBanned
}
