package domain

import (
	"context"
	"fmt"
	"time"
)

// SubmittingUser is a chat user who has sent at least one sticker.
type SubmittingUser struct {
	UserID           string
	Username         string
	DisplayName      string
	LastChatRef      string
	CreatedAt        time.Time
	LastSubmissionAt time.Time
	Banned           bool
	BanReason        string
	Policy           *RateLimitPolicy
}

// UserProfile is the identity a producer reports with each submission.
type UserProfile struct {
	UserID      string
	Username    string
	DisplayName string
	ChatRef     string
}

// MaxWindowSeconds caps a rate-limit window at one year.
const MaxWindowSeconds int64 = 365 * 24 * 60 * 60

// RateLimitPolicy bounds submissions per user within a sliding window.
type RateLimitPolicy struct {
	MaxSubmissions int   `json:"max_submissions"`
	WindowSeconds  int64 `json:"window_seconds"`
}

// NewRateLimitPolicy builds a policy from a count and a window.
func NewRateLimitPolicy(maxSubmissions int, window time.Duration) RateLimitPolicy {
	return RateLimitPolicy{MaxSubmissions: maxSubmissions, WindowSeconds: int64(window / time.Second)}
}

func (p RateLimitPolicy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

// Validate rejects policies that cannot be enforced.
func (p RateLimitPolicy) Validate() error {
	if p.MaxSubmissions < 1 {
		return fmt.Errorf("max_submissions must be at least 1, got %d", p.MaxSubmissions)
	}
	if p.WindowSeconds < 1 {
		return fmt.Errorf("window_seconds must be at least 1, got %d", p.WindowSeconds)
	}
	if p.WindowSeconds > MaxWindowSeconds {
		return fmt.Errorf("window_seconds must be at most %d, got %d", MaxWindowSeconds, p.WindowSeconds)
	}
	return nil
}

// UserRepository persists submitting users.
type UserRepository interface {
	UpsertUser(ctx context.Context, profile UserProfile) (*SubmittingUser, error)
	GetUser(ctx context.Context, userID string) (*SubmittingUser, error)
	UpdateUser(ctx context.Context, userID string, mutate func(SubmittingUser) (SubmittingUser, error)) (*SubmittingUser, error)
	ListUsers(ctx context.Context) ([]SubmittingUser, error)
}

// PolicyReader supplies the inputs of a policy decision.
type PolicyReader interface {
	GetUser(ctx context.Context, userID string) (*SubmittingUser, error)
	GetStickerByExternalID(ctx context.Context, stickerID string) (*Sticker, error)
	CountSubmissionsSince(ctx context.Context, userID string, since time.Time, includeBlocked bool) (int, error)
}
