package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sticker is the catalog entry for one external sticker id.
// Banned stickers are never visible.
type Sticker struct {
	UUID          uuid.UUID
	StickerID     string
	StoragePath   string
	FileExtension string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Visible       bool
	Banned        bool
	BanReason     string
	BoostFactor   int
}

// ModerationAction is one of the four admin transitions on a sticker.
type ModerationAction string

const (
	ActionBan   ModerationAction = "ban"
	ActionUnban ModerationAction = "unban"
	ActionHide  ModerationAction = "hide"
	ActionShow  ModerationAction = "show"
)

// ParseModerationAction maps a request value onto a known action.
func ParseModerationAction(s string) (ModerationAction, error) {
	switch a := ModerationAction(s); a {
	case ActionBan, ActionUnban, ActionHide, ActionShow:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// Apply returns the sticker after the given moderation action.
//
//	ban   -> banned, hidden, reason recorded
//	unban -> not banned, reason cleared, visibility unchanged
//	hide  -> hidden
//	show  -> visible; rejected while banned
func (s Sticker) Apply(action ModerationAction, reason string) (Sticker, error) {
	switch action {
	case ActionBan:
		s.Banned = true
		s.Visible = false
		s.BanReason = reason
	case ActionUnban:
		s.Banned = false
		s.BanReason = ""
	case ActionHide:
		s.Visible = false
	case ActionShow:
		if s.Banned {
			return s, fmt.Errorf("%w: sticker %s is banned, unban it first", ErrInvalidTransition, s.UUID)
		}
		s.Visible = true
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return s, nil
}

// Displayable reports whether the sticker belongs on the wall.
func (s Sticker) Displayable() bool {
	return s.Visible && !s.Banned
}

// StickerUsage is a sticker enriched for the admin listing.
type StickerUsage struct {
	Sticker
	AcceptedCount   int
	BlockedCount    int
	LastSubmittedAt *time.Time
	Users           []UserRef
}

// UserRef identifies a submitting user in listings.
type UserRef struct {
	UserID      string
	Username    string
	DisplayName string
}

// Submission carries everything needed to persist one accepted sticker.
type Submission struct {
	Profile       UserProfile
	StickerID     string
	FileExtension string
	StoragePath   string
	Blocked       bool
	// Limit, when set, is re-checked inside the write transaction.
	Limit *SubmissionLimit
}

// SubmissionLimit caps a user's counted submissions after Since.
type SubmissionLimit struct {
	Max          int
	Since        time.Time
	CountBlocked bool
}

// SubmissionOutcome is the committed result of a submission.
type SubmissionOutcome struct {
	Sticker Sticker
	User    SubmittingUser
	IsNew   bool
}

// BeforeCommitFunc runs inside the catalog transaction once the sticker row is
// resolved. Returning an error rolls the whole unit back.
type BeforeCommitFunc func(ctx context.Context, sticker Sticker, isNew bool) error

// StickerRepository persists the sticker catalog.
type StickerRepository interface {
	UpsertSticker(ctx context.Context, stickerID, fileExtension, storagePath string, beforeCommit BeforeCommitFunc) (*Sticker, bool, error)
	Submit(ctx context.Context, sub Submission, beforeCommit BeforeCommitFunc) (*SubmissionOutcome, error)
	RecordSubmission(ctx context.Context, userID string, stickerUUID uuid.UUID, blocked bool) error
	RecordBlocked(ctx context.Context, userID, stickerID string) (bool, error)
	GetSticker(ctx context.Context, id uuid.UUID) (*Sticker, error)
	GetStickerByExternalID(ctx context.Context, stickerID string) (*Sticker, error)
	UpdateSticker(ctx context.Context, id uuid.UUID, mutate func(Sticker) (Sticker, error)) (*Sticker, error)
	ListVisible(ctx context.Context, limit int) ([]Sticker, error)
	ListAll(ctx context.Context) ([]StickerUsage, error)
}
