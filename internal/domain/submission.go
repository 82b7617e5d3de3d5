package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubmissionRecord links a user to a sticker for one attempt. Append-only.
type SubmissionRecord struct {
	ID              int64
	UserID          string
	StickerUUID     uuid.UUID
	SubmittedAt     time.Time
	BlockedByPolicy bool
}
