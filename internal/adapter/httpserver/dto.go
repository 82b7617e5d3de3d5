package httpserver

import (
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type stickerUserResponse struct {
	UserID      string `json:"telegram_user_id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type stickerResponse struct {
	UUID            uuid.UUID             `json:"uuid"`
	StickerID       string                `json:"sticker_id"`
	Path            string                `json:"path"`
	FileExtension   string                `json:"file_extension"`
	Visible         bool                  `json:"visible"`
	Banned          bool                  `json:"banned"`
	BanReason       string                `json:"ban_reason,omitempty"`
	BoostFactor     int                   `json:"boost_factor"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	AcceptedCount   int                   `json:"accepted_count"`
	BlockedCount    int                   `json:"blocked_count"`
	LastSubmittedAt *time.Time            `json:"last_submitted_at,omitempty"`
	Users           []stickerUserResponse `json:"users"`
}

func newStickerResponse(s domain.Sticker) stickerResponse {
	return stickerResponse{
		UUID:          s.UUID,
		StickerID:     s.StickerID,
		Path:          s.StoragePath,
		FileExtension: s.FileExtension,
		Visible:       s.Visible,
		Banned:        s.Banned,
		BanReason:     s.BanReason,
		BoostFactor:   s.BoostFactor,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		Users:         []stickerUserResponse{},
	}
}

func newStickerUsageResponse(u domain.StickerUsage) stickerResponse {
	resp := newStickerResponse(u.Sticker)
	resp.AcceptedCount = u.AcceptedCount
	resp.BlockedCount = u.BlockedCount
	resp.LastSubmittedAt = u.LastSubmittedAt
	resp.Users = lo.Map(u.Users, func(r domain.UserRef, _ int) stickerUserResponse {
		return stickerUserResponse{UserID: r.UserID, Username: r.Username, DisplayName: r.DisplayName}
	})
	return resp
}

type userResponse struct {
	UserID           string                  `json:"telegram_user_id"`
	Username         string                  `json:"username,omitempty"`
	DisplayName      string                  `json:"display_name,omitempty"`
	Banned           bool                    `json:"banned"`
	BanReason        string                  `json:"ban_reason,omitempty"`
	Policy           *domain.RateLimitPolicy `json:"policy,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	LastSubmissionAt time.Time               `json:"last_submission_at"`
}

func newUserResponse(u domain.SubmittingUser) userResponse {
	return userResponse{
		UserID:           u.UserID,
		Username:         u.Username,
		DisplayName:      u.DisplayName,
		Banned:           u.Banned,
		BanReason:        u.BanReason,
		Policy:           u.Policy,
		CreatedAt:        u.CreatedAt,
		LastSubmissionAt: u.LastSubmissionAt,
	}
}

type tokenResponse struct {
	ID         uuid.UUID  `json:"id"`
	Token      string     `json:"token,omitempty"`
	Prefix     string     `json:"prefix"`
	Kind       string     `json:"kind"`
	Label      string     `json:"label"`
	IsAdmin    bool       `json:"is_admin"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

func newTokenResponse(t domain.AccessToken, raw string) tokenResponse {
	return tokenResponse{
		ID:         t.ID,
		Token:      raw,
		Prefix:     t.Prefix,
		Kind:       string(t.Kind),
		Label:      t.OwnerLabel,
		IsAdmin:    t.IsAdmin,
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsedAt,
		ExpiresAt:  t.ExpiresAt,
	}
}
