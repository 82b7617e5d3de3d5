package domain

import "errors"

var (
	ErrStickerNotFound    = errors.New("sticker not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrStickerBanned      = errors.New("sticker is banned")
	ErrRateLimited        = errors.New("submission rate limit reached")
	ErrInvalidTransition  = errors.New("invalid moderation transition")
	ErrUnknownAction      = errors.New("unknown moderation action")
	ErrInvalidPolicy      = errors.New("invalid rate-limit policy")
	ErrAdminNotFound      = errors.New("admin account not found")
	ErrAdminExists        = errors.New("admin account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid or expired")
	ErrTokenNotFound      = errors.New("token not found")
)
