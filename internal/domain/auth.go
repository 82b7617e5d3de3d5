package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AdminAccount is an operator allowed to log in to the admin API.
type AdminAccount struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// TokenKind separates interactive sessions from long-lived API keys.
type TokenKind string

const (
	TokenKindSession TokenKind = "session"
	TokenKindAPIKey  TokenKind = "api_key"
)

// AccessToken is the persisted form of an opaque bearer token.
// Only the SHA-256 digest of the raw token is stored.
type AccessToken struct {
	ID         uuid.UUID
	Hash       string
	Prefix     string
	Kind       TokenKind
	OwnerLabel string
	IsAdmin    bool
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
	Window     time.Duration
	IsActive   bool
}

type AdminRepository interface {
	CreateAdmin(ctx context.Context, account AdminAccount) error
	GetAdminByUsername(ctx context.Context, username string) (*AdminAccount, error)
}

type TokenRepository interface {
	CreateToken(ctx context.Context, token AccessToken) error
	// TouchToken validates an active, unexpired token and slides its expiry
	// to now plus its window in one statement.
	TouchToken(ctx context.Context, hash string, now time.Time) (*AccessToken, error)
	RevokeToken(ctx context.Context, hash string) error
	RevokeTokenByID(ctx context.Context, id uuid.UUID, kind TokenKind) error
	ListTokens(ctx context.Context, kind TokenKind) ([]AccessToken, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
