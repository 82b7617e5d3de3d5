// Package auth issues and validates the opaque bearer tokens that gate the
// admin API. Raw tokens are returned once and only their SHA-256 digest is
// stored; every successful validation slides the expiry forward.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenBytes   = 32
	prefixLen    = 8
	purgeSpec    = "@every 1h"
	purgeTimeout = 30 * time.Second
)

type Repository interface {
	domain.AdminRepository
	domain.TokenRepository
}

type Config struct {
	SessionTTL time.Duration
	APIKeyTTL  time.Duration
	BcryptCost int
}

// Service is the session and API key authority.
type Service struct {
	repo  Repository
	cfg   Config
	clock clockwork.Clock
	cron  *cron.Cron

	// Compared against when the username is unknown so both paths cost a bcrypt round.
	dummyHash []byte
}

func NewService(repo Repository, cfg Config, clock clockwork.Clock) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("stickerwall-dummy"), cfg.BcryptCost)
	return &Service{
		repo:      repo,
		cfg:       cfg,
		clock:     clock,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		dummyHash: dummy,
	}
}

// HashToken returns the hex SHA-256 digest under which a raw token is stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Issue creates a token of the given kind and returns the raw value, which is
// never retrievable again.
func (s *Service) Issue(ctx context.Context, kind domain.TokenKind, ownerLabel string, isAdmin bool) (string, *domain.AccessToken, error) {
	raw, err := generateToken()
	if err != nil {
		return "", nil, err
	}

	window := s.cfg.SessionTTL
	if kind == domain.TokenKindAPIKey {
		window = s.cfg.APIKeyTTL
	}

	now := s.clock.Now().UTC()
	token := domain.AccessToken{
		ID:         uuid.New(),
		Hash:       HashToken(raw),
		Prefix:     raw[:prefixLen],
		Kind:       kind,
		OwnerLabel: ownerLabel,
		IsAdmin:    isAdmin,
		CreatedAt:  now,
		ExpiresAt:  now.Add(window),
		Window:     window,
		IsActive:   true,
	}
	if err := s.repo.CreateToken(ctx, token); err != nil {
		return "", nil, err
	}
	return raw, &token, nil
}

// Validate accepts an active, unexpired token and extends its expiry.
func (s *Service) Validate(ctx context.Context, raw string) (*domain.AccessToken, error) {
	if raw == "" {
		return nil, domain.ErrTokenInvalid
	}
	return s.repo.TouchToken(ctx, HashToken(raw), s.clock.Now().UTC())
}

func (s *Service) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return domain.ErrTokenNotFound
	}
	return s.repo.RevokeToken(ctx, HashToken(raw))
}

// Login checks the password and opens a session.
func (s *Service) Login(ctx context.Context, username, password string) (string, *domain.AccessToken, error) {
	account, err := s.repo.GetAdminByUsername(ctx, username)
	if errors.Is(err, domain.ErrAdminNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return "", nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", nil, domain.ErrInvalidCredentials
	}

	raw, token, err := s.Issue(ctx, domain.TokenKindSession, account.Username, account.IsAdmin)
	if err != nil {
		return "", nil, err
	}
	slog.InfoContext(ctx, "Admin logged in", "username", account.Username, "token_prefix", token.Prefix)
	return raw, token, nil
}

// EnsureAdmin creates the bootstrap administrator if it does not exist yet.
// An existing account keeps its password.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if password == "" {
		slog.Warn("No admin password configured, skipping admin bootstrap", "username", username)
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	err = s.repo.CreateAdmin(ctx, domain.AdminAccount{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: string(hash),
		IsAdmin:      true,
		CreatedAt:    s.clock.Now().UTC(),
	})
	if errors.Is(err, domain.ErrAdminExists) {
		slog.Debug("Admin account already present", "username", username)
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Created admin account", "username", username)
	return nil
}

func (s *Service) CreateAPIKey(ctx context.Context, label string) (string, *domain.AccessToken, error) {
	return s.Issue(ctx, domain.TokenKindAPIKey, label, false)
}

func (s *Service) ListAPIKeys(ctx context.Context) ([]domain.AccessToken, error) {
	return s.repo.ListTokens(ctx, domain.TokenKindAPIKey)
}

func (s *Service) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.repo.RevokeTokenByID(ctx, id, domain.TokenKindAPIKey)
}

// PurgeExpired deletes revoked and expired tokens.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.repo.PurgeExpired(ctx, s.clock.Now().UTC())
}

// StartPurge schedules PurgeExpired on the cron runner.
func (s *Service) StartPurge() error {
	_, err := s.cron.AddFunc(purgeSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
		defer cancel()

		n, err := s.PurgeExpired(ctx)
		if err != nil {
			slog.Error("Token purge failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Purged expired tokens", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule token purge: %w", err)
	}
	s.cron.Start()
	return nil
}

// StopPurge stops the scheduler and waits for a running purge.
func (s *Service) StopPurge(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
