// Package catalog owns sticker identity, submitting users and moderation
// state, and keeps stored payloads consistent with committed rows.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RustyBraze/Stickerwall/internal/adapter/storage"
	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
)

// PayloadStore persists binary sticker payloads.
type PayloadStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Repository is the persistence the catalog needs.
type Repository interface {
	domain.StickerRepository
	domain.UserRepository
}

type Service struct {
	repo  Repository
	store PayloadStore
}

func NewService(repo Repository, store PayloadStore) *Service {
	return &Service{repo: repo, store: store}
}

// IngestRequest is an admitted submission with its decoded payload.
type IngestRequest struct {
	Profile       domain.UserProfile
	StickerID     string
	FileExtension string
	Payload       []byte
	// Limit is enforced against the committed history of the user.
	Limit *domain.SubmissionLimit
}

// payloadWriter writes the payload from inside the catalog transaction and
// remembers whether a brand-new object was created, so it can be removed if
// the commit fails afterwards.
type payloadWriter struct {
	store   PayloadStore
	key     string
	payload []byte
	created bool
}

func (w *payloadWriter) write(ctx context.Context, _ domain.Sticker, isNew bool) error {
	if err := w.store.Put(ctx, w.key, w.payload); err != nil {
		return fmt.Errorf("failed to store payload: %w", err)
	}
	w.created = isNew
	return nil
}

func (w *payloadWriter) cleanup(ctx context.Context) {
	if !w.created {
		return
	}
	if err := w.store.Delete(context.WithoutCancel(ctx), w.key); err != nil {
		slog.WarnContext(ctx, "Failed to remove orphaned payload", "key", w.key, "error", err)
	}
}

// Ingest persists an admitted submission as one unit: user upsert, sticker
// upsert, submission record and payload write all commit together or not at
// all. The payload is written before the commit.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*domain.SubmissionOutcome, error) {
	key, err := storage.StickerKey(req.StickerID, req.FileExtension)
	if err != nil {
		return nil, err
	}

	w := &payloadWriter{store: s.store, key: key, payload: req.Payload}
	outcome, err := s.repo.Submit(ctx, domain.Submission{
		Profile:       req.Profile,
		StickerID:     req.StickerID,
		FileExtension: req.FileExtension,
		StoragePath:   key,
		Limit:         req.Limit,
	}, w.write)
	if err != nil {
		w.cleanup(ctx)
		return nil, err
	}
	return outcome, nil
}

// UpsertSticker creates or boosts a sticker and overwrites its payload.
func (s *Service) UpsertSticker(ctx context.Context, stickerID, fileExtension string, payload []byte) (*domain.Sticker, bool, error) {
	key, err := storage.StickerKey(stickerID, fileExtension)
	if err != nil {
		return nil, false, err
	}

	w := &payloadWriter{store: s.store, key: key, payload: payload}
	sticker, isNew, err := s.repo.UpsertSticker(ctx, stickerID, fileExtension, key, w.write)
	if err != nil {
		w.cleanup(ctx)
		return nil, false, err
	}
	return sticker, isNew, nil
}

func (s *Service) UpsertUser(ctx context.Context, profile domain.UserProfile) (*domain.SubmittingUser, error) {
	return s.repo.UpsertUser(ctx, profile)
}

func (s *Service) RecordSubmission(ctx context.Context, userID string, stickerUUID uuid.UUID, blocked bool) error {
	return s.repo.RecordSubmission(ctx, userID, stickerUUID, blocked)
}

// RecordBlocked writes an audit record for a denied attempt when the user and
// sticker already exist. It never creates catalog rows.
func (s *Service) RecordBlocked(ctx context.Context, userID, stickerID string) (bool, error) {
	return s.repo.RecordBlocked(ctx, userID, stickerID)
}

func (s *Service) ListVisible(ctx context.Context, limit int) ([]domain.Sticker, error) {
	return s.repo.ListVisible(ctx, limit)
}

func (s *Service) ListAll(ctx context.Context) ([]domain.StickerUsage, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) GetSticker(ctx context.Context, id uuid.UUID) (*domain.Sticker, error) {
	return s.repo.GetSticker(ctx, id)
}

// Moderate applies one transition of the moderation table to a sticker.
func (s *Service) Moderate(ctx context.Context, id uuid.UUID, action domain.ModerationAction, reason string) (*domain.Sticker, error) {
	sticker, err := s.repo.UpdateSticker(ctx, id, func(current domain.Sticker) (domain.Sticker, error) {
		return current.Apply(action, reason)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Sticker moderated",
		"sticker_uuid", id.String(),
		"action", string(action),
		"visible", sticker.Visible,
		"banned", sticker.Banned,
	)
	return sticker, nil
}

func (s *Service) SetUserBan(ctx context.Context, userID string, banned bool, reason string) (*domain.SubmittingUser, error) {
	user, err := s.repo.UpdateUser(ctx, userID, func(u domain.SubmittingUser) (domain.SubmittingUser, error) {
		u.Banned = banned
		u.BanReason = ""
		if banned {
			u.BanReason = reason
		}
		return u, nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "User ban state changed", "user_id", userID, "banned", banned)
	return user, nil
}

// SetUserPolicy sets or, with nil, clears a user's rate-limit override.
func (s *Service) SetUserPolicy(ctx context.Context, userID string, policy *domain.RateLimitPolicy) (*domain.SubmittingUser, error) {
	if policy != nil {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidPolicy, err)
		}
	}
	return s.repo.UpdateUser(ctx, userID, func(u domain.SubmittingUser) (domain.SubmittingUser, error) {
		u.Policy = policy
		return u, nil
	})
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.SubmittingUser, error) {
	return s.repo.ListUsers(ctx)
}
