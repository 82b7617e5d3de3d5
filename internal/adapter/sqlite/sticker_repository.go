package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
)

// stickerColumns must match the Scan order in scanSticker.
const stickerColumns = `uuid, sticker_id, storage_path, file_extension, created_at, updated_at, visible, banned, ban_reason, boost_factor`

// StickerRepo implements domain.StickerRepository, domain.UserRepository and
// domain.PolicyReader. One type owns all three tables so a submission can
// mutate them in a single transaction.
type StickerRepo struct {
	db    *sql.DB
	clock clockwork.Clock
}

func NewStickerRepo(db *sql.DB, clock clockwork.Clock) *StickerRepo {
	return &StickerRepo{db: db, clock: clock}
}

func scanSticker(row rowScanner) (*domain.Sticker, error) {
	var (
		s                    domain.Sticker
		createdAt, updatedAt int64
		banReason            sql.NullString
	)
	err := row.Scan(&s.UUID, &s.StickerID, &s.StoragePath, &s.FileExtension, &createdAt, &updatedAt,
		&s.Visible, &s.Banned, &banReason, &s.BoostFactor)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	s.BanReason = banReason.String
	return &s, nil
}

// UpsertSticker creates or boosts a sticker in its own transaction.
func (r *StickerRepo) UpsertSticker(ctx context.Context, stickerID, fileExtension, storagePath string, beforeCommit domain.BeforeCommitFunc) (*domain.Sticker, bool, error) {
	var (
		sticker *domain.Sticker
		isNew   bool
	)
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		sticker, isNew, err = r.upsertStickerTx(ctx, tx, stickerID, fileExtension, storagePath)
		if err != nil {
			return err
		}
		if beforeCommit != nil {
			return beforeCommit(ctx, *sticker, isNew)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return sticker, isNew, nil
}

// upsertStickerTx inserts a new row with boost_factor 0 or increments an
// existing one by exactly one. Banned rows are left untouched.
func (r *StickerRepo) upsertStickerTx(ctx context.Context, tx *sql.Tx, stickerID, fileExtension, storagePath string) (*domain.Sticker, bool, error) {
	candidate := uuid.New()
	now := toMillis(r.clock.Now())

	row := tx.QueryRowContext(ctx, `
		INSERT INTO stickers (uuid, sticker_id, storage_path, file_extension, created_at, updated_at, visible, banned, boost_factor)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0, 0)
		ON CONFLICT (sticker_id) DO UPDATE SET
			boost_factor = stickers.boost_factor + 1,
			storage_path = excluded.storage_path,
			file_extension = excluded.file_extension,
			updated_at = excluded.updated_at
		WHERE stickers.banned = 0
		RETURNING `+stickerColumns,
		candidate, stickerID, storagePath, fileExtension, now, now)

	sticker, err := scanSticker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("upsert sticker %q: %w", stickerID, domain.ErrStickerBanned)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert sticker: %w", err)
	}

	return sticker, sticker.UUID == candidate, nil
}

// Submit applies a whole submission atomically: user upsert, sticker upsert,
// submission record, then beforeCommit. Any failure rolls everything back.
func (r *StickerRepo) Submit(ctx context.Context, sub domain.Submission, beforeCommit domain.BeforeCommitFunc) (*domain.SubmissionOutcome, error) {
	var outcome domain.SubmissionOutcome
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		user, err := r.upsertUserTx(ctx, tx, sub.Profile)
		if err != nil {
			return err
		}

		if sub.Limit != nil {
			count, err := countSubmissions(ctx, tx, user.UserID, sub.Limit.Since, sub.Limit.CountBlocked)
			if err != nil {
				return err
			}
			if count >= sub.Limit.Max {
				return domain.ErrRateLimited
			}
		}

		sticker, isNew, err := r.upsertStickerTx(ctx, tx, sub.StickerID, sub.FileExtension, sub.StoragePath)
		if err != nil {
			return err
		}

		if err := r.insertSubmissionTx(ctx, tx, user.UserID, sticker.UUID, sub.Blocked); err != nil {
			return err
		}

		if beforeCommit != nil {
			if err := beforeCommit(ctx, *sticker, isNew); err != nil {
				return err
			}
		}

		outcome = domain.SubmissionOutcome{Sticker: *sticker, User: *user, IsNew: isNew}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (r *StickerRepo) insertSubmissionTx(ctx context.Context, tx *sql.Tx, userID string, stickerUUID uuid.UUID, blocked bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO submissions (user_id, sticker_uuid, submitted_at, blocked_by_policy)
		VALUES (?, ?, ?, ?)
	`, userID, stickerUUID, toMillis(r.clock.Now()), blocked)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

func (r *StickerRepo) RecordSubmission(ctx context.Context, userID string, stickerUUID uuid.UUID, blocked bool) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		return r.insertSubmissionTx(ctx, tx, userID, stickerUUID, blocked)
	})
}

// RecordBlocked appends an audit record for a denied attempt. It only
// succeeds when both the user and the sticker are already cataloged; it
// never creates rows. Reports whether a record was written.
func (r *StickerRepo) RecordBlocked(ctx context.Context, userID, stickerID string) (bool, error) {
	var recorded bool
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO submissions (user_id, sticker_uuid, submitted_at, blocked_by_policy)
			SELECT u.user_id, s.uuid, ?, 1
			FROM submitting_users u, stickers s
			WHERE u.user_id = ? AND s.sticker_id = ?
		`, toMillis(r.clock.Now()), userID, stickerID)
		if err != nil {
			return fmt.Errorf("failed to record blocked submission: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		recorded = n > 0
		return nil
	})
	return recorded, err
}

func (r *StickerRepo) GetSticker(ctx context.Context, id uuid.UUID) (*domain.Sticker, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stickerColumns+` FROM stickers WHERE uuid = ?`, id)
	sticker, err := scanSticker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStickerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sticker: %w", err)
	}
	return sticker, nil
}

func (r *StickerRepo) GetStickerByExternalID(ctx context.Context, stickerID string) (*domain.Sticker, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stickerColumns+` FROM stickers WHERE sticker_id = ?`, stickerID)
	sticker, err := scanSticker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrStickerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sticker by external id: %w", err)
	}
	return sticker, nil
}

// UpdateSticker reads, mutates and writes back the moderation state of one
// sticker inside a single transaction.
func (r *StickerRepo) UpdateSticker(ctx context.Context, id uuid.UUID, mutate func(domain.Sticker) (domain.Sticker, error)) (*domain.Sticker, error) {
	var updated domain.Sticker
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+stickerColumns+` FROM stickers WHERE uuid = ?`, id)
		current, err := scanSticker(row)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrStickerNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load sticker: %w", err)
		}

		next, err := mutate(*current)
		if err != nil {
			return err
		}
		next.UpdatedAt = r.clock.Now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE stickers SET visible = ?, banned = ?, ban_reason = ?, updated_at = ?
			WHERE uuid = ?
		`, next.Visible, next.Banned, nullString(next.BanReason), toMillis(next.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update sticker: %w", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListVisible returns displayable stickers, most boosted first.
func (r *StickerRepo) ListVisible(ctx context.Context, limit int) ([]domain.Sticker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stickerColumns+` FROM stickers
		WHERE visible = 1 AND banned = 0
		ORDER BY boost_factor DESC, created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible stickers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stickers []domain.Sticker
	for rows.Next() {
		s, err := scanSticker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sticker: %w", err)
		}
		stickers = append(stickers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stickers: %w", err)
	}
	return stickers, nil
}

type stickerStats struct {
	accepted  int
	blocked   int
	lastMilli sql.NullInt64
}

type stickerUserRow struct {
	stickerUUID uuid.UUID
	ref         domain.UserRef
}

// ListAll returns every sticker with usage statistics and the distinct users
// who submitted it.
func (r *StickerRepo) ListAll(ctx context.Context) ([]domain.StickerUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+stickerColumns+` FROM stickers
		ORDER BY boost_factor DESC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stickers: %w", err)
	}
	var stickers []domain.Sticker
	for rows.Next() {
		s, err := scanSticker(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan sticker: %w", err)
		}
		stickers = append(stickers, *s)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stickers: %w", err)
	}

	stats, err := r.stickerStats(ctx)
	if err != nil {
		return nil, err
	}
	users, err := r.stickerUsers(ctx)
	if err != nil {
		return nil, err
	}
	usersBySticker := lo.GroupBy(users, func(u stickerUserRow) uuid.UUID { return u.stickerUUID })

	return lo.Map(stickers, func(s domain.Sticker, _ int) domain.StickerUsage {
		usage := domain.StickerUsage{Sticker: s, Users: []domain.UserRef{}}
		if st, ok := stats[s.UUID]; ok {
			usage.AcceptedCount = st.accepted
			usage.BlockedCount = st.blocked
			if st.lastMilli.Valid {
				last := fromMillis(st.lastMilli.Int64)
				usage.LastSubmittedAt = &last
			}
		}
		if refs, ok := usersBySticker[s.UUID]; ok {
			usage.Users = lo.Map(refs, func(u stickerUserRow, _ int) domain.UserRef { return u.ref })
		}
		return usage
	}), nil
}

func (r *StickerRepo) stickerStats(ctx context.Context) (map[uuid.UUID]stickerStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sticker_uuid,
			SUM(CASE WHEN blocked_by_policy = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN blocked_by_policy = 1 THEN 1 ELSE 0 END),
			MAX(submitted_at)
		FROM submissions
		GROUP BY sticker_uuid
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[uuid.UUID]stickerStats)
	for rows.Next() {
		var (
			id uuid.UUID
			st stickerStats
		)
		if err := rows.Scan(&id, &st.accepted, &st.blocked, &st.lastMilli); err != nil {
			return nil, fmt.Errorf("failed to scan submission stats: %w", err)
		}
		stats[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submission stats: %w", err)
	}
	return stats, nil
}

func (r *StickerRepo) stickerUsers(ctx context.Context) ([]stickerUserRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT s.sticker_uuid, u.user_id, u.username, u.display_name
		FROM submissions s
		JOIN submitting_users u ON u.user_id = s.user_id
		ORDER BY u.username, u.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sticker users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []stickerUserRow
	for rows.Next() {
		var row stickerUserRow
		if err := rows.Scan(&row.stickerUUID, &row.ref.UserID, &row.ref.Username, &row.ref.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan sticker user: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sticker users: %w", err)
	}
	return out, nil
}
