package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
)

// userColumns must match the Scan order in scanUser.
const userColumns = `user_id, username, display_name, last_chat_ref, created_at, last_submission_at, banned, ban_reason, policy`

func scanUser(row rowScanner) (*domain.SubmittingUser, error) {
	var (
		u                       domain.SubmittingUser
		createdAt, lastSubmitAt int64
		banReason, policy       sql.NullString
	)
	err := row.Scan(&u.UserID, &u.Username, &u.DisplayName, &u.LastChatRef, &createdAt, &lastSubmitAt,
		&u.Banned, &banReason, &policy)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	u.LastSubmissionAt = fromMillis(lastSubmitAt)
	u.BanReason = banReason.String

	if policy.Valid && policy.String != "" {
		var p domain.RateLimitPolicy
		if err := json.Unmarshal([]byte(policy.String), &p); err != nil {
			return nil, fmt.Errorf("failed to decode policy for user %s: %w", u.UserID, err)
		}
		u.Policy = &p
	}
	return &u, nil
}

func encodePolicy(p *domain.RateLimitPolicy) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode policy: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (r *StickerRepo) UpsertUser(ctx context.Context, profile domain.UserProfile) (*domain.SubmittingUser, error) {
	var user *domain.SubmittingUser
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		user, err = r.upsertUserTx(ctx, tx, profile)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// upsertUserTx refreshes the profile and last submission time. An empty chat
// ref keeps the previous one.
func (r *StickerRepo) upsertUserTx(ctx context.Context, tx *sql.Tx, profile domain.UserProfile) (*domain.SubmittingUser, error) {
	now := toMillis(r.clock.Now())
	row := tx.QueryRowContext(ctx, `
		INSERT INTO submitting_users (user_id, username, display_name, last_chat_ref, created_at, last_submission_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			last_chat_ref = CASE WHEN excluded.last_chat_ref <> '' THEN excluded.last_chat_ref ELSE submitting_users.last_chat_ref END,
			last_submission_at = excluded.last_submission_at
		RETURNING `+userColumns,
		profile.UserID, profile.Username, profile.DisplayName, profile.ChatRef, now, now)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

func (r *StickerRepo) GetUser(ctx context.Context, userID string) (*domain.SubmittingUser, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM submitting_users WHERE user_id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUser applies mutate to the ban state and policy override of one user.
func (r *StickerRepo) UpdateUser(ctx context.Context, userID string, mutate func(domain.SubmittingUser) (domain.SubmittingUser, error)) (*domain.SubmittingUser, error) {
	var updated domain.SubmittingUser
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM submitting_users WHERE user_id = ?`, userID)
		current, err := scanUser(row)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		next, err := mutate(*current)
		if err != nil {
			return err
		}

		policy, err := encodePolicy(next.Policy)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE submitting_users SET banned = ?, ban_reason = ?, policy = ?
			WHERE user_id = ?
		`, next.Banned, nullString(next.BanReason), policy, userID)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *StickerRepo) ListUsers(ctx context.Context) ([]domain.SubmittingUser, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM submitting_users
		ORDER BY last_submission_at DESC, user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []domain.SubmittingUser{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CountSubmissionsSince counts a user's submissions strictly after since.
// Blocked attempts are included only when includeBlocked is set.
func (r *StickerRepo) CountSubmissionsSince(ctx context.Context, userID string, since time.Time, includeBlocked bool) (int, error) {
	return countSubmissions(ctx, r.db, userID, since, includeBlocked)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countSubmissions(ctx context.Context, q rowQuerier, userID string, since time.Time, includeBlocked bool) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions
		WHERE user_id = ? AND submitted_at > ? AND (? OR blocked_by_policy = 0)
	`, userID, toMillis(since), includeBlocked).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}
