package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/RustyBraze/Stickerwall/internal/domain"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// tokenColumns must match the Scan order in scanToken.
const tokenColumns = `id, token_hash, token_prefix, kind, owner_label, is_admin, created_at, last_used_at, expires_at, window_ms, is_active`

// AuthRepo implements domain.AdminRepository and domain.TokenRepository.
type AuthRepo struct {
	db *sql.DB
}

func NewAuthRepo(db *sql.DB) *AuthRepo {
	return &AuthRepo{db: db}
}

func (r *AuthRepo) CreateAdmin(ctx context.Context, account domain.AdminAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_accounts (id, username, password_hash, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, account.ID, account.Username, account.PasswordHash, account.IsAdmin, toMillis(account.CreatedAt))
	if isUniqueViolation(err) {
		return domain.ErrAdminExists
	}
	if err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}
	return nil
}

func (r *AuthRepo) GetAdminByUsername(ctx context.Context, username string) (*domain.AdminAccount, error) {
	var (
		a         domain.AdminAccount
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, is_admin, created_at
		FROM admin_accounts WHERE username = ?
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.IsAdmin, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAdminNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin account: %w", err)
	}
	a.CreatedAt = fromMillis(createdAt)
	return &a, nil
}

func scanToken(row rowScanner) (*domain.AccessToken, error) {
	var (
		t                              domain.AccessToken
		kind                           string
		createdAt, expiresAt, windowMS int64
		lastUsedAt                     sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Hash, &t.Prefix, &kind, &t.OwnerLabel, &t.IsAdmin, &createdAt, &lastUsedAt,
		&expiresAt, &windowMS, &t.IsActive)
	if err != nil {
		return nil, err
	}
	t.Kind = domain.TokenKind(kind)
	t.CreatedAt = fromMillis(createdAt)
	t.ExpiresAt = fromMillis(expiresAt)
	t.Window = time.Duration(windowMS) * time.Millisecond
	if lastUsedAt.Valid {
		used := fromMillis(lastUsedAt.Int64)
		t.LastUsedAt = &used
	}
	return &t, nil
}

func (r *AuthRepo) CreateToken(ctx context.Context, token domain.AccessToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_tokens (id, token_hash, token_prefix, kind, owner_label, is_admin, created_at, expires_at, window_ms, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, token.ID, token.Hash, token.Prefix, string(token.Kind), token.OwnerLabel, token.IsAdmin,
		toMillis(token.CreatedAt), toMillis(token.ExpiresAt), token.Window.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

// TouchToken checks and slides the expiry in a single UPDATE, so a token
// cannot be revoked or expire between the check and the refresh.
func (r *AuthRepo) TouchToken(ctx context.Context, hash string, now time.Time) (*domain.AccessToken, error) {
	nowMS := toMillis(now)
	row := r.db.QueryRowContext(ctx, `
		UPDATE access_tokens
		SET last_used_at = ?, expires_at = ? + window_ms
		WHERE token_hash = ? AND is_active = 1 AND expires_at > ?
		RETURNING `+tokenColumns,
		nowMS, nowMS, hash, nowMS)

	token, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	return token, nil
}

func (r *AuthRepo) RevokeToken(ctx context.Context, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE access_tokens SET is_active = 0 WHERE token_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return requireAffected(res, domain.ErrTokenNotFound)
}

func (r *AuthRepo) RevokeTokenByID(ctx context.Context, id uuid.UUID, kind domain.TokenKind) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE access_tokens SET is_active = 0
		WHERE id = ? AND kind = ? AND is_active = 1
	`, id, string(kind))
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return requireAffected(res, domain.ErrTokenNotFound)
}

// ListTokens returns the active tokens of one kind, oldest first.
func (r *AuthRepo) ListTokens(ctx context.Context, kind domain.TokenKind) ([]domain.AccessToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM access_tokens
		WHERE kind = ? AND is_active = 1
		ORDER BY created_at, id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tokens := []domain.AccessToken{}
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return tokens, nil
}

// PurgeExpired deletes expired and revoked tokens.
func (r *AuthRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM access_tokens WHERE is_active = 0 OR expires_at <= ?
	`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
