// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/placepulse/placepulse/internal/auth"
)

// SecretTokenRepository implements auth.SecretTokenRepository using
// PostgreSQL.
type SecretTokenRepository struct {
	db DB
}

// NewSecretTokenRepository creates a new SecretTokenRepository.
func NewSecretTokenRepository(db DB) *SecretTokenRepository {
	return &SecretTokenRepository{db: db}
}

// Create stores a new token record.
func (r *SecretTokenRepository) Create(ctx context.Context, token *auth.SecretToken) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO secret_tokens (id, user_id, purpose, token_hash, issuing_ip, used, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		token.ID.String(),
		token.UserID.String(),
		string(token.Purpose),
		token.TokenHash,
		token.IssuingIP,
		token.Used,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert secret_token").
			With("user_id", token.UserID.String()).
			With("purpose", string(token.Purpose)).
			Wrap(err)
	}
	return nil
}

// GetByHash retrieves a token by purpose and hash.
func (r *SecretTokenRepository) GetByHash(ctx context.Context, purpose auth.TokenPurpose, tokenHash string) (*auth.SecretToken, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, purpose, token_hash, issuing_ip, used, expires_at, created_at
		FROM secret_tokens
		WHERE purpose = $1 AND token_hash = $2
	`, string(purpose), tokenHash)

	token, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").
			With("purpose", string(purpose)).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_BY_HASH_FAILED").
			With("operation", "get token by hash").
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return token, nil
}

// MarkUsed flips used to true in a single atomic statement. A token
// that is already consumed surfaces as auth.ErrTokenUsed.
func (r *SecretTokenRepository) MarkUsed(ctx context.Context, id ulid.ULID) error {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE secret_tokens SET used = TRUE
		WHERE id = $1 AND used = FALSE
	`, id.String())
	if err != nil {
		return oops.Code("TOKEN_MARK_USED_FAILED").
			With("operation", "mark token used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("TOKEN_ALREADY_USED").
			With("id", id.String()).
			Wrap(auth.ErrTokenUsed)
	}
	return nil
}

// InvalidateActive marks every unused, unexpired token of the given
// purpose for the user as used and returns the count.
func (r *SecretTokenRepository) InvalidateActive(ctx context.Context, userID ulid.ULID, purpose auth.TokenPurpose, now time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE secret_tokens SET used = TRUE
		WHERE user_id = $1 AND purpose = $2 AND used = FALSE AND expires_at > $3
	`, userID.String(), string(purpose), now)
	if err != nil {
		return 0, oops.Code("TOKEN_INVALIDATE_FAILED").
			With("operation", "invalidate active tokens").
			With("user_id", userID.String()).
			With("purpose", string(purpose)).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before the cutoff and
// returns the count.
func (r *SecretTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM secret_tokens WHERE expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired secret_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanToken scans a single row into a SecretToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanToken(row pgx.Row) (*auth.SecretToken, error) {
	var (
		idStr     string
		userIDStr string
		purpose   string
		tokenHash string
		issuingIP string
		used      bool
		expiresAt time.Time
		createdAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &purpose, &tokenHash, &issuingIP, &used, &expiresAt, &createdAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("TOKEN_SCAN_FAILED").
			With("operation", "scan secret_token").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_ID").
			With("operation", "parse token id").
			With("id", idStr).
			Wrap(err)
	}
	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &auth.SecretToken{
		ID:        id,
		UserID:    userID,
		Purpose:   auth.TokenPurpose(purpose),
		TokenHash: tokenHash,
		IssuingIP: issuingIP,
		Used:      used,
		ExpiresAt: expiresAt,
		CreatedAt: createdAt,
	}, nil
}

// Compile-time interface check.
var _ auth.SecretTokenRepository = (*SecretTokenRepository)(nil)
