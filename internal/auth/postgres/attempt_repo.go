// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/placepulse/placepulse/internal/auth"
)

// LoginAttemptRepository implements auth.LoginAttemptRepository using
// PostgreSQL.
type LoginAttemptRepository struct {
	db DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository.
func NewLoginAttemptRepository(db DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Get retrieves the counter for an identifier. When called inside a
// transaction the row is locked FOR UPDATE so concurrent logins for the
// same identifier serialize on the counter.
func (r *LoginAttemptRepository) Get(ctx context.Context, identifier string) (*auth.LoginAttempt, error) {
	query := `
		SELECT identifier, attempts, locked_until, last_attempt_at
		FROM login_attempts
		WHERE identifier = $1
	`
	if _, inTx := ctx.Value(txKey{}).(pgx.Tx); inTx {
		query += ` FOR UPDATE`
	}
	row := querierFrom(ctx, r.db).QueryRow(ctx, query, identifier)

	var (
		ident         string
		attempts      int
		lockedUntil   *time.Time
		lastAttemptAt time.Time
	)
	err := row.Scan(&ident, &attempts, &lockedUntil, &lastAttemptAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ATTEMPT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ATTEMPT_GET_FAILED").
			With("operation", "get login attempt").
			Wrap(err)
	}

	return &auth.LoginAttempt{
		Identifier:    ident,
		Attempts:      attempts,
		LockedUntil:   lockedUntil,
		LastAttemptAt: lastAttemptAt,
	}, nil
}

// Upsert creates or replaces the counter record for the identifier.
func (r *LoginAttemptRepository) Upsert(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO login_attempts (identifier, attempts, locked_until, last_attempt_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO UPDATE
		SET attempts = EXCLUDED.attempts,
		    locked_until = EXCLUDED.locked_until,
		    last_attempt_at = EXCLUDED.last_attempt_at
	`,
		attempt.Identifier,
		attempt.Attempts,
		attempt.LockedUntil,
		attempt.LastAttemptAt,
	)
	if err != nil {
		return oops.Code("ATTEMPT_UPSERT_FAILED").
			With("operation", "upsert login attempt").
			Wrap(err)
	}
	return nil
}

// DeleteIdle removes counters whose last attempt predates the cutoff
// and that hold no lockout still in effect, returning the count.
func (r *LoginAttemptRepository) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM login_attempts
		WHERE last_attempt_at < $1
		  AND (locked_until IS NULL OR locked_until < $1)
	`, cutoff)
	if err != nil {
		return 0, oops.Code("ATTEMPT_DELETE_IDLE_FAILED").
			With("operation", "delete idle login attempts").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.LoginAttemptRepository = (*LoginAttemptRepository)(nil)
