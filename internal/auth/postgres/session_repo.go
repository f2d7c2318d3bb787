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

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create stores a new session. Session key collisions surface as
// auth.ErrDuplicateSessionKey.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		INSERT INTO sessions (id, user_id, session_key, device_name, user_agent, ip_address, active, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.SessionKey,
		session.DeviceName,
		session.UserAgent,
		session.IPAddress,
		session.Active,
		session.CreatedAt,
		session.LastSeenAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("SESSION_DUPLICATE_KEY").
			With("user_id", session.UserID.String()).
			Wrap(auth.ErrDuplicateSessionKey)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByKey retrieves a session by its key.
func (r *SessionRepository) GetByKey(ctx context.Context, sessionKey string) (*auth.Session, error) {
	row := querierFrom(ctx, r.db).QueryRow(ctx, `
		SELECT id, user_id, session_key, device_name, user_agent, ip_address, active, created_at, last_seen_at
		FROM sessions
		WHERE session_key = $1
	`, sessionKey)

	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_BY_KEY_FAILED").
			With("operation", "get session by key").
			Wrap(err)
	}
	return session, nil
}

// ListActiveByUser returns the user's active sessions, most recently
// seen first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID ulid.ULID) ([]*auth.Session, error) {
	rows, err := querierFrom(ctx, r.db).Query(ctx, `
		SELECT id, user_id, session_key, device_name, user_agent, ip_address, active, created_at, last_seen_at
		FROM sessions
		WHERE user_id = $1 AND active = TRUE
		ORDER BY last_seen_at DESC
	`, userID.String())
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list active sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, oops.Code("SESSION_SCAN_FAILED").
				With("operation", "scan session row").
				Wrap(err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_ROWS_ERROR").
			With("operation", "iterate session rows").
			Wrap(err)
	}

	return sessions, nil
}

// Close marks the matching active session inactive. A missing or
// already-closed session affects zero rows; that is a valid state.
func (r *SessionRepository) Close(ctx context.Context, sessionKey string, userID ulid.ULID) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE session_key = $1 AND user_id = $2 AND active = TRUE
	`, sessionKey, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_CLOSE_FAILED").
			With("operation", "close session").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// CloseAll marks every active session for the user inactive in one
// statement and returns the count.
func (r *SessionRepository) CloseAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET active = FALSE
		WHERE user_id = $1 AND active = TRUE
	`, userID.String())
	if err != nil {
		return 0, oops.Code("SESSION_CLOSE_ALL_FAILED").
			With("operation", "close all sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Touch updates last_seen_at for an active session. Absent sessions are
// a no-op.
func (r *SessionRepository) Touch(ctx context.Context, sessionKey string, at time.Time) error {
	_, err := querierFrom(ctx, r.db).Exec(ctx, `
		UPDATE sessions SET last_seen_at = $2
		WHERE session_key = $1 AND active = TRUE
	`, sessionKey, at)
	if err != nil {
		return oops.Code("SESSION_TOUCH_FAILED").
			With("operation", "update last_seen_at").
			Wrap(err)
	}
	return nil
}

// DeleteRevokedBefore removes inactive sessions last seen before the
// cutoff and returns the count.
func (r *SessionRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := querierFrom(ctx, r.db).Exec(ctx, `
		DELETE FROM sessions WHERE active = FALSE AND last_seen_at < $1
	`, cutoff)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_REVOKED_FAILED").
			With("operation", "delete revoked sessions").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr      string
		userIDStr  string
		sessionKey string
		deviceName string
		userAgent  string
		ipAddress  string
		active     bool
		createdAt  time.Time
		lastSeenAt time.Time
	)

	err := row.Scan(&idStr, &userIDStr, &sessionKey, &deviceName, &userAgent, &ipAddress, &active, &createdAt, &lastSeenAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session").
			Wrap(err)
	}

	return buildSession(idStr, userIDStr, sessionKey, deviceName, userAgent, ipAddress, active, createdAt, lastSeenAt)
}

// scanSessionRow scans a row from a rows iterator into a Session.
func scanSessionRow(rows pgx.Rows) (*auth.Session, error) {
	var (
		idStr      string
		userIDStr  string
		sessionKey string
		deviceName string
		userAgent  string
		ipAddress  string
		active     bool
		createdAt  time.Time
		lastSeenAt time.Time
	)

	err := rows.Scan(&idStr, &userIDStr, &sessionKey, &deviceName, &userAgent, &ipAddress, &active, &createdAt, &lastSeenAt)
	if err != nil {
		return nil, oops.Code("SESSION_SCAN_FAILED").
			With("operation", "scan session row").
			Wrap(err)
	}

	return buildSession(idStr, userIDStr, sessionKey, deviceName, userAgent, ipAddress, active, createdAt, lastSeenAt)
}

func buildSession(
	idStr, userIDStr, sessionKey, deviceName, userAgent, ipAddress string,
	active bool,
	createdAt, lastSeenAt time.Time,
) (*auth.Session, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_ID").
			With("operation", "parse session id").
			With("id", idStr).
			Wrap(err)
	}

	userID, err := ulid.Parse(userIDStr)
	if err != nil {
		return nil, oops.Code("SESSION_INVALID_USER_ID").
			With("operation", "parse user id").
			With("user_id", userIDStr).
			Wrap(err)
	}

	return &auth.Session{
		ID:         id,
		UserID:     userID,
		SessionKey: sessionKey,
		DeviceName: deviceName,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		Active:     active,
		CreatedAt:  createdAt,
		LastSeenAt: lastSeenAt,
	}, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
