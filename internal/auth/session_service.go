// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SessionRegistry tracks active login sessions, one per issued refresh
// credential, and supports targeted and bulk revocation.
type SessionRegistry struct {
	sessions SessionRepository
	now      Clock
	logger   *slog.Logger
}

// NewSessionRegistry creates a SessionRegistry.
func NewSessionRegistry(sessions SessionRepository, now Clock, logger *slog.Logger) (*SessionRegistry, error) {
	if sessions == nil {
		return nil, oops.Code("SESSION_REGISTRY_INVALID").Errorf("session repository is required")
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{sessions: sessions, now: now, logger: logger}, nil
}

// Open records a new session for the user. Fails with
// ErrDuplicateSessionKey if the key already exists; upstream uniqueness
// of the refresh credential's jti makes that a should-not-occur.
func (r *SessionRegistry) Open(ctx context.Context, userID ulid.ULID, sessionKey, deviceName, userAgent, ipAddress string) (*Session, error) {
	session, err := NewSession(userID, sessionKey, deviceName, userAgent, ipAddress, r.now())
	if err != nil {
		return nil, err
	}

	if err := r.sessions.Create(ctx, session); err != nil {
		return nil, oops.Code("SESSION_OPEN_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}

	r.logger.Debug("session opened", "user_id", userID.String(), "device", deviceName)
	return session, nil
}

// Close revokes the matching active session. Revocation is idempotent: a
// missing or already revoked session is a no-op, not an error.
func (r *SessionRegistry) Close(ctx context.Context, sessionKey string, userID ulid.ULID) error {
	affected, err := r.sessions.Close(ctx, sessionKey, userID)
	if err != nil {
		return oops.Code("SESSION_CLOSE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if affected > 0 {
		RecordSessionsRevoked("single", affected)
	}
	return nil
}

// Revoke is Close for the session-management surface: unlike Close it
// reports an absent active session as ErrNotFound so callers can return
// a meaningful response.
func (r *SessionRegistry) Revoke(ctx context.Context, sessionKey string, userID ulid.ULID) error {
	affected, err := r.sessions.Close(ctx, sessionKey, userID)
	if err != nil {
		return oops.Code("SESSION_CLOSE_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if affected == 0 {
		return oops.Code("SESSION_NOT_FOUND").Wrap(ErrNotFound)
	}
	RecordSessionsRevoked("single", affected)
	return nil
}

// CloseAll revokes every active session for the user in one atomic step.
// Used by logout-all and by password-reset mass revocation. Idempotent.
func (r *SessionRegistry) CloseAll(ctx context.Context, userID ulid.ULID) (int64, error) {
	affected, err := r.sessions.CloseAll(ctx, userID)
	if err != nil {
		return 0, oops.Code("SESSION_CLOSE_ALL_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	if affected > 0 {
		r.logger.Info("all sessions revoked", "user_id", userID.String(), "count", affected)
		RecordSessionsRevoked("all", affected)
	}
	return affected, nil
}

// ListActive returns the user's active sessions, most recently seen
// first.
func (r *SessionRegistry) ListActive(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	sessions, err := r.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return sessions, nil
}

// Touch updates last_seen_at for a session. Optional activity tracking;
// not required for correctness, so failures only log.
func (r *SessionRegistry) Touch(ctx context.Context, sessionKey string) {
	if err := r.sessions.Touch(ctx, sessionKey, r.now()); err != nil {
		r.logger.Debug("session touch failed", "error", err)
	}
}

// Get retrieves a session by key.
func (r *SessionRegistry) Get(ctx context.Context, sessionKey string) (*Session, error) {
	session, err := r.sessions.GetByKey(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	return session, nil
}
