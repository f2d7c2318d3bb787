// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session correlates an issued refresh credential with a device. The
// session key is the refresh token's unique identifier (jti); a refresh
// credential is accepted only while its session row is active, so
// revoking the row revokes the credential.
type Session struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	SessionKey string
	DeviceName string
	UserAgent  string
	IPAddress  string
	Active     bool
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a validated, active Session.
// DeviceName, UserAgent and IPAddress are optional and may be empty.
func NewSession(userID ulid.ULID, sessionKey, deviceName, userAgent, ipAddress string, now time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if sessionKey == "" {
		return nil, oops.Code("SESSION_INVALID_KEY").Errorf("session key cannot be empty")
	}

	return &Session{
		ID:         ulid.Make(),
		UserID:     userID,
		SessionKey: sessionKey,
		DeviceName: deviceName,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
		Active:     true,
		CreatedAt:  now,
		LastSeenAt: now,
	}, nil
}

// SessionRepository manages session persistence. Sessions are revoked
// logically (active=false), never deleted by the registry; session keys
// stay unique across all sessions ever created, revoked ones included.
type SessionRepository interface {
	// Create stores a new session. Returns ErrDuplicateSessionKey
	// (wrapped) when the key collides with any existing session.
	Create(ctx context.Context, session *Session) error

	// GetByKey retrieves a session by its key.
	// Returns ErrNotFound (wrapped) if absent.
	GetByKey(ctx context.Context, sessionKey string) (*Session, error)

	// ListActiveByUser returns the user's active sessions ordered by
	// last_seen_at, most recent first.
	ListActiveByUser(ctx context.Context, userID ulid.ULID) ([]*Session, error)

	// Close marks the matching active session inactive and returns the
	// number of rows affected (0 when no match; not an error).
	Close(ctx context.Context, sessionKey string, userID ulid.ULID) (int64, error)

	// CloseAll marks every active session for the user inactive in one
	// atomic statement and returns the count.
	CloseAll(ctx context.Context, userID ulid.ULID) (int64, error)

	// Touch updates last_seen_at for an active session. Absent sessions
	// are a no-op.
	Touch(ctx context.Context, sessionKey string, at time.Time) error

	// DeleteRevokedBefore removes sessions revoked and last seen before
	// the cutoff, returning the count of deleted records.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
