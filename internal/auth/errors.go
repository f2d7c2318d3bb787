// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors forming the externally visible taxonomy. The
// orchestrator maps internal conditions onto these; callers match with
// errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidToken covers every secret-token failure (absent, expired,
	// already used). The cases are never distinguished externally.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidCredentials is returned on username/password mismatch,
	// including unknown usernames.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrEmailNotVerified is returned when credentials identify an
	// account whose email has not been verified yet.
	ErrEmailNotVerified = errors.New("email not verified")

	// ErrDuplicateIdentity is returned when a username or email is
	// already taken.
	ErrDuplicateIdentity = errors.New("username or email already taken")

	// ErrDuplicateSessionKey is returned when a session key collides with
	// any session ever created, revoked ones included.
	ErrDuplicateSessionKey = errors.New("session key already exists")

	// ErrForbidden is returned when an authenticated caller targets a
	// resource it does not own.
	ErrForbidden = errors.New("forbidden")
)

// Internal secret-token failure modes. The orchestrator collapses all
// three to ErrInvalidToken before they cross the package boundary; they
// exist so logs and tests can tell the cases apart.
var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenUsed     = errors.New("token already used")
)

// RateLimitedError reports a lockout in effect for an identifier.
type RateLimitedError struct {
	// Until is the instant the lockout expires.
	Until time.Time

	// RetryAfter is the remaining lockout duration at the time of the
	// check.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many failed attempts, locked until %s", e.Until.Format(time.RFC3339))
}

// IsRateLimited reports whether err is a RateLimitedError and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rle *RateLimitedError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
