// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Default rate-limit policy values.
const (
	// DefaultMaxAttempts is the failure count that triggers a lockout.
	DefaultMaxAttempts = 5

	// DefaultLockoutDuration is how long an identifier stays locked.
	DefaultLockoutDuration = 15 * time.Minute

	// DefaultResetWindow is the idle period after which a stale failure
	// count is forgiven.
	DefaultResetWindow = time.Hour

	// lockShards is the size of the keyed-mutex table serializing
	// read-modify-write cycles per identifier within this process.
	lockShards = 64
)

// RateLimitPolicy configures the limiter thresholds.
type RateLimitPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	ResetWindow     time.Duration
}

// DefaultRateLimitPolicy returns the stock policy.
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		LockoutDuration: DefaultLockoutDuration,
		ResetWindow:     DefaultResetWindow,
	}
}

func (p RateLimitPolicy) withDefaults() RateLimitPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.LockoutDuration <= 0 {
		p.LockoutDuration = DefaultLockoutDuration
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = DefaultResetWindow
	}
	return p
}

// LoginAttempt is the per-identifier failure counter. The identifier is
// whatever key the orchestrator chooses (lowercased username here, but
// the limiter is identifier-agnostic).
type LoginAttempt struct {
	Identifier    string
	Attempts      int
	LockedUntil   *time.Time
	LastAttemptAt time.Time
}

// IsLockedAt reports whether a lockout is in effect at the given instant.
func (a *LoginAttempt) IsLockedAt(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed     bool
	LockedUntil *time.Time
	RetryAfter  time.Duration
}

// LoginAttemptRepository manages counter persistence. Implementations
// must lock the row for the duration of the surrounding transaction so
// concurrent read-modify-write cycles for one identifier serialize.
type LoginAttemptRepository interface {
	// Get retrieves the counter for an identifier.
	// Returns ErrNotFound (wrapped) if absent.
	Get(ctx context.Context, identifier string) (*LoginAttempt, error)

	// Upsert creates or replaces the counter record.
	Upsert(ctx context.Context, attempt *LoginAttempt) error

	// DeleteIdle removes counters whose last attempt predates the cutoff
	// and that are not currently locked, returning the count.
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimiter tracks failed authentication attempts per identifier and
// enforces temporary lockouts. Counters reset on success or after the
// reset window elapses with no lockout in effect.
type RateLimiter struct {
	attempts LoginAttemptRepository
	tx       Transactor
	policy   RateLimitPolicy
	now      Clock
	logger   *slog.Logger

	locks [lockShards]sync.Mutex
}

// NewRateLimiter creates a RateLimiter.
func NewRateLimiter(attempts LoginAttemptRepository, tx Transactor, policy RateLimitPolicy, now Clock, logger *slog.Logger) (*RateLimiter, error) {
	if attempts == nil {
		return nil, oops.Code("RATELIMIT_INVALID").Errorf("attempt repository is required")
	}
	if tx == nil {
		return nil, oops.Code("RATELIMIT_INVALID").Errorf("transactor is required")
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		attempts: attempts,
		tx:       tx,
		policy:   policy.withDefaults(),
		now:      now,
		logger:   logger,
	}, nil
}

// Check is the pre-authentication gate. It lazily creates the counter,
// forgives stale failures past the reset window, and engages the lockout
// once the threshold is reached.
func (l *RateLimiter) Check(ctx context.Context, identifier string) (Decision, error) {
	var decision Decision
	err := l.withIdentifier(ctx, identifier, func(ctx context.Context, attempt *LoginAttempt, found bool) error {
		now := l.now()

		if !found {
			decision = Decision{Allowed: true}
			return nil
		}

		if attempt.IsLockedAt(now) {
			decision = lockedDecision(*attempt.LockedUntil, now)
			return nil
		}

		// A served lockout or an idle reset window both forgive the
		// counter; otherwise an expired lockout would re-engage on the
		// next check forever.
		if attempt.LockedUntil != nil || l.idleExpired(attempt, now) {
			attempt.Attempts = 0
			attempt.LockedUntil = nil
			decision = Decision{Allowed: true}
			return l.attempts.Upsert(ctx, attempt)
		}

		if attempt.Attempts >= l.policy.MaxAttempts {
			until := now.Add(l.policy.LockoutDuration)
			attempt.LockedUntil = &until
			attempt.LastAttemptAt = now
			if err := l.attempts.Upsert(ctx, attempt); err != nil {
				return err
			}
			l.logger.Info("identifier locked out",
				"identifier", identifier,
				"attempts", attempt.Attempts,
				"locked_until", until)
			RecordLockout()
			decision = lockedDecision(until, now)
			return nil
		}

		decision = Decision{Allowed: true}
		return nil
	})
	if err != nil {
		return Decision{}, oops.Code("RATELIMIT_CHECK_FAILED").With("identifier", identifier).Wrap(err)
	}
	return decision, nil
}

// RecordFailure increments the counter after a failed authentication.
func (l *RateLimiter) RecordFailure(ctx context.Context, identifier string) error {
	err := l.withIdentifier(ctx, identifier, func(ctx context.Context, attempt *LoginAttempt, found bool) error {
		now := l.now()
		if !found {
			attempt = &LoginAttempt{Identifier: identifier}
		} else if l.idleExpired(attempt, now) || (attempt.LockedUntil != nil && !attempt.IsLockedAt(now)) {
			attempt.Attempts = 0
			attempt.LockedUntil = nil
		}
		attempt.Attempts++
		attempt.LastAttemptAt = now
		l.logger.Debug("failed attempt recorded", "identifier", identifier, "attempts", attempt.Attempts)
		return l.attempts.Upsert(ctx, attempt)
	})
	if err != nil {
		return oops.Code("RATELIMIT_RECORD_FAILED").With("identifier", identifier).Wrap(err)
	}
	return nil
}

// RecordSuccess resets the counter after a successful authentication.
func (l *RateLimiter) RecordSuccess(ctx context.Context, identifier string) error {
	err := l.withIdentifier(ctx, identifier, func(ctx context.Context, attempt *LoginAttempt, found bool) error {
		if !found || (attempt.Attempts == 0 && attempt.LockedUntil == nil) {
			return nil
		}
		attempt.Attempts = 0
		attempt.LockedUntil = nil
		attempt.LastAttemptAt = l.now()
		return l.attempts.Upsert(ctx, attempt)
	})
	if err != nil {
		return oops.Code("RATELIMIT_RECORD_FAILED").With("identifier", identifier).Wrap(err)
	}
	return nil
}

// withIdentifier serializes a read-modify-write cycle for one identifier:
// a sharded in-process mutex plus a row-locking transaction in the store.
// Concurrent failures therefore cannot observe the same counter value and
// overshoot the threshold.
func (l *RateLimiter) withIdentifier(ctx context.Context, identifier string, fn func(ctx context.Context, attempt *LoginAttempt, found bool) error) error {
	if identifier == "" {
		return oops.Code("RATELIMIT_INVALID").Errorf("identifier cannot be empty")
	}

	mu := &l.locks[shardFor(identifier)]
	mu.Lock()
	defer mu.Unlock()

	return l.tx.InTransaction(ctx, func(ctx context.Context) error {
		attempt, err := l.attempts.Get(ctx, identifier)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fn(ctx, &LoginAttempt{Identifier: identifier}, false)
			}
			return err
		}
		return fn(ctx, attempt, true)
	})
}

func (l *RateLimiter) idleExpired(attempt *LoginAttempt, now time.Time) bool {
	return !attempt.LastAttemptAt.IsZero() &&
		now.Sub(attempt.LastAttemptAt) > l.policy.ResetWindow &&
		!attempt.IsLockedAt(now)
}

func lockedDecision(until, now time.Time) Decision {
	return Decision{
		Allowed:     false,
		LockedUntil: &until,
		RetryAfter:  until.Sub(now),
	}
}

func shardFor(identifier string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identifier))
	return h.Sum32() % lockShards
}
