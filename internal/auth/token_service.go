// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SecretTokenService issues and redeems one-time secrets.
type SecretTokenService struct {
	tokens SecretTokenRepository
	tx     Transactor
	now    Clock
	logger *slog.Logger
}

// NewSecretTokenService creates a SecretTokenService.
func NewSecretTokenService(tokens SecretTokenRepository, tx Transactor, now Clock, logger *slog.Logger) (*SecretTokenService, error) {
	if tokens == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token repository is required")
	}
	if tx == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("transactor is required")
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecretTokenService{tokens: tokens, tx: tx, now: now, logger: logger}, nil
}

// Issue generates a fresh secret for the user and purpose, invalidates
// every prior unconsumed token of the same purpose, and stores only the
// hash. The raw secret is returned exactly once; it is never persisted or
// logged, and cannot be re-derived from storage.
func (s *SecretTokenService) Issue(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, issuingIP string) (string, *SecretToken, error) {
	if !purpose.Valid() {
		return "", nil, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown token purpose")
	}

	secret, hash, err := GenerateSecret()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	token, err := NewSecretToken(userID, purpose, hash, issuingIP, now.Add(purpose.TTL()))
	if err != nil {
		return "", nil, err
	}
	token.CreatedAt = now

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		invalidated, err := s.tokens.InvalidateActive(ctx, userID, purpose, now)
		if err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").
				With("operation", "invalidate prior tokens").
				With("purpose", string(purpose)).
				Wrap(err)
		}
		if invalidated > 0 {
			s.logger.Debug("invalidated prior tokens",
				"user_id", userID.String(),
				"purpose", string(purpose),
				"count", invalidated)
		}

		if err := s.tokens.Create(ctx, token); err != nil {
			return oops.Code("TOKEN_ISSUE_FAILED").
				With("operation", "store token").
				With("purpose", string(purpose)).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}

	RecordTokenIssued(string(purpose))
	return secret, token, nil
}

// Redeem consumes a secret: it hashes the input, looks the token up, and
// atomically marks it used. Fails with ErrTokenNotFound, ErrTokenExpired
// or ErrTokenUsed; a second call with the same secret always fails with
// ErrTokenUsed. On success returns the owning user ID.
func (s *SecretTokenService) Redeem(ctx context.Context, rawSecret string, purpose TokenPurpose) (ulid.ULID, error) {
	if rawSecret == "" {
		return ulid.ULID{}, oops.Code("TOKEN_EMPTY").Wrap(ErrTokenNotFound)
	}
	if !purpose.Valid() {
		return ulid.ULID{}, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown token purpose")
	}

	hash := HashSecret(rawSecret)

	var userID ulid.ULID
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		token, err := s.tokens.GetByHash(ctx, purpose, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrTokenNotFound
			}
			return oops.Code("TOKEN_REDEEM_FAILED").
				With("operation", "get token by hash").
				With("purpose", string(purpose)).
				Wrap(err)
		}

		if token.Used {
			return ErrTokenUsed
		}
		if token.IsExpiredAt(s.now()) {
			return ErrTokenExpired
		}

		if err := s.tokens.MarkUsed(ctx, token.ID); err != nil {
			// A concurrent redeem can win the race between the read and
			// the conditional update.
			if errors.Is(err, ErrTokenUsed) {
				return ErrTokenUsed
			}
			return oops.Code("TOKEN_REDEEM_FAILED").
				With("operation", "mark token used").
				With("purpose", string(purpose)).
				Wrap(err)
		}

		userID = token.UserID
		return nil
	})
	if err != nil {
		return ulid.ULID{}, err
	}

	return userID, nil
}
