// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SecretBytes is the entropy of a raw secret: 32 bytes, 64 hex chars.
const SecretBytes = 32

// TokenPurpose names the state transition a secret token authorizes.
type TokenPurpose string

// Supported token purposes.
const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Token lifetimes per purpose.
const (
	EmailVerifyTTL   = 24 * time.Hour
	PasswordResetTTL = time.Hour
)

// TTL returns the lifetime of tokens issued for this purpose.
func (p TokenPurpose) TTL() time.Duration {
	if p == PurposePasswordReset {
		return PasswordResetTTL
	}
	return EmailVerifyTTL
}

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// SecretToken is the stored half of a one-time secret. Only the SHA-256
// hash of the secret is persisted; the plaintext exists exactly once, in
// the return value of SecretTokenService.Issue.
type SecretToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	Purpose   TokenPurpose
	TokenHash string
	IssuingIP string // optional audit trail, recorded for password resets
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewSecretToken creates a validated SecretToken. IssuingIP may be empty.
func NewSecretToken(userID ulid.ULID, purpose TokenPurpose, tokenHash, issuingIP string, expiresAt time.Time) (*SecretToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if !purpose.Valid() {
		return nil, oops.Code("TOKEN_INVALID_PURPOSE").With("purpose", string(purpose)).Errorf("unknown token purpose")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	return &SecretToken{
		ID:        ulid.Make(),
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: tokenHash,
		IssuingIP: issuingIP,
		ExpiresAt: expiresAt,
	}, nil
}

// IsExpiredAt reports whether the token is expired at the given instant.
func (t *SecretToken) IsExpiredAt(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// GenerateSecret creates a secure random secret and its hash.
// Returns (plaintext_secret, sha256_hash, error).
// The plaintext goes to the user out-of-band; the hash is stored.
func GenerateSecret() (secret, hash string, err error) {
	buf := make([]byte, SecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}

	secret = hex.EncodeToString(buf)
	hash = HashSecret(secret)

	return secret, hash, nil
}

// HashSecret computes the SHA-256 hash of a raw secret.
func HashSecret(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// VerifySecret checks a plaintext secret against a stored hash.
// Uses constant-time comparison to prevent timing attacks.
func VerifySecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	computed := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// SecretTokenRepository manages secret-token persistence.
type SecretTokenRepository interface {
	// Create stores a new token record.
	Create(ctx context.Context, token *SecretToken) error

	// GetByHash retrieves a token by purpose and hash.
	// Returns ErrNotFound (wrapped) if absent.
	GetByHash(ctx context.Context, purpose TokenPurpose, tokenHash string) (*SecretToken, error)

	// MarkUsed flips used to true. Returns ErrTokenUsed (wrapped) if the
	// token was already consumed; the check-and-set is a single atomic
	// statement.
	MarkUsed(ctx context.Context, id ulid.ULID) error

	// InvalidateActive marks every unused, unexpired token of the given
	// purpose for the user as used and returns the count.
	InvalidateActive(ctx context.Context, userID ulid.ULID, purpose TokenPurpose, now time.Time) (int64, error)

	// DeleteExpired removes tokens that expired before the cutoff and
	// returns the count of deleted records.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
