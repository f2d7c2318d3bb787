// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Default JWT lifetimes.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

// Token type claim values.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims minted by this core. TokenType distinguishes
// short-lived access tokens from refresh tokens; the refresh token's ID
// claim (jti) doubles as the session key.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"typ"`
}

// TokenMint signs and verifies the access/refresh credential pair.
type TokenMint struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        Clock
}

// MintOption configures a TokenMint.
type MintOption func(*TokenMint)

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(d time.Duration) MintOption {
	return func(m *TokenMint) {
		if d > 0 {
			m.accessTTL = d
		}
	}
}

// WithRefreshTTL overrides the refresh-token lifetime.
func WithRefreshTTL(d time.Duration) MintOption {
	return func(m *TokenMint) {
		if d > 0 {
			m.refreshTTL = d
		}
	}
}

// WithMintClock overrides the clock used for issued-at and expiry claims.
func WithMintClock(now Clock) MintOption {
	return func(m *TokenMint) {
		if now != nil {
			m.now = now
		}
	}
}

// NewTokenMint creates a TokenMint signing HS256 tokens with the given
// secret.
func NewTokenMint(secret, issuer string, opts ...MintOption) (*TokenMint, error) {
	if len(secret) < 32 {
		return nil, oops.Code("MINT_WEAK_SECRET").Errorf("signing secret must be at least 32 bytes")
	}
	m := &TokenMint{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        SystemClock,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MintAccess signs a short-lived access token for the user.
func (m *TokenMint) MintAccess(userID ulid.ULID) (string, error) {
	token, _, err := m.mint(userID, tokenTypeAccess, m.accessTTL)
	return token, err
}

// MintRefresh signs a refresh token and returns it with its jti, which
// callers use as the session key.
func (m *TokenMint) MintRefresh(userID ulid.ULID) (token, jti string, err error) {
	return m.mint(userID, tokenTypeRefresh, m.refreshTTL)
}

func (m *TokenMint) mint(userID ulid.ULID, tokenType string, ttl time.Duration) (string, string, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return "", "", oops.Code("MINT_INVALID_USER").Errorf("user ID cannot be zero")
	}

	now := m.now()
	jti := ulid.Make().String()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID.String(),
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", oops.Code("MINT_SIGN_FAILED").With("token_type", tokenType).Wrap(err)
	}
	return signed, jti, nil
}

// ParseAccess verifies an access token and returns the user ID.
// Any failure surfaces as ErrInvalidToken.
func (m *TokenMint) ParseAccess(raw string) (ulid.ULID, error) {
	userID, _, err := m.parse(raw, tokenTypeAccess)
	return userID, err
}

// ParseRefresh verifies a refresh token and returns the user ID and jti.
// Any failure surfaces as ErrInvalidToken.
func (m *TokenMint) ParseRefresh(raw string) (ulid.ULID, string, error) {
	return m.parse(raw, tokenTypeRefresh)
}

func (m *TokenMint) parse(raw, wantType string) (ulid.ULID, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil || !token.Valid {
		return ulid.ULID{}, "", oops.Code("MINT_PARSE_FAILED").Wrap(ErrInvalidToken)
	}
	if claims.TokenType != wantType || claims.ID == "" {
		return ulid.ULID{}, "", oops.Code("MINT_WRONG_TYPE").Wrap(ErrInvalidToken)
	}

	userID, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, "", oops.Code("MINT_BAD_SUBJECT").Wrap(ErrInvalidToken)
	}
	return userID, claims.ID, nil
}
