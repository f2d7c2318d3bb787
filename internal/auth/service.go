// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/placepulse/placepulse/pkg/errutil"
)

// dummyPasswordHash is verified against when a user doesn't exist, so
// unknown and known usernames take comparable time. This is NOT a real
// credential - it is a fake hash that will never match any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginInput carries the credential and device context for a login.
type LoginInput struct {
	Username   string
	Password   string
	DeviceName string
	UserAgent  string
	IPAddress  string
}

// Credentials is the result of a successful login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Session      *Session
	User         *User
}

// ServiceDeps are the collaborators the orchestrator composes.
type ServiceDeps struct {
	Users    UserRepository
	Tokens   *SecretTokenService
	Sessions *SessionRegistry
	Limiter  *RateLimiter
	Hasher   PasswordHasher
	Mint     *TokenMint
	Notifier Notifier
	Tx       Transactor
	BaseURL  string
	Clock    Clock
	Logger   *slog.Logger
}

// Service orchestrates registration, verification, login, logout and
// password-reset flows. Multi-step mutations run inside the Transactor;
// rate-limit bookkeeping commits independently so a rolled-back login
// cannot erase a recorded failure.
type Service struct {
	users    UserRepository
	tokens   *SecretTokenService
	sessions *SessionRegistry
	limiter  *RateLimiter
	hasher   PasswordHasher
	mint     *TokenMint
	notifier Notifier
	tx       Transactor
	baseURL  string
	now      Clock
	logger   *slog.Logger
}

// NewService creates the orchestrator, validating every dependency.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Users == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("user repository is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("secret token service is required")
	case deps.Sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session registry is required")
	case deps.Limiter == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("rate limiter is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case deps.Mint == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("token mint is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("notifier is required")
	case deps.Tx == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("transactor is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		users:    deps.Users,
		tokens:   deps.Tokens,
		sessions: deps.Sessions,
		limiter:  deps.Limiter,
		hasher:   deps.Hasher,
		mint:     deps.Mint,
		notifier: deps.Notifier,
		tx:       deps.Tx,
		baseURL:  strings.TrimRight(deps.BaseURL, "/"),
		now:      deps.Clock,
		logger:   deps.Logger,
	}, nil
}

// Register creates an inactive account, issues an email-verification
// secret and mails it. Fails with ErrDuplicateIdentity when the username
// or email is already taken.
func (s *Service) Register(ctx context.Context, username, email, password, ipAddress string) (*User, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	user, err := NewUser(username, email, passwordHash, s.now())
	if err != nil {
		return nil, err
	}

	var rawSecret string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicateIdentity) {
				return err
			}
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
		}

		raw, _, err := s.tokens.Issue(ctx, user.ID, PurposeEmailVerify, ipAddress)
		if err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "issue verification token").Wrap(err)
		}
		rawSecret = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	subject, body := VerificationMail(s.baseURL, user.Username, rawSecret)
	sent := s.notifier.Send(ctx, user.Email, subject, body)
	s.logger.Info("user registered", "user_id", user.ID.String(), "email_sent", sent)

	return user, nil
}

// VerifyEmail redeems an email-verification secret and activates the
// account. Every token failure collapses to ErrInvalidToken; the caller
// can never tell absent from expired from already used.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*User, error) {
	var user *User
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		userID, err := s.tokens.Redeem(ctx, rawToken, PurposeEmailVerify)
		if err != nil {
			return s.mapTokenErr(err, "email verification")
		}

		if err := s.users.SetActive(ctx, userID, true); err != nil {
			return oops.Code("AUTH_VERIFY_FAILED").With("operation", "activate user").Wrap(err)
		}

		user, err = s.users.GetByID(ctx, userID)
		if err != nil {
			return oops.Code("AUTH_VERIFY_FAILED").With("operation", "load user").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email verified", "user_id", user.ID.String())
	return user, nil
}

// ResendVerification re-issues the verification secret for an inactive
// account. The response is uniform whether the email is unknown, already
// verified, or pending: existence is never revealed.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnSecret()
			s.logger.Debug("resend requested for unknown email")
			return nil
		}
		return oops.Code("AUTH_RESEND_FAILED").With("operation", "get user by email").Wrap(err)
	}
	if user.Active {
		s.burnSecret()
		s.logger.Debug("resend requested for verified account", "user_id", user.ID.String())
		return nil
	}

	var rawSecret string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		raw, _, err := s.tokens.Issue(ctx, user.ID, PurposeEmailVerify, "")
		if err != nil {
			return oops.Code("AUTH_RESEND_FAILED").With("operation", "issue verification token").Wrap(err)
		}
		rawSecret = raw
		return nil
	})
	if err != nil {
		return err
	}

	subject, body := VerificationMail(s.baseURL, user.Username, rawSecret)
	sent := s.notifier.Send(ctx, user.Email, subject, body)
	s.logger.Info("verification resent", "user_id", user.ID.String(), "email_sent", sent)
	return nil
}

// Login authenticates credentials and opens a session. The rate limiter
// is keyed by lowercased username; an unverified account is a distinct
// terminal state that never counts as a limiter failure.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Credentials, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, oops.Code("AUTH_INVALID_INPUT").Errorf("username and password are required")
	}
	identifier := strings.ToLower(username)

	decision, err := s.limiter.Check(ctx, identifier)
	if err != nil {
		RecordLogin(StatusError)
		return nil, err
	}
	if !decision.Allowed {
		RecordLogin(StatusRateLimited)
		s.logger.Info("login rate limited", "identifier", identifier, "locked_until", decision.LockedUntil)
		return nil, &RateLimitedError{Until: *decision.LockedUntil, RetryAfter: decision.RetryAfter}
	}

	user, lookupErr := s.users.GetByUsername(ctx, username)
	userExists := true
	targetHash := dummyPasswordHash
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			RecordLogin(StatusError)
			return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by username").Wrap(lookupErr)
		}
		userExists = false
	} else {
		targetHash = user.PasswordHash
	}

	if userExists && !user.Active {
		// Identity confirmed but not yet authorized; does not touch the
		// failure counter.
		RecordLogin(StatusUnverified)
		s.logger.Info("login attempt for unverified account", "user_id", user.ID.String())
		return nil, oops.Code("AUTH_EMAIL_NOT_VERIFIED").Wrap(ErrEmailNotVerified)
	}

	valid, verifyErr := s.hasher.Verify(in.Password, targetHash)
	if verifyErr != nil && userExists {
		RecordLogin(StatusError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "verify password").Wrap(verifyErr)
	}

	if !userExists || !valid {
		if err := s.limiter.RecordFailure(ctx, identifier); err != nil {
			errutil.LogError(s.logger, "recording login failure", err)
		}
		RecordLogin(StatusInvalid)
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	if err := s.limiter.RecordSuccess(ctx, identifier); err != nil {
		errutil.LogError(s.logger, "resetting login counter", err)
	}

	access, err := s.mint.MintAccess(user.ID)
	if err != nil {
		RecordLogin(StatusError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "mint access token").Wrap(err)
	}
	refresh, jti, err := s.mint.MintRefresh(user.ID)
	if err != nil {
		RecordLogin(StatusError)
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "mint refresh token").Wrap(err)
	}

	var session *Session
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		session, err = s.sessions.Open(ctx, user.ID, jti, in.DeviceName, in.UserAgent, in.IPAddress)
		return err
	})
	if err != nil {
		RecordLogin(StatusError)
		return nil, err
	}

	RecordLogin(StatusSuccess)
	s.logger.Info("user logged in", "user_id", user.ID.String(), "ip", in.IPAddress)

	return &Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		Session:      session,
		User:         user,
	}, nil
}

// RefreshAccess exchanges a live refresh credential for a fresh access
// token. The refresh credential is live only while its session row is
// active.
func (s *Service) RefreshAccess(ctx context.Context, rawRefresh string) (string, error) {
	userID, jti, err := s.mint.ParseRefresh(rawRefresh)
	if err != nil {
		return "", err
	}

	session, err := s.sessions.Get(ctx, jti)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("AUTH_REFRESH_REVOKED").Wrap(ErrInvalidToken)
		}
		return "", oops.Code("AUTH_REFRESH_FAILED").With("operation", "load session").Wrap(err)
	}
	if !session.Active || session.UserID != userID {
		return "", oops.Code("AUTH_REFRESH_REVOKED").Wrap(ErrInvalidToken)
	}

	s.sessions.Touch(ctx, jti)

	return s.mint.MintAccess(userID)
}

// Logout invalidates the presented refresh credential by closing its
// session. Idempotent: logging out an already closed session succeeds.
func (s *Service) Logout(ctx context.Context, userID ulid.ULID, rawRefresh string) error {
	tokenUserID, jti, err := s.mint.ParseRefresh(rawRefresh)
	if err != nil {
		return err
	}
	if tokenUserID != userID {
		return oops.Code("AUTH_LOGOUT_MISMATCH").Wrap(ErrInvalidToken)
	}

	if err := s.sessions.Close(ctx, jti, userID); err != nil {
		return err
	}
	s.logger.Info("user logged out", "user_id", userID.String())
	return nil
}

// LogoutAll revokes every session for the user, and with them every
// outstanding refresh credential.
func (s *Service) LogoutAll(ctx context.Context, userID ulid.ULID) error {
	if _, err := s.sessions.CloseAll(ctx, userID); err != nil {
		return err
	}
	return nil
}

// RequestPasswordReset issues a reset secret for an active account and
// mails it. Always succeeds from the caller's point of view: unknown and
// inactive emails burn equivalent work and return nil.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ipAddress string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnSecret()
			s.logger.Debug("password reset requested for unknown email")
			return nil
		}
		return oops.Code("AUTH_RESET_REQUEST_FAILED").With("operation", "get user by email").Wrap(err)
	}
	if !user.Active {
		s.burnSecret()
		s.logger.Debug("password reset requested for inactive account", "user_id", user.ID.String())
		return nil
	}

	var rawSecret string
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		raw, _, err := s.tokens.Issue(ctx, user.ID, PurposePasswordReset, ipAddress)
		if err != nil {
			return oops.Code("AUTH_RESET_REQUEST_FAILED").With("operation", "issue reset token").Wrap(err)
		}
		rawSecret = raw
		return nil
	})
	if err != nil {
		return err
	}

	subject, body := PasswordResetMail(s.baseURL, user.Username, rawSecret)
	sent := s.notifier.Send(ctx, user.Email, subject, body)
	s.logger.Info("password reset requested", "user_id", user.ID.String(), "email_sent", sent)
	return nil
}

// ConfirmPasswordReset redeems a reset secret, updates the password and
// unconditionally revokes every session for the user. The token burn,
// password change and session wipe commit as one unit; a changed
// password immediately invalidates every existing credential.
func (s *Service) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_FAILED").With("operation", "hash password").Wrap(err)
	}

	var userID ulid.ULID
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		uid, err := s.tokens.Redeem(ctx, rawToken, PurposePasswordReset)
		if err != nil {
			return s.mapTokenErr(err, "password reset")
		}
		userID = uid

		if err := s.users.UpdatePassword(ctx, userID, passwordHash); err != nil {
			return oops.Code("AUTH_RESET_FAILED").With("operation", "update password").Wrap(err)
		}

		if _, err := s.sessions.CloseAll(ctx, userID); err != nil {
			return oops.Code("AUTH_RESET_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset confirmed", "user_id", userID.String())
	return nil
}

// ListSessions returns the user's active sessions, most recently seen
// first.
func (s *Service) ListSessions(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

// RevokeSession revokes one of the user's sessions by key. Unlike
// logout, an absent session reports ErrNotFound.
func (s *Service) RevokeSession(ctx context.Context, userID ulid.ULID, sessionKey string) error {
	if sessionKey == "" {
		return oops.Code("AUTH_INVALID_INPUT").Errorf("session key is required")
	}
	return s.sessions.Revoke(ctx, sessionKey, userID)
}

// mapTokenErr collapses internal token failures to the single
// externally-visible ErrInvalidToken, keeping the distinction in logs
// only.
func (s *Service) mapTokenErr(err error, flow string) error {
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenUsed):
		s.logger.Debug("token rejected", "flow", flow, "reason", err.Error())
		return oops.Code("AUTH_INVALID_TOKEN").Wrap(ErrInvalidToken)
	default:
		return err
	}
}

// burnSecret does the work of generating a secret and discards it, so
// the miss branch of anti-enumeration flows costs about the same as the
// hit branch.
func (s *Service) burnSecret() {
	_, _, _ = GenerateSecret()
}
