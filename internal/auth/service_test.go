// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placepulse/placepulse/internal/auth"
	"github.com/placepulse/placepulse/pkg/errutil"
)

func TestNewService_NilDependencies(t *testing.T) {
	f := newFixture(t)
	deps := auth.ServiceDeps{
		Users:    f.users,
		Sessions: nil,
		Hasher:   plainHasher{},
		Notifier: f.notifier,
		Tx:       auth.PassthroughTransactor{},
	}

	svc, err := auth.NewService(deps)
	require.Error(t, err)
	assert.Nil(t, svc)
	errutil.AssertErrorCode(t, err, "AUTH_SERVICE_INVALID")
}

func TestService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("creates inactive account and mails verification link", func(t *testing.T) {
		f := newFixture(t)

		user, err := f.svc.Register(ctx, "alice", "Alice@Example.com", "correct horse", "203.0.113.9")
		require.NoError(t, err)
		assert.False(t, user.Active)
		assert.Equal(t, "alice@example.com", user.Email)

		mail := f.notifier.last(t)
		assert.Equal(t, "alice@example.com", mail.To)
		assert.Contains(t, mail.Subject, "Verify")
		assert.Contains(t, mail.Body, "verify-email?token=")
	})

	t.Run("rejects duplicate username", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		_, err = f.svc.Register(ctx, "Alice", "other@example.com", "correct horse", "")
		require.ErrorIs(t, err, auth.ErrDuplicateIdentity)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		_, err = f.svc.Register(ctx, "bob", "ALICE@example.com", "correct horse", "")
		require.ErrorIs(t, err, auth.ErrDuplicateIdentity)
	})

	t.Run("rejects short password before touching storage", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "short", "")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_PASSWORD")
		assert.Zero(t, f.notifier.count())
	})

	t.Run("failed mail delivery does not fail registration", func(t *testing.T) {
		f := newFixture(t)
		f.notifier.failRemaining = 1

		user, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		// Account exists; the user can request a resend.
		_, err = f.users.GetByID(ctx, user.ID)
		require.NoError(t, err)
	})
}

func TestService_VerifyEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("activates the account", func(t *testing.T) {
		f := newFixture(t)
		user, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		secret := secretFromMail(t, f.notifier.last(t).Body)
		verified, err := f.svc.VerifyEmail(ctx, secret)
		require.NoError(t, err)
		assert.Equal(t, user.ID, verified.ID)
		assert.True(t, verified.Active)
	})

	t.Run("secret is single use", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)
		secret := secretFromMail(t, f.notifier.last(t).Body)

		_, err = f.svc.VerifyEmail(ctx, secret)
		require.NoError(t, err)

		_, err = f.svc.VerifyEmail(ctx, secret)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired secret is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)
		secret := secretFromMail(t, f.notifier.last(t).Body)

		f.clock.Advance(auth.EmailVerifyTTL + time.Minute)

		_, err = f.svc.VerifyEmail(ctx, secret)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("garbage secret is rejected identically", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.VerifyEmail(ctx, "no-such-secret")
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestService_ResendVerification(t *testing.T) {
	ctx := context.Background()

	t.Run("re-issue invalidates the prior secret", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)
		first := secretFromMail(t, f.notifier.last(t).Body)

		require.NoError(t, f.svc.ResendVerification(ctx, "alice@example.com"))
		second := secretFromMail(t, f.notifier.last(t).Body)
		require.NotEqual(t, first, second)

		_, err = f.svc.VerifyEmail(ctx, first)
		require.ErrorIs(t, err, auth.ErrInvalidToken)

		user, err := f.svc.VerifyEmail(ctx, second)
		require.NoError(t, err)
		assert.True(t, user.Active)
	})

	t.Run("unknown email succeeds without mail", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.svc.ResendVerification(ctx, "nobody@example.com"))
		assert.Zero(t, f.notifier.count())
	})

	t.Run("already verified account succeeds without mail", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		before := f.notifier.count()

		require.NoError(t, f.svc.ResendVerification(ctx, "alice@example.com"))
		assert.Equal(t, before, f.notifier.count())
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("issues credentials and opens a session", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")

		creds := f.login(t, "alice", "correct horse")
		assert.NotEmpty(t, creds.AccessToken)
		assert.NotEmpty(t, creds.RefreshToken)
		assert.Equal(t, user.ID, creds.User.ID)
		require.NotNil(t, creds.Session)
		assert.True(t, creds.Session.Active)
		assert.Equal(t, "laptop", creds.Session.DeviceName)

		// The session key is the refresh token's jti.
		_, jti, err := f.mint.ParseRefresh(creds.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, jti, creds.Session.SessionKey)
	})

	t.Run("username is matched case-insensitively with surrounding space", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		creds := f.login(t, "  ALICE  ", "correct horse")
		assert.Equal(t, "alice", creds.User.Username)
	})

	t.Run("wrong password and unknown user fail identically", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		_, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "wrong password"})
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)

		_, err = f.svc.Login(ctx, auth.LoginInput{Username: "mallory", Password: "wrong password"})
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unverified account is a distinct failure", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		_, err = f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
		require.ErrorIs(t, err, auth.ErrEmailNotVerified)
	})

	t.Run("missing input is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Login(ctx, auth.LoginInput{Username: " ", Password: "x"})
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_INPUT")
	})
}

func TestService_LoginRateLimiting(t *testing.T) {
	ctx := context.Background()

	failLogin := func(t *testing.T, f *fixture, username string) error {
		t.Helper()
		_, err := f.svc.Login(ctx, auth.LoginInput{Username: username, Password: "wrong password"})
		return err
	}

	t.Run("locks out after repeated failures", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		for i := 0; i < auth.DefaultMaxAttempts; i++ {
			require.ErrorIs(t, failLogin(t, f, "alice"), auth.ErrInvalidCredentials)
		}

		err := failLogin(t, f, "alice")
		rle, ok := auth.IsRateLimited(err)
		require.True(t, ok, "expected rate-limited error, got %v", err)
		assert.Equal(t, auth.DefaultLockoutDuration, rle.RetryAfter)

		// Correct password makes no difference while locked.
		_, err = f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
		_, ok = auth.IsRateLimited(err)
		require.True(t, ok)
	})

	t.Run("case variants of one username share the counter", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		for i := 0; i < auth.DefaultMaxAttempts; i++ {
			require.ErrorIs(t, failLogin(t, f, "ALICE"), auth.ErrInvalidCredentials)
		}

		_, ok := auth.IsRateLimited(failLogin(t, f, "alice"))
		require.True(t, ok)
	})

	t.Run("lockout expires", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		for i := 0; i < auth.DefaultMaxAttempts; i++ {
			require.ErrorIs(t, failLogin(t, f, "alice"), auth.ErrInvalidCredentials)
		}
		_, ok := auth.IsRateLimited(failLogin(t, f, "alice"))
		require.True(t, ok)

		f.clock.Advance(auth.DefaultLockoutDuration + time.Minute)

		creds := f.login(t, "alice", "correct horse")
		assert.NotNil(t, creds.Session)
	})

	t.Run("success resets the counter", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		for i := 0; i < auth.DefaultMaxAttempts-1; i++ {
			require.ErrorIs(t, failLogin(t, f, "alice"), auth.ErrInvalidCredentials)
		}
		f.login(t, "alice", "correct horse")

		// A full fresh budget is required to lock again.
		for i := 0; i < auth.DefaultMaxAttempts; i++ {
			require.ErrorIs(t, failLogin(t, f, "alice"), auth.ErrInvalidCredentials)
		}
		_, ok := auth.IsRateLimited(failLogin(t, f, "alice"))
		require.True(t, ok)
	})

	t.Run("unverified attempts never count", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)

		for i := 0; i < auth.DefaultMaxAttempts*2; i++ {
			_, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
			require.ErrorIs(t, err, auth.ErrEmailNotVerified)
		}
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		f.register(t, "bob", "bob@example.com", "correct horse")

		for i := 0; i < auth.DefaultMaxAttempts; i++ {
			require.ErrorIs(t, failLogin(t, f, "alice"), auth.ErrInvalidCredentials)
		}
		_, ok := auth.IsRateLimited(failLogin(t, f, "alice"))
		require.True(t, ok)

		creds := f.login(t, "bob", "correct horse")
		assert.NotNil(t, creds.Session)
	})
}

func TestService_RefreshAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges a live refresh token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		f.clock.Advance(time.Minute)

		access, err := f.svc.RefreshAccess(ctx, creds.RefreshToken)
		require.NoError(t, err)

		gotID, err := f.mint.ParseAccess(access)
		require.NoError(t, err)
		assert.Equal(t, user.ID, gotID)

		// Refresh bumps session activity.
		session, err := f.sessions.GetByKey(ctx, creds.Session.SessionKey)
		require.NoError(t, err)
		assert.True(t, session.LastSeenAt.After(creds.Session.LastSeenAt))
	})

	t.Run("revoked session kills the refresh token", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		require.NoError(t, f.svc.Logout(ctx, user.ID, creds.RefreshToken))

		_, err := f.svc.RefreshAccess(ctx, creds.RefreshToken)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		_, err := f.svc.RefreshAccess(ctx, creds.AccessToken)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("expired refresh token is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		f.clock.Advance(auth.DefaultRefreshTTL + time.Hour)

		_, err := f.svc.RefreshAccess(ctx, creds.RefreshToken)
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		require.NoError(t, f.svc.Logout(ctx, user.ID, creds.RefreshToken))
		require.NoError(t, f.svc.Logout(ctx, user.ID, creds.RefreshToken))
	})

	t.Run("rejects another user's token", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		creds := f.login(t, "alice", "correct horse")

		err := f.svc.Logout(ctx, ulid.Make(), creds.RefreshToken)
		require.ErrorIs(t, err, auth.ErrInvalidToken)

		// The session survives the failed attempt.
		session, err := f.sessions.GetByKey(ctx, creds.Session.SessionKey)
		require.NoError(t, err)
		assert.True(t, session.Active)
	})

	t.Run("logout all revokes every device", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")
		c1 := f.login(t, "alice", "correct horse")
		c2 := f.login(t, "alice", "correct horse")

		require.NoError(t, f.svc.LogoutAll(ctx, user.ID))

		for _, creds := range []*auth.Credentials{c1, c2} {
			_, err := f.svc.RefreshAccess(ctx, creds.RefreshToken)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
		}

		// Idempotent.
		require.NoError(t, f.svc.LogoutAll(ctx, user.ID))
	})
}

func TestService_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("lists active sessions most recent first", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")

		c1 := f.login(t, "alice", "correct horse")
		f.clock.Advance(time.Minute)
		c2 := f.login(t, "alice", "correct horse")
		f.clock.Advance(time.Minute)
		c3 := f.login(t, "alice", "correct horse")

		sessions, err := f.svc.ListSessions(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, sessions, 3)
		assert.Equal(t, c3.Session.SessionKey, sessions[0].SessionKey)
		assert.Equal(t, c2.Session.SessionKey, sessions[1].SessionKey)
		assert.Equal(t, c1.Session.SessionKey, sessions[2].SessionKey)
	})

	t.Run("revoking one session leaves the others", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")
		c1 := f.login(t, "alice", "correct horse")
		c2 := f.login(t, "alice", "correct horse")

		require.NoError(t, f.svc.RevokeSession(ctx, user.ID, c1.Session.SessionKey))

		_, err := f.svc.RefreshAccess(ctx, c1.RefreshToken)
		require.ErrorIs(t, err, auth.ErrInvalidToken)

		_, err = f.svc.RefreshAccess(ctx, c2.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("revoking an absent session reports not found", func(t *testing.T) {
		f := newFixture(t)
		user := f.register(t, "alice", "alice@example.com", "correct horse")

		err := f.svc.RevokeSession(ctx, user.ID, "no-such-key")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("cannot revoke another user's session", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		f.register(t, "bob", "bob@example.com", "correct horse")
		aliceCreds := f.login(t, "alice", "correct horse")
		bob, err := f.users.GetByUsername(ctx, "bob")
		require.NoError(t, err)

		err = f.svc.RevokeSession(ctx, bob.ID, aliceCreds.Session.SessionKey)
		require.ErrorIs(t, err, auth.ErrNotFound)

		session, err := f.sessions.GetByKey(ctx, aliceCreds.Session.SessionKey)
		require.NoError(t, err)
		assert.True(t, session.Active)
	})
}

func TestService_PasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("full reset flow revokes every session", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")
		c1 := f.login(t, "alice", "correct horse")
		c2 := f.login(t, "alice", "correct horse")

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", "203.0.113.9"))
		mail := f.notifier.last(t)
		assert.Contains(t, mail.Body, "password-reset/confirm?token=")
		secret := secretFromMail(t, mail.Body)

		require.NoError(t, f.svc.ConfirmPasswordReset(ctx, secret, "battery staple"))

		// Old password dead, new password live.
		_, err := f.svc.Login(ctx, auth.LoginInput{Username: "alice", Password: "correct horse"})
		require.ErrorIs(t, err, auth.ErrInvalidCredentials)
		f.login(t, "alice", "battery staple")

		// Every pre-reset refresh credential is revoked.
		for _, creds := range []*auth.Credentials{c1, c2} {
			_, err := f.svc.RefreshAccess(ctx, creds.RefreshToken)
			require.ErrorIs(t, err, auth.ErrInvalidToken)
		}
	})

	t.Run("reset secret is single use", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", ""))
		secret := secretFromMail(t, f.notifier.last(t).Body)

		require.NoError(t, f.svc.ConfirmPasswordReset(ctx, secret, "battery staple"))
		err := f.svc.ConfirmPasswordReset(ctx, secret, "tr0ub4dor &3")
		require.ErrorIs(t, err, auth.ErrInvalidToken)

		// The second attempt changed nothing.
		f.login(t, "alice", "battery staple")
	})

	t.Run("re-request invalidates the prior secret", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", ""))
		first := secretFromMail(t, f.notifier.last(t).Body)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", ""))
		second := secretFromMail(t, f.notifier.last(t).Body)

		require.ErrorIs(t, f.svc.ConfirmPasswordReset(ctx, first, "battery staple"), auth.ErrInvalidToken)
		require.NoError(t, f.svc.ConfirmPasswordReset(ctx, second, "battery staple"))
	})

	t.Run("reset secret expires after an hour", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", ""))
		secret := secretFromMail(t, f.notifier.last(t).Body)

		f.clock.Advance(auth.PasswordResetTTL + time.Minute)

		err := f.svc.ConfirmPasswordReset(ctx, secret, "battery staple")
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("verification secret cannot reset a password", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "alice", "alice@example.com", "correct horse", "")
		require.NoError(t, err)
		verifySecret := secretFromMail(t, f.notifier.last(t).Body)

		err = f.svc.ConfirmPasswordReset(ctx, verifySecret, "battery staple")
		require.ErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("unknown and unverified emails get the uniform response", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, "pending", "pending@example.com", "correct horse", "")
		require.NoError(t, err)
		before := f.notifier.count()

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com", ""))
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "pending@example.com", ""))
		assert.Equal(t, before, f.notifier.count())
	})

	t.Run("weak replacement password is rejected before redeeming", func(t *testing.T) {
		f := newFixture(t)
		f.register(t, "alice", "alice@example.com", "correct horse")

		require.NoError(t, f.svc.RequestPasswordReset(ctx, "alice@example.com", ""))
		secret := secretFromMail(t, f.notifier.last(t).Body)

		err := f.svc.ConfirmPasswordReset(ctx, secret, "short")
		errutil.AssertErrorCode(t, err, "AUTH_INVALID_PASSWORD")

		// Secret not burned by the rejected attempt.
		require.NoError(t, f.svc.ConfirmPasswordReset(ctx, secret, "battery staple"))
	})
}
