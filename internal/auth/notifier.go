// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Notifier delivers a message to an email address. Best-effort: it
// returns false on failure and never panics or raises across the
// boundary. Delivery failures must not roll back the state they
// accompany; the user can request a resend.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) bool
}

// VerificationMail builds the email carrying an email-verification
// secret. The raw secret appears only in the returned body.
func VerificationMail(baseURL, username, rawSecret string) (subject, body string) {
	link := fmt.Sprintf("%s/verify-email?token=%s", baseURL, rawSecret)
	subject = "Verify your email - PlacePulse"
	body = fmt.Sprintf(`Hi %s,

Thanks for signing up for PlacePulse. Please verify your email by
following this link:

%s

The link expires in 24 hours.

If you did not sign up for PlacePulse, ignore this email.`, username, link)
	return subject, body
}

// PasswordResetMail builds the email carrying a password-reset secret.
func PasswordResetMail(baseURL, username, rawSecret string) (subject, body string) {
	link := fmt.Sprintf("%s/password-reset/confirm?token=%s", baseURL, rawSecret)
	subject = "Password reset - PlacePulse"
	body = fmt.Sprintf(`Hi %s,

We received a request to reset your password. Follow this link to
continue:

%s

The link expires in 1 hour.

If you did not request a password reset, ignore this email and your
password will remain unchanged.`, username, link)
	return subject, body
}

// SlogNotifier is a development Notifier that records that mail would be
// sent without ever logging the body, which carries the raw secret.
type SlogNotifier struct {
	Logger *slog.Logger
}

// Send logs the destination and subject only.
func (n *SlogNotifier) Send(_ context.Context, to, subject, _ string) bool {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail suppressed (dev notifier)", "to", to, "subject", subject)
	return true
}

// RetryingNotifier wraps a Notifier with fibonacci-backoff retries.
// Still best-effort: once the retry budget is spent it reports false.
type RetryingNotifier struct {
	next     Notifier
	maxTries uint64
	base     time.Duration
	logger   *slog.Logger
}

// NewRetryingNotifier wraps next with up to maxTries attempts.
func NewRetryingNotifier(next Notifier, maxTries uint64, base time.Duration, logger *slog.Logger) *RetryingNotifier {
	if maxTries == 0 {
		maxTries = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingNotifier{next: next, maxTries: maxTries, base: base, logger: logger}
}

// Send attempts delivery with backoff between failures.
func (n *RetryingNotifier) Send(ctx context.Context, to, subject, body string) bool {
	backoff := retry.WithMaxRetries(n.maxTries-1, retry.NewFibonacci(n.base))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !n.next.Send(ctx, to, subject, body) {
			return retry.RetryableError(fmt.Errorf("notifier delivery failed"))
		}
		return nil
	})
	if err != nil {
		n.logger.Warn("notification dropped after retries", "to", to, "subject", subject)
		return false
	}
	return true
}
