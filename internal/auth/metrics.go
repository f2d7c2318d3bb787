// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Status label values for login metrics.
const (
	StatusSuccess     = "success"
	StatusInvalid     = "invalid_credentials"
	StatusUnverified  = "email_not_verified"
	StatusRateLimited = "rate_limited"
	StatusError       = "error"
)

// Logins is the counter for login attempts by outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var Logins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "placepulse_auth_logins_total",
		Help: "Total number of login attempts by status",
	},
	[]string{"status"},
)

// TokensIssued is the counter for secret tokens issued by purpose.
var TokensIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "placepulse_auth_tokens_issued_total",
		Help: "Total number of secret tokens issued",
	},
	[]string{"purpose"},
)

// SessionsRevoked is the counter for revoked sessions by scope
// ("single" or "all").
var SessionsRevoked = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "placepulse_auth_sessions_revoked_total",
		Help: "Total number of sessions revoked",
	},
	[]string{"scope"},
)

// Lockouts is the counter for rate-limit lockouts engaged.
var Lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "placepulse_auth_lockouts_total",
		Help: "Total number of rate-limit lockouts engaged",
	},
)

// RegisterMetrics registers auth package metrics with the given
// Prometheus registry. Call once at startup. Panics if registration
// fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Logins)
	reg.MustRegister(TokensIssued)
	reg.MustRegister(SessionsRevoked)
	reg.MustRegister(Lockouts)
}

// RecordLogin increments the login counter for the given status.
func RecordLogin(status string) {
	Logins.WithLabelValues(status).Inc()
}

// RecordTokenIssued increments the issued-token counter for a purpose.
func RecordTokenIssued(purpose string) {
	TokensIssued.WithLabelValues(purpose).Inc()
}

// RecordSessionsRevoked adds n to the revoked-session counter.
func RecordSessionsRevoked(scope string, n int64) {
	SessionsRevoked.WithLabelValues(scope).Add(float64(n))
}

// RecordLockout increments the lockout counter.
func RecordLockout() {
	Lockouts.Inc()
}
