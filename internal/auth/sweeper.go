// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/placepulse/placepulse/pkg/errutil"
)

// Default sweeper tuning.
const (
	DefaultSweepInterval    = time.Hour
	DefaultSessionRetention = 30 * 24 * time.Hour
	DefaultAttemptRetention = 7 * 24 * time.Hour
)

// SweptRecords counts records removed by the retention sweeper.
var SweptRecords = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "placepulse_auth_swept_records_total",
		Help: "Total number of records removed by the retention sweeper",
	},
	[]string{"kind"},
)

// RegisterSweeperMetrics registers sweeper metrics with the registry.
func RegisterSweeperMetrics(reg prometheus.Registerer) {
	reg.MustRegister(SweptRecords)
}

// SweeperConfig tunes the retention sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Defaults to DefaultSweepInterval.
	Interval time.Duration

	// SessionRetention is how long revoked sessions are kept for audit
	// before physical deletion.
	SessionRetention time.Duration

	// AttemptRetention is how long idle login-attempt counters are kept.
	AttemptRetention time.Duration
}

func (c SweeperConfig) withDefaults() SweeperConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSweepInterval
	}
	if c.SessionRetention <= 0 {
		c.SessionRetention = DefaultSessionRetention
	}
	if c.AttemptRetention <= 0 {
		c.AttemptRetention = DefaultAttemptRetention
	}
	return c
}

// Sweeper is the retention job the services themselves never run:
// expired secret tokens, long-revoked sessions and idle login-attempt
// counters are pruned here, on a timer, outside any user-facing flow.
type Sweeper struct {
	tokens   SecretTokenRepository
	sessions SessionRepository
	attempts LoginAttemptRepository
	cfg      SweeperConfig
	now      Clock
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(tokens SecretTokenRepository, sessions SessionRepository, attempts LoginAttemptRepository, cfg SweeperConfig, now Clock, logger *slog.Logger) (*Sweeper, error) {
	if tokens == nil || sessions == nil || attempts == nil {
		return nil, oops.Code("SWEEPER_INVALID").Errorf("token, session and attempt repositories are required")
	}
	if now == nil {
		now = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tokens:   tokens,
		sessions: sessions,
		attempts: attempts,
		cfg:      cfg.withDefaults(),
		now:      now,
		logger:   logger,
	}, nil
}

// Run sweeps on the configured interval until ctx is cancelled. It
// returns ctx.Err so callers can distinguish shutdown from failure;
// individual sweep errors are logged and never stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs one pruning pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()

	if n, err := s.tokens.DeleteExpired(ctx, now); err != nil {
		errutil.LogError(s.logger, "sweeping expired tokens", err)
	} else if n > 0 {
		SweptRecords.WithLabelValues("secret_tokens").Add(float64(n))
		s.logger.Debug("expired tokens swept", "count", n)
	}

	if n, err := s.sessions.DeleteRevokedBefore(ctx, now.Add(-s.cfg.SessionRetention)); err != nil {
		errutil.LogError(s.logger, "sweeping revoked sessions", err)
	} else if n > 0 {
		SweptRecords.WithLabelValues("sessions").Add(float64(n))
		s.logger.Debug("revoked sessions swept", "count", n)
	}

	if n, err := s.attempts.DeleteIdle(ctx, now.Add(-s.cfg.AttemptRetention)); err != nil {
		errutil.LogError(s.logger, "sweeping idle login attempts", err)
	} else if n > 0 {
		SweptRecords.WithLabelValues("login_attempts").Add(float64(n))
		s.logger.Debug("idle login attempts swept", "count", n)
	}
}
