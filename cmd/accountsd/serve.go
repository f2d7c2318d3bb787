// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/placepulse/placepulse/internal/auth"
	authpg "github.com/placepulse/placepulse/internal/auth/postgres"
	"github.com/placepulse/placepulse/internal/config"
	"github.com/placepulse/placepulse/internal/logging"
	"github.com/placepulse/placepulse/internal/observability"
	"github.com/placepulse/placepulse/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the accounts service",
		Long: `Run the accounts service: connect to PostgreSQL, expose metrics and
health endpoints, and run the retention sweeper that prunes expired
tokens, revoked sessions, and idle login attempt counters.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("accountsd", version, cfg.LogFormat, parseLogLevel(cfg.LogLevel))

	slog.Info("starting accounts service",
		"metrics_addr", cfg.MetricsAddr,
		"log_format", cfg.LogFormat,
	)

	pool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	svc, sweeper, err := buildService(pool, cfg)
	if err != nil {
		return err
	}
	_ = svc // consumed by the transport layer mounted on top of this core

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, func() bool {
			pingCtx, pingCancel := context.WithTimeout(ctx, time.Second)
			defer pingCancel()
			return pool.Ping(pingCtx) == nil
		})
		auth.RegisterMetrics(obsServer.Registry())
		auth.RegisterSweeperMetrics(obsServer.Registry())

		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("sweeper stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Accounts service started")
	slog.Info("accounts service ready")

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	cancel()
	<-sweeperDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// buildService wires the auth core onto the connection pool.
func buildService(pool authpg.DB, cfg *config.Config) (*auth.Service, *auth.Sweeper, error) {
	tx := authpg.NewTransactor(pool)
	users := authpg.NewUserRepository(pool)
	tokenRepo := authpg.NewSecretTokenRepository(pool)
	sessionRepo := authpg.NewSessionRepository(pool)
	attemptRepo := authpg.NewLoginAttemptRepository(pool)

	tokens, err := auth.NewSecretTokenService(tokenRepo, tx, auth.SystemClock, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	sessions, err := auth.NewSessionRegistry(sessionRepo, auth.SystemClock, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	limiter, err := auth.NewRateLimiter(attemptRepo, tx, auth.RateLimitPolicy{
		MaxAttempts:     cfg.MaxLoginAttempts,
		LockoutDuration: cfg.LockoutDuration,
	}, auth.SystemClock, slog.Default())
	if err != nil {
		return nil, nil, err
	}
	mint, err := auth.NewTokenMint(cfg.TokenSecret, "placepulse",
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		return nil, nil, err
	}

	notifier := auth.NewRetryingNotifier(&auth.SlogNotifier{}, 3, 100*time.Millisecond, slog.Default())

	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    users,
		Tokens:   tokens,
		Sessions: sessions,
		Limiter:  limiter,
		Hasher:   auth.NewArgon2idHasher(),
		Mint:     mint,
		Notifier: notifier,
		Tx:       tx,
		BaseURL:  cfg.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}

	sweeper, err := auth.NewSweeper(tokenRepo, sessionRepo, attemptRepo, auth.SweeperConfig{
		Interval:         cfg.SweepInterval,
		SessionRetention: cfg.SessionRetention,
		AttemptRetention: cfg.AttemptRetention,
	}, auth.SystemClock, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	return svc, sweeper, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// monitorServerErrors watches a server error channel and cancels the
// run context when the server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
