// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

// Package errutil provides helpers for logging and asserting on
// structured errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs an error at Error level with structured context if it is
// an oops error: message, code and context are extracted as attributes.
// Standard errors log their error string.
func LogError(logger *slog.Logger, msg string, err error) {
	LogAt(logger, slog.LevelError, msg, err)
}

// LogAt is LogError with a caller-chosen level, for expected failures
// (rate limits, absent records) that belong at Debug or Info.
func LogAt(logger *slog.Logger, level slog.Level, msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{
			"error", oopsErr.Error(),
		}
		if code := oopsErr.Code(); code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
		logger.Log(context.Background(), level, msg, attrs...)
		return
	}
	logger.Log(context.Background(), level, msg, "error", err)
}
