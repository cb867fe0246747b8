// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package errutil provides helpers for logging and asserting oops errors.
package errutil

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with structured oops context.
// For oops errors, it extracts the message, code and context.
// For standard errors, it logs the error string.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Error(msg, append(errorAttrs(err), attrs...)...)
}

// LogWarn logs err at warn level. Used for best-effort steps whose failure
// does not change the outcome of the calling operation.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.Warn(msg, append(errorAttrs(err), attrs...)...)
}

func errorAttrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}
