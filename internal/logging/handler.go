// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

// Package logging builds the process slog.Logger: JSON or text output stamped
// with service, version and OpenTelemetry trace identifiers, with credential
// attributes redacted before they reach the writer.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

// secretKeys are matched case-insensitively against attribute keys.
var secretKeys = []string{"password", "token", "secret", "password_hash"}

// traceHandler stamps every record with service identity and trace context.
type traceHandler struct {
	handler slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)

	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.HasTraceID() {
		r.AddAttrs(slog.String("trace_id", spanCtx.TraceID().String()))
	}
	if spanCtx.HasSpanID() {
		r.AddAttrs(slog.String("span_id", spanCtx.SpanID().String()))
	}

	//nolint:wrapcheck // Handler interface requires unwrapped error passthrough
	return h.handler.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithAttrs(attrs),
		service: h.service,
		version: h.version,
	}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{
		handler: h.handler.WithGroup(name),
		service: h.service,
		version: h.version,
	}
}

// Options selects the output shape of Setup.
type Options struct {
	// Format is "json" (the default when empty) or "text".
	Format string
	// Level is a slog level name such as "debug" or "warn". Empty means info.
	Level string
}

// Setup creates a configured slog.Logger writing to w, or os.Stderr if w is nil.
func Setup(service, version string, opts Options, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redact,
	}

	var base slog.Handler
	switch opts.Format {
	case "", "json":
		base = slog.NewJSONHandler(w, handlerOpts)
	case "text":
		base = slog.NewTextHandler(w, handlerOpts)
	default:
		return nil, oops.Code("LOG_INVALID_FORMAT").
			With("format", opts.Format).
			Errorf("invalid log format %q: must be 'json' or 'text'", opts.Format)
	}

	return slog.New(&traceHandler{
		handler: base,
		service: service,
		version: version,
	}), nil
}

// SetDefault installs a Setup logger as the slog default.
func SetDefault(service, version string, opts Options) (*slog.Logger, error) {
	logger, err := Setup(service, version, opts, nil)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// ParseLevel maps a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	if name == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, oops.Code("LOG_INVALID_LEVEL").With("level", name).Wrap(err)
	}
	return level, nil
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, secret := range secretKeys {
		if key == secret {
			return slog.String(a.Key, Redacted)
		}
	}
	return a
}
