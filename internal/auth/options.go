// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package auth

import (
	"log/slog"
	"time"
)

// Option configures the ambient collaborators of a component.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	clock   Clock
	metrics Metrics
}

func newOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		clock:   time.Now,
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source. A nil clock is ignored.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithMetrics sets the metrics sink. A nil sink is ignored.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
