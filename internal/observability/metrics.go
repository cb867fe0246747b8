// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dr3hardware/authd/internal/auth"
)

// Metrics holds the authd prometheus collectors. It implements auth.Metrics.
type Metrics struct {
	LoginAttempts       *prometheus.CounterVec
	SessionValidations  *prometheus.CounterVec
	LedgerWriteFailures prometheus.Counter
	Rehashes            *prometheus.CounterVec
	SessionsPurged      prometheus.Counter
}

var _ auth.Metrics = (*Metrics)(nil)

// NewMetrics creates the authd collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_login_attempts_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		SessionValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_session_validations_total",
				Help: "Total number of session validations by result",
			},
			[]string{"result"},
		),
		LedgerWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_ledger_write_failures_total",
			Help: "Total number of login attempts that could not be recorded",
		}),
		Rehashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authd_rehash_total",
				Help: "Total number of password hash upgrades by result",
			},
			[]string{"result"},
		),
		SessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authd_sessions_purged_total",
			Help: "Total number of expired or logged out sessions removed by the sweeper",
		}),
	}

	reg.MustRegister(
		m.LoginAttempts,
		m.SessionValidations,
		m.LedgerWriteFailures,
		m.Rehashes,
		m.SessionsPurged,
	)
	return m
}

// LoginOutcome counts one Authenticate result.
func (m *Metrics) LoginOutcome(outcome string) {
	m.LoginAttempts.WithLabelValues(outcome).Inc()
}

// SessionValidation counts one ValidateSession result.
func (m *Metrics) SessionValidation(result string) {
	m.SessionValidations.WithLabelValues(result).Inc()
}

// LedgerWriteFailure counts an attempt the ledger failed to persist.
func (m *Metrics) LedgerWriteFailure() {
	m.LedgerWriteFailures.Inc()
}

// Rehash counts a password hash upgrade.
func (m *Metrics) Rehash(result string) {
	m.Rehashes.WithLabelValues(result).Inc()
}

// Purged adds n swept sessions.
func (m *Metrics) Purged(n int64) {
	if n > 0 {
		m.SessionsPurged.Add(float64(n))
	}
}
