// Package metrics provides Prometheus metrics for the admin session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all session metrics. A nil *Metrics or one created with a
// nil registerer records nothing.
type Metrics struct {
	enabled bool

	loginsTotal     *prometheus.CounterVec
	refreshesTotal  *prometheus.CounterVec
	logoutsTotal    *prometheus.CounterVec
	profileFailures prometheus.Counter
	persistFailures prometheus.Counter
	guardDecisions  *prometheus.CounterVec

	refreshArmed   prometheus.Gauge
	tokenExpiresAt prometheus.Gauge
}

// New creates session metrics registered with reg. A nil reg returns a
// no-op Metrics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}
	if !m.enabled {
		return m
	}
	f := promauto.With(reg)

	m.loginsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "adminauth_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	m.refreshesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "adminauth_refreshes_total",
		Help: "Token refresh attempts by result",
	}, []string{"result"})

	m.logoutsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "adminauth_logouts_total",
		Help: "Logouts by reason",
	}, []string{"reason"})

	m.profileFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "adminauth_profile_fetch_failures_total",
		Help: "Failed profile fetches",
	})

	m.persistFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "adminauth_persist_failures_total",
		Help: "Failed writes of the persisted session",
	})

	m.guardDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Name: "adminauth_guard_decisions_total",
		Help: "Guard outcomes for protected views",
	}, []string{"outcome"})

	m.refreshArmed = f.NewGauge(prometheus.GaugeOpts{
		Name: "adminauth_refresh_armed",
		Help: "1 while a refresh timer is pending",
	})

	m.tokenExpiresAt = f.NewGauge(prometheus.GaugeOpts{
		Name: "adminauth_token_expires_at_seconds",
		Help: "Unix time the held token expires, 0 without a session",
	})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordLogin records a login attempt ("success" or "failure").
func (m *Metrics) RecordLogin(result string) {
	if !m.on() {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records a refresh attempt ("success", "failure" or "stale").
func (m *Metrics) RecordRefresh(result string) {
	if !m.on() {
		return
	}
	m.refreshesTotal.WithLabelValues(result).Inc()
}

// RecordLogout records a logout ("user", "refresh_failed" or "expired").
func (m *Metrics) RecordLogout(reason string) {
	if !m.on() {
		return
	}
	m.logoutsTotal.WithLabelValues(reason).Inc()
}

// RecordProfileFailure records a failed profile fetch.
func (m *Metrics) RecordProfileFailure() {
	if !m.on() {
		return
	}
	m.profileFailures.Inc()
}

// RecordPersistFailure records a failed persistence write.
func (m *Metrics) RecordPersistFailure() {
	if !m.on() {
		return
	}
	m.persistFailures.Inc()
}

// RecordGuard records a guard outcome.
func (m *Metrics) RecordGuard(outcome string) {
	if !m.on() {
		return
	}
	m.guardDecisions.WithLabelValues(outcome).Inc()
}

// SetRefreshArmed sets whether a refresh timer is pending.
func (m *Metrics) SetRefreshArmed(armed bool) {
	if !m.on() {
		return
	}
	v := 0.0
	if armed {
		v = 1.0
	}
	m.refreshArmed.Set(v)
}

// SetTokenExpiry sets the held token's expiry as Unix seconds (0 for none).
func (m *Metrics) SetTokenExpiry(unix int64) {
	if !m.on() {
		return
	}
	m.tokenExpiresAt.Set(float64(unix))
}
