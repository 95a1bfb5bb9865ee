// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_session_outcomes_total",
		Help: "Capture session outcomes (completed, handshake_timeout, arm_failed, aborted, backpressure, failed)",
	}, []string{"outcome"})

	SessionRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evsync_session_retries_total",
		Help: "Total number of session restarts after a recoverable failure",
	})

	SessionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evsync_session_active",
		Help: "Whether a capture session is currently running (1) or not (0)",
	})

	ConfigReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_config_reloads_total",
		Help: "Configuration reload attempts by result",
	}, []string{"result"})
)

func IncSessionOutcome(outcome string) {
	SessionOutcomesTotal.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func IncSessionRetry() {
	SessionRetriesTotal.Inc()
}

// SetSessionActive toggles the active-session gauge.
func SetSessionActive(active bool) {
	if active {
		SessionActive.Set(1)
		return
	}
	SessionActive.Set(0)
}

// IncConfigReload counts a config reload attempt (success, failure).
func IncConfigReload(result string) {
	ConfigReloadsTotal.WithLabelValues(labelOrUnknown(result)).Inc()
}
