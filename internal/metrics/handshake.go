// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadySignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_handshake_ready_signals_total",
		Help: "Ready signals seen by the handshake coordinator by result (recorded, duplicate, unexpected, late)",
	}, []string{"result"})

	HandshakeOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_handshake_outcomes_total",
		Help: "Handshake outcomes (released, timeout, aborted)",
	}, []string{"outcome"})

	HandshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "evsync_handshake_duration_seconds",
		Help:    "Time from expected-set registration to primary release",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// RecordReadySignal counts one ready signal by result.
func RecordReadySignal(result string) {
	ReadySignalsTotal.WithLabelValues(labelOrUnknown(result)).Inc()
}

// RecordHandshakeOutcome counts one handshake outcome; d is only observed for releases.
func RecordHandshakeOutcome(outcome string, d time.Duration) {
	HandshakeOutcomesTotal.WithLabelValues(labelOrUnknown(outcome)).Inc()
	if outcome == "released" {
		HandshakeDuration.Observe(d.Seconds())
	}
}
