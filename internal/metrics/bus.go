// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_bus_published_total",
		Help: "Total number of event batches published on the in-process bus",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_bus_dropped_total",
		Help: "Total number of in-process bus deliveries dropped by topic and reason",
	}, []string{"topic", "reason"})

	BusReadyDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_bus_ready_delivered_total",
		Help: "Total number of ready signals delivered, by topic and whether they were latched",
	}, []string{"topic", "latched"})
)

// IncBusPublished records a batch handed to the bus.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(labelOrUnknown(topic)).Inc()
}

// IncBusDropReason records a dropped bus delivery with a concrete reason
// (drop_oldest, full, timeout, canceled).
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(labelOrUnknown(topic), labelOrUnknown(reason)).Inc()
}

// IncReadyDelivered records a ready signal reaching a subscriber.
func IncReadyDelivered(topic string, latched bool) {
	l := "false"
	if latched {
		l = "true"
	}
	BusReadyDeliveredTotal.WithLabelValues(labelOrUnknown(topic), l).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
