// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SensorEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_sensor_events_total",
		Help: "Total number of sensor events received from the camera",
	}, []string{"node"})

	SensorBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_sensor_batches_total",
		Help: "Total number of event batches closed by a node, by flush reason",
	}, []string{"node", "reason"})

	SensorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evsync_sensor_state",
		Help: "Current lifecycle state of a sensor node (1 for the active state)",
	}, []string{"node", "state"})

	SensorQueueDepthMax = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "evsync_sensor_queue_depth_max",
		Help: "Maximum processing queue depth in the last statistics interval",
	}, []string{"node"})

	SensorArmFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evsync_sensor_arm_failures_total",
		Help: "Total number of hardware arm failures",
	}, []string{"node"})
)

// AddSensorEvents counts events received by node.
func AddSensorEvents(node string, n int) {
	SensorEventsTotal.WithLabelValues(labelOrUnknown(node)).Add(float64(n))
}

// IncSensorBatch counts a closed batch.
func IncSensorBatch(node, reason string) {
	SensorBatchesTotal.WithLabelValues(labelOrUnknown(node), labelOrUnknown(reason)).Inc()
}

// SetSensorState flips the state gauge of node from oldState to newState.
func SetSensorState(node, oldState, newState string) {
	if oldState != "" {
		SensorState.WithLabelValues(labelOrUnknown(node), oldState).Set(0)
	}
	SensorState.WithLabelValues(labelOrUnknown(node), labelOrUnknown(newState)).Set(1)
}

// SetSensorQueueDepthMax publishes the max queue depth of the last interval.
func SetSensorQueueDepthMax(node string, depth int) {
	SensorQueueDepthMax.WithLabelValues(labelOrUnknown(node)).Set(float64(depth))
}

func IncSensorArmFailure(node string) {
	SensorArmFailuresTotal.WithLabelValues(labelOrUnknown(node)).Inc()
}
