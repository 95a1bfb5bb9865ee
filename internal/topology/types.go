// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package topology

import "time"

// Role of a node in the synchronization handshake.
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// TriggerMode describes how a node is wired to the shared trigger line.
type TriggerMode string

const (
	// TriggerExternalIn waits for a pulse driven by another node.
	TriggerExternalIn TriggerMode = "external_in"
	// TriggerExternalOut drives the pulse for the other nodes.
	TriggerExternalOut TriggerMode = "external_out"
	// TriggerLoopback drives the pulse and also consumes it locally.
	TriggerLoopback TriggerMode = "loopback"
)

// Port names a typed endpoint on a node.
type Port string

const (
	PortEvents   Port = "events"
	PortReadyIn  Port = "ready_in"
	PortReadyOut Port = "ready_out"
)

// Defaults applied by Build to zero-valued NodeSpec fields.
const (
	DefaultNamespace      = "sensors"
	DefaultBatchThreshold = time.Millisecond
	DefaultStatsInterval  = 2 * time.Second
)

// NodeSpec describes one sensor node. Build copies every spec it accepts;
// the Topology only ever hands out copies.
type NodeSpec struct {
	Name      string
	Namespace string
	FrameID   string
	// Serial selects the camera. Empty means the first available camera,
	// which then reports its own serial when armed.
	Serial string

	Role Role
	// SecondaryIndex is the zero-based secondary_node_nr. Secondary only.
	SecondaryIndex int
	// NumSecondaryNodes is the number of secondaries the primary waits for. Primary only.
	NumSecondaryNodes int

	TriggerMode TriggerMode

	// BatchThreshold closes a batch once its sensor-time span reaches it.
	BatchThreshold time.Duration
	// BatchCapacity closes a batch once it holds this many events. Zero disables the limit.
	BatchCapacity int

	BiasFile      string
	SaveRawFile   bool
	Multithreaded bool
	StatsInterval time.Duration

	// ReadyTo names the node whose ready input receives this node's ready
	// output. Required for secondaries, forbidden for the primary.
	ReadyTo string
}

// Descriptor is the unvalidated input to Build.
type Descriptor struct {
	Name  string
	Nodes []NodeSpec
}

// Endpoint identifies a port on a node.
type Endpoint struct {
	Node string
	Port Port
}

// Wire binds a producer endpoint to a consumer endpoint.
type Wire struct {
	From Endpoint
	To   Endpoint
}
