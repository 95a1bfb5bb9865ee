// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package topology validates and describes the static layout of a
// synchronized sensor group: node roles, trigger wiring and the ready
// signal routing table.
package topology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ManuGH/evsync/internal/validate"
)

// Topology is an immutable, validated set of nodes and their wiring.
type Topology struct {
	name    string
	nodes   []NodeSpec
	byName  map[string]int
	primary int
	wires   []Wire
}

// Build validates desc and returns the resulting Topology. It has no side
// effects; every violation is reported in one error wrapping ErrInvalidTopology.
func Build(desc Descriptor) (*Topology, error) {
	nodes := make([]NodeSpec, len(desc.Nodes))
	for i, spec := range desc.Nodes {
		nodes[i] = withDefaults(spec)
	}

	v := validate.New()
	byName := make(map[string]int, len(nodes))
	primaries := make([]int, 0, 1)
	secondaries := make([]int, 0, len(nodes))

	for i, n := range nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		if strings.TrimSpace(n.Name) == "" {
			v.AddError(field+".name", "node name cannot be empty", n.Name)
		} else if prev, dup := byName[n.Name]; dup {
			v.AddError(field+".name", fmt.Sprintf("duplicate node name (also nodes[%d])", prev), n.Name)
		} else {
			byName[n.Name] = i
			// Names become topic segments and raw file names.
			v.Identifier(field+".name", n.Name)
		}
		v.TopicPath(field+".namespace", n.Namespace)

		switch n.Role {
		case RolePrimary:
			primaries = append(primaries, i)
			if n.TriggerMode == TriggerExternalIn {
				v.AddError(field+".trigger_mode", "primary must drive the trigger (external_out or loopback)", n.TriggerMode)
			}
			if n.NumSecondaryNodes < 0 {
				v.AddError(field+".num_secondary_nodes", "value cannot be negative", n.NumSecondaryNodes)
			}
			if n.ReadyTo != "" {
				v.AddError(field+".ready_to", "primary readiness is internal and cannot be wired", n.ReadyTo)
			}
		case RoleSecondary:
			secondaries = append(secondaries, i)
			if n.TriggerMode != TriggerExternalIn {
				v.AddError(field+".trigger_mode", "secondary must wait for an external trigger (external_in)", n.TriggerMode)
			}
		default:
			v.AddError(field+".role", "role must be primary or secondary", n.Role)
		}

		switch n.TriggerMode {
		case TriggerExternalIn, TriggerExternalOut, TriggerLoopback:
		default:
			v.AddError(field+".trigger_mode", "unknown trigger mode", n.TriggerMode)
		}
		v.PositiveDuration(field+".batch_threshold", n.BatchThreshold)
		v.NonNegative(field+".batch_capacity", n.BatchCapacity)
		v.PositiveDuration(field+".stats_interval", n.StatsInterval)
	}

	if len(primaries) != 1 {
		v.AddError("nodes", fmt.Sprintf("exactly one primary required, found %d", len(primaries)), len(primaries))
	}

	t := &Topology{
		name:    desc.Name,
		nodes:   nodes,
		byName:  byName,
		primary: -1,
	}

	if len(primaries) == 1 {
		p := nodes[primaries[0]]
		t.primary = primaries[0]
		if p.NumSecondaryNodes != len(secondaries) {
			v.AddError("nodes", fmt.Sprintf("primary %q declares num_secondary_nodes=%d but %d secondaries are configured",
				p.Name, p.NumSecondaryNodes, len(secondaries)), p.NumSecondaryNodes)
		}

		seen := make(map[int]string, len(secondaries))
		for _, i := range secondaries {
			s := nodes[i]
			field := fmt.Sprintf("nodes[%d]", i)
			if s.SecondaryIndex < 0 || s.SecondaryIndex >= p.NumSecondaryNodes {
				v.AddError(field+".secondary_node_nr",
					fmt.Sprintf("index must be in [0, %d)", p.NumSecondaryNodes), s.SecondaryIndex)
			} else if other, dup := seen[s.SecondaryIndex]; dup {
				v.AddError(field+".secondary_node_nr",
					fmt.Sprintf("index already used by %q", other), s.SecondaryIndex)
			} else {
				seen[s.SecondaryIndex] = s.Name
			}

			switch to, known := byName[s.ReadyTo]; {
			case strings.TrimSpace(s.ReadyTo) == "":
				v.AddError(field+".ready_to", "secondary ready output must be wired to the primary", s.ReadyTo)
			case !known:
				v.AddError(field+".ready_to", "unknown node", s.ReadyTo)
			case to != t.primary:
				v.AddError(field+".ready_to", "ready output must be wired to the primary's ready input", s.ReadyTo)
			default:
				t.wires = append(t.wires, Wire{
					From: Endpoint{Node: s.Name, Port: PortReadyOut},
					To:   Endpoint{Node: p.Name, Port: PortReadyIn},
				})
			}
		}
	}

	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	return t, nil
}

func withDefaults(spec NodeSpec) NodeSpec {
	if spec.Namespace == "" {
		spec.Namespace = DefaultNamespace
	}
	if spec.FrameID == "" {
		spec.FrameID = spec.Name
	}
	if spec.TriggerMode == "" {
		switch spec.Role {
		case RolePrimary:
			spec.TriggerMode = TriggerExternalOut
		case RoleSecondary:
			spec.TriggerMode = TriggerExternalIn
		}
	}
	if spec.BatchThreshold == 0 {
		spec.BatchThreshold = DefaultBatchThreshold
	}
	if spec.StatsInterval == 0 {
		spec.StatsInterval = DefaultStatsInterval
	}
	return spec
}

// Name returns the descriptor name.
func (t *Topology) Name() string {
	return t.name
}

// Nodes returns a copy of all node specs in declaration order.
func (t *Topology) Nodes() []NodeSpec {
	out := make([]NodeSpec, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Node returns the spec for name.
func (t *Topology) Node(name string) (NodeSpec, bool) {
	i, ok := t.byName[name]
	if !ok {
		return NodeSpec{}, false
	}
	return t.nodes[i], true
}

// Primary returns the primary node spec.
func (t *Topology) Primary() NodeSpec {
	return t.nodes[t.primary]
}

// Secondaries returns the secondary specs ordered by secondary index.
func (t *Topology) Secondaries() []NodeSpec {
	out := make([]NodeSpec, 0, len(t.nodes)-1)
	for i, n := range t.nodes {
		if i != t.primary {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecondaryIndex < out[j].SecondaryIndex })
	return out
}

// ExpectedIndices returns the secondary indices the primary must hear from.
func (t *Topology) ExpectedIndices() []int {
	secs := t.Secondaries()
	out := make([]int, len(secs))
	for i, s := range secs {
		out[i] = s.SecondaryIndex
	}
	return out
}

// Wires returns a copy of the ready routing table.
func (t *Topology) Wires() []Wire {
	out := make([]Wire, len(t.wires))
	copy(out, t.wires)
	return out
}

// EventsTopic returns the events output topic of node name.
func (t *Topology) EventsTopic(name string) string {
	return t.topic(name, "events")
}

// ReadyInputTopic returns the ready input topic of node name.
func (t *Topology) ReadyInputTopic(name string) string {
	return t.topic(name, "ready")
}

// ReadyOutputTopic resolves the wiring table: it returns the ready input
// topic of the node that consumes name's ready output, or "" when the
// node's ready output is not wired.
func (t *Topology) ReadyOutputTopic(name string) string {
	for _, w := range t.wires {
		if w.From.Node == name && w.From.Port == PortReadyOut {
			return t.ReadyInputTopic(w.To.Node)
		}
	}
	return ""
}

func (t *Topology) topic(name, suffix string) string {
	spec, ok := t.Node(name)
	if !ok {
		return ""
	}
	return "/" + spec.Namespace + "/" + spec.Name + "/" + suffix
}
