// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import "github.com/ManuGH/evsync/internal/topology"

// Descriptor converts the nodes list to a topology descriptor.
func (cfg Config) Descriptor() topology.Descriptor {
	d := topology.Descriptor{Name: cfg.Topology, Nodes: make([]topology.NodeSpec, 0, len(cfg.Nodes))}
	for _, n := range cfg.Nodes {
		d.Nodes = append(d.Nodes, topology.NodeSpec{
			Name:              n.Name,
			Namespace:         n.Namespace,
			FrameID:           n.FrameID,
			Serial:            n.Serial,
			Role:              topology.Role(n.Role),
			SecondaryIndex:    n.SecondaryNodeNr,
			NumSecondaryNodes: n.NumSecondaryNodes,
			TriggerMode:       topology.TriggerMode(n.TriggerMode),
			BatchThreshold:    n.BatchThreshold,
			BatchCapacity:     n.BatchCapacity,
			BiasFile:          n.BiasFile,
			SaveRawFile:       n.SaveRawFile,
			Multithreaded:     n.Multithreaded,
			StatsInterval:     n.StatsInterval,
			ReadyTo:           n.ReadyTo,
		})
	}
	return d
}

// BuildTopology validates the nodes. Errors match topology.ErrInvalidTopology.
func (cfg Config) BuildTopology() (*topology.Topology, error) {
	return topology.Build(cfg.Descriptor())
}
