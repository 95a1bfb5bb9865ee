// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package bus

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackpressure is returned by Publish when a subscriber using
	// PolicyError has a full queue.
	ErrBackpressure = errors.New("bus: subscriber queue full")
	// ErrClosed is returned when publishing or subscribing on a closed bus.
	ErrClosed = errors.New("bus: closed")
)

// Policy decides what Publish does when a subscriber queue is full.
type Policy string

const (
	// PolicyDropOldest evicts the oldest queued batch to make room.
	PolicyDropOldest Policy = "drop_oldest"
	// PolicyBlock makes the producer wait until there is room or its context ends.
	PolicyBlock Policy = "block"
	// PolicyError fails the publish with ErrBackpressure.
	PolicyError Policy = "error"
)

// DefaultCapacity is the queue length used when a subscription does not set one.
const DefaultCapacity = 64

// ParsePolicy parses a policy name. Empty selects PolicyDropOldest.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyDropOldest, nil
	case PolicyDropOldest, PolicyBlock, PolicyError:
		return p, nil
	default:
		return "", fmt.Errorf("unknown bus policy %q (want drop_oldest, block or error)", s)
	}
}

func (p Policy) String() string {
	return string(p)
}
