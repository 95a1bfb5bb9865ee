// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package topology

import "errors"

// ErrInvalidTopology is returned (wrapped) by Build for any rejected descriptor.
var ErrInvalidTopology = errors.New("invalid topology")
