// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"io"

	"github.com/ManuGH/evsync/internal/config"
)

// runValidate checks a config file without starting anything.
//
// Exit codes:
//   - 0: Configuration is valid
//   - 1: Configuration is invalid (parse, validation or topology error)
//   - 2: Usage error
func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage:")
		fmt.Fprintln(stderr, "  evsyncd validate config.yaml")
		return 2
	}
	file := args[0]

	cfg, err := config.Load(file)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n", file)
		fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	topo, err := cfg.BuildTopology()
	if err != nil {
		fmt.Fprintf(stderr, "Topology error in %s:\n", file)
		fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%s is valid: topology %q, primary %s, %d secondaries\n",
		file, topo.Name(), topo.Primary().Name, len(topo.Secondaries()))
	return 0
}
