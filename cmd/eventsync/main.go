// Eventsync ingests events from a paginated upstream API into Postgres,
// partitioning a fixed timestamp range across concurrent workers with
// crash-safe, per-partition checkpointing.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Println("eventsync", version)
			os.Exit(0)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
