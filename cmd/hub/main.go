// Package main is the hub server entrypoint binary.
//
// It delegates startup to the internal hubapp package to keep main small and
// testable (via hubapp).
package main

import (
	"log/slog"
	"os"

	"starhub/internal/hubapp"
)

func main() {
	if err := hubapp.Run(); err != nil {
		slog.Error("hub.exit", "err", err)
		os.Exit(1)
	}
}
