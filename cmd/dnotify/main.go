//go:build linux
// +build linux

// Monitors directories with dnotify (fcntl F_NOTIFY). Events arrive through
// a real-time signal and name only the directory; this is intentionally the
// least detailed of the example monitors.
package main

import (
	"fmt"
	"os"

	"github.com/vogo/fsmon"
	"github.com/vogo/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s directory1 [directory2 ...]\n", os.Args[0])
		os.Exit(1)
	}

	backend := fsmon.NewDnotifyBackend()

	reactor, err := fsmon.NewReactor(backend, fsmon.NewReporter(os.Stdout))
	if err != nil {
		logger.Fatalf("initialize signals: %v", err)
	}

	for _, path := range os.Args[1:] {
		if _, err := backend.Register(path); err != nil {
			logger.Fatalf("setup directory notifications: %v", err)
		}

		fmt.Printf("Started monitoring directory '%s'...\n", path)
	}

	if err := reactor.Run(); err != nil {
		logger.Fatalf("monitor: %v", err)
	}

	reactor.Close()

	fmt.Printf("Exiting %s example...\n", backend.Facility())
}
