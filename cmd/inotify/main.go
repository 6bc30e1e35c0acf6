//go:build linux
// +build linux

// Monitors directories with inotify, reporting every event kind together
// with the affected child name and the rename correlation cookie.
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

	backend, err := fsmon.NewInotifyBackend()
	if err != nil {
		logger.Fatalf("initialize inotify: %v", err)
	}

	reactor, err := fsmon.NewReactor(backend, fsmon.NewReporter(os.Stdout))
	if err != nil {
		logger.Fatalf("initialize signals: %v", err)
	}

	for _, path := range os.Args[1:] {
		if _, err := backend.Register(path); err != nil {
			logger.Fatalf("add monitor: %v", err)
		}

		fmt.Printf("Started monitoring directory '%s'...\n", path)
	}

	if err := reactor.Run(); err != nil {
		logger.Fatalf("monitor: %v", err)
	}

	reactor.Close()

	fmt.Printf("Exiting %s example...\n", backend.Facility())
}
