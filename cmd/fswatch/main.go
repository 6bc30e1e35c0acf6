//go:build linux
// +build linux

/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Watches the same directories through the fsnotify convenience watcher,
// for comparison with the raw inotify monitor.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vogo/fsmon"
	"github.com/vogo/fsnotify"
	"github.com/vogo/gstop"
	"github.com/vogo/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s directory1 [directory2 ...]\n", os.Args[0])
		os.Exit(1)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Fatal(err)
	}

	defer func() {
		_ = watcher.Close()
	}()

	for _, path := range os.Args[1:] {
		if !fsmon.IsDir(path) {
			logger.Fatalf("invalid dir %s", path)
		}

		if err = watcher.AddWatch(path, fsmon.InotifyEvents); err != nil {
			logger.Fatal(err)
		}

		fmt.Printf("Started monitoring directory '%s'...\n", path)
	}

	stopper := gstop.New()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-interrupts
		stopper.Stop()
	}()

	for {
		select {
		case <-stopper.C:
			fmt.Printf("Exiting fswatch example...\n")

			return
		case event, ok := <-watcher.Events:
			if !ok {
				logger.Warnf("failed to listen watch event")

				return
			}

			logger.Infof("--> event: %v", event)
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				logger.Warnf("failed to listen error event")

				return
			}

			logger.Errorf("watch error: %v", watchErr)
		}
	}
}
