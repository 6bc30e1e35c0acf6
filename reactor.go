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

package fsmon

import (
	"fmt"

	"github.com/vogo/gstop"
	"github.com/vogo/logger"
	"golang.org/x/sys/unix"
)

// Reactor is a single-threaded readiness loop over a signal source and one
// notification backend. All events are decoded and reported on the calling
// goroutine; the only suspension point is the poll.
type Reactor struct {
	backend    Backend
	sigBackend SignalDelivered
	reporter   *Reporter
	signals    *SignalSource
	stopper    *gstop.Stopper

	// wakeup pipe so Stop can interrupt a loop blocked in poll.
	stopR, stopW int
}

// NewReactor subscribes a signal source to {interrupt, terminate} and
// assembles the loop. A signal-delivered backend gets the source bound
// here, so paths must be registered on the backend after this returns.
func NewReactor(backend Backend, reporter *Reporter) (*Reactor, error) {
	signals, err := NewSignalSource(unix.SIGINT, unix.SIGTERM)
	if err != nil {
		return nil, err
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC); err != nil {
		_ = signals.Close()

		return nil, fmt.Errorf("create stop pipe: %w", err)
	}

	r := &Reactor{
		backend:  backend,
		reporter: reporter,
		signals:  signals,
		stopper:  gstop.New(),
		stopR:    pipe[0],
		stopW:    pipe[1],
	}

	if sb, ok := backend.(SignalDelivered); ok {
		sb.BindSignals(signals)
		r.sigBackend = sb
	}

	return r, nil
}

// Backend is the backend the reactor was built around.
func (r *Reactor) Backend() Backend {
	return r.backend
}

// Done is closed once the loop has ended, whatever the reason.
func (r *Reactor) Done() <-chan struct{} {
	return r.stopper.C
}

// Run polls until an interrupt or terminate signal record arrives, Stop is
// called, or a fatal error occurs. Signal shutdown returns nil.
func (r *Reactor) Run() error {
	defer r.stopper.Stop()

	emit := func(ev *Event) {
		r.reporter.Report(r.backend.Watches(), ev)
	}

	const (
		pollSignal = iota
		pollStop
		pollBackend
	)

	fds := []unix.PollFd{
		{Fd: int32(r.signals.Fd()), Events: unix.POLLIN},
		{Fd: int32(r.stopR), Events: unix.POLLIN},
	}
	if fd := r.backend.EventFd(); fd >= 0 {
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}

	for {
		for i := range fds {
			fds[i].Revents = 0
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}

			return fmt.Errorf("poll readiness: %w", err)
		}

		if fds[pollSignal].Revents&unix.POLLIN != 0 {
			sig, err := r.signals.ReadOne()
			if err != nil {
				return err
			}

			switch {
			case sig == unix.SIGINT || sig == unix.SIGTERM:
				return nil
			case r.sigBackend != nil && r.sigBackend.HandlesSignal(sig):
				r.sigBackend.DecodeSignal(sig, emit)
			default:
				logger.Warnf("received unexpected signal %d", sig)
			}
		}

		if len(fds) > pollBackend && fds[pollBackend].Revents&unix.POLLIN != 0 {
			if err := r.backend.Drain(emit); err != nil {
				return err
			}
		}

		if fds[pollStop].Revents&unix.POLLIN != 0 {
			return nil
		}
	}
}

// Stop ends the loop from another goroutine. Safe to call more than once
// and after Run has returned.
func (r *Reactor) Stop() {
	r.stopper.Stop()
	_, _ = unix.Write(r.stopW, []byte{0})
}

// Close tears down the backend, the signal source and the wakeup pipe.
// Teardown errors are ignored; the process is about to exit.
func (r *Reactor) Close() {
	_ = r.backend.Close()
	_ = r.signals.Close()
	_ = unix.Close(r.stopR)
	_ = unix.Close(r.stopW)
}
