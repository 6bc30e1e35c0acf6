//go:build linux
// +build linux

package fsmon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// sigRTMin is the first real-time signal usable by applications. The kernel
// range starts at 32 but glibc reserves the first two for its own threading
// machinery, so SIGRTMIN resolves to 34 on Linux.
const (
	sigRTMin = unix.Signal(34)
	sigRTMax = unix.Signal(64)
)

// DnotifySignal is the first real-time signal carrying dnotify events.
// SIGRTMIN itself is commonly occupied by runtime machinery, so the facility
// starts at the next one.
const DnotifySignal = sigRTMin + 1

// signalRecordSize is the fixed size of one record on the stream: the
// signal number as a little-endian uint32.
const signalRecordSize = 4

// signalQueueSize bounds the burst of signals in flight between runtime
// delivery and the pipe forwarder.
const signalQueueSize = 64

var errShortSignalRead = errors.New("short read from signal descriptor")

// SignalSource turns delivered signals into fixed-size readable records on
// a pipe descriptor, so the reactor can multiplex termination intent with
// filesystem readiness.
//
// Delivery is routed through os/signal rather than a raw signalfd: the Go
// runtime installs its own handler threads with the signal unblocked, so a
// signalfd would race the runtime for every delivery and lose. Subscribing
// through os/signal replaces the default disposition, so after New returns
// the only way to observe a subscribed signal is ReadOne.
type SignalSource struct {
	ch    chan os.Signal
	pipeR int
	pipeW int
	buf   [signalRecordSize]byte
}

// NewSignalSource subscribes to every signal in sigs and returns a source
// reading them. Failure to create the pipe is fatal to the caller.
func NewSignalSource(sigs ...unix.Signal) (*SignalSource, error) {
	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create signal pipe: %w", err)
	}

	s := &SignalSource{
		ch:    make(chan os.Signal, signalQueueSize),
		pipeR: pipe[0],
		pipeW: pipe[1],
	}

	for _, sig := range sigs {
		s.Notify(sig)
	}

	go s.forward()

	return s, nil
}

// Notify adds one more signal to the stream. Backends whose facility
// delivers events by signal subscribe their signals here at registration
// time.
func (s *SignalSource) Notify(sig unix.Signal) {
	signal.Notify(s.ch, sig)
}

// forward writes one record per delivered signal. Records are far smaller
// than PIPE_BUF, so concurrent writes never interleave and the reader sees
// whole records only.
func (s *SignalSource) forward() {
	var rec [signalRecordSize]byte

	for sig := range s.ch {
		signo, ok := sig.(unix.Signal)
		if !ok {
			continue
		}

		binary.LittleEndian.PutUint32(rec[:], uint32(signo))
		_, _ = unix.Write(s.pipeW, rec[:])
	}

	_ = unix.Close(s.pipeW)
}

// Fd is the readable descriptor to poll.
func (s *SignalSource) Fd() int {
	return s.pipeR
}

// ReadOne reads exactly one pending signal record. Records are written
// whole, so a short read is a protocol violation.
func (s *SignalSource) ReadOne() (unix.Signal, error) {
	n, err := unix.Read(s.pipeR, s.buf[:])
	if err != nil {
		return 0, fmt.Errorf("read signal: %w", err)
	}

	if n != signalRecordSize {
		return 0, errShortSignalRead
	}

	return unix.Signal(binary.LittleEndian.Uint32(s.buf[:])), nil
}

// Close unsubscribes, lets the forwarder drain and close the write end,
// then releases the read end.
func (s *SignalSource) Close() error {
	if s.ch != nil {
		signal.Stop(s.ch)
		close(s.ch)
	}

	return unix.Close(s.pipeR)
}
