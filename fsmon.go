//go:build linux
// +build linux

package fsmon

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Watch is one live kernel registration. Handle is backend-specific: the
// watched directory descriptor for dnotify, the inotify watch descriptor for
// inotify, the mark index for fanotify.
type Watch struct {
	Path   string
	Handle int
}

// Event is one decoded kernel notification. It is produced by a backend
// drain or signal decode and consumed by the reporter, never stored.
//
// Which fields are set depends on the facility: dnotify events carry only
// Handle, inotify events add Mask/Cookie/Name, fanotify events carry the
// resolved Path and Pid of the opener, or Overflow when the kernel queue
// overflowed.
type Event struct {
	Handle   int
	Mask     uint32
	Cookie   uint32
	Name     string
	Path     string
	Pid      int32
	Overflow bool
}

// EmitFunc receives decoded events one by one during a drain.
type EmitFunc func(*Event)

// Backend registers watches with one kernel notification facility and
// decodes its event records.
//
// Stream-delivered backends (inotify, fanotify) expose a readable descriptor
// through EventFd and decode in Drain. Signal-delivered backends (dnotify)
// return -1 from EventFd and additionally implement SignalDelivered. The
// reactor only cares which of the two readiness sources to poll.
type Backend interface {
	// Facility names the kernel facility, used in the closing line.
	Facility() string

	// Register creates a kernel watch on path and appends it to the watch
	// table. Registration failure is fatal to the caller.
	Register(path string) (*Watch, error)

	// EventFd is the backend's readable descriptor, or -1 when events are
	// delivered through the shared signal stream.
	EventFd() int

	// Drain reads all currently-available bytes in one read and emits every
	// decoded record. Only called after the kernel reported EventFd readable,
	// so the read does not block.
	Drain(emit EmitFunc) error

	// Watches is the table of live registrations, in registration order.
	Watches() []*Watch

	// Close deregisters every watch (best-effort) and releases the backend.
	Close() error
}

// SignalDelivered is the capability set of backends whose events arrive
// through the shared signal stream instead of a descriptor of their own.
// The reactor binds its signal source before any path is registered and
// routes every non-termination signal record the backend claims.
type SignalDelivered interface {
	Backend

	// BindSignals hands the backend the stream its facility signals must be
	// subscribed on.
	BindSignals(src *SignalSource)

	// HandlesSignal reports whether sig belongs to this backend.
	HandlesSignal(sig unix.Signal) bool

	// DecodeSignal decodes one facility-signal record into events.
	DecodeSignal(sig unix.Signal, emit EmitFunc)
}

var errBackendClosed = errors.New("backend closed")

// lookupWatch finds the entry registered under handle. Linear search is fine
// at example scale; a map keyed by handle would be the production form.
func lookupWatch(watches []*Watch, handle int) *Watch {
	for _, w := range watches {
		if w.Handle == handle {
			return w
		}
	}

	return nil
}
