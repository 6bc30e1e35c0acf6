//go:build linux
// +build linux

package fsmon

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// dnotify event bits from <fcntl.h>. x/sys carries the F_NOTIFY and F_SETSIG
// commands but not the DN_* family.
const (
	dnAccess    = 0x1
	dnModify    = 0x2
	dnCreate    = 0x4
	dnDelete    = 0x8
	dnRename    = 0x10
	dnAttrib    = 0x20
	dnMultishot = 0x80000000
)

// dnotifyMask covers every event kind the facility offers. DN_MULTISHOT
// keeps the watch armed across events instead of disarming after the first.
const dnotifyMask = dnAccess | dnAttrib | dnCreate | dnDelete | dnModify | dnRename | dnMultishot

var errSignalsUnbound = errors.New("signal stream not bound")

// DnotifyBackend watches directories through fcntl F_NOTIFY. Events arrive
// as real-time signals, so the backend has no descriptor of its own to
// poll: it shares the reactor's signal stream.
//
// os/signal strips the siginfo payload that names the directory descriptor,
// so each watch is armed with its own real-time signal, DnotifySignal for
// the first registration and the next number for each one after: the signal
// number alone identifies the directory. The facility reports only
// "something happened in this directory"; no child name or event-kind
// detail is available.
type DnotifyBackend struct {
	signals *SignalSource
	watches []*Watch
}

func NewDnotifyBackend() *DnotifyBackend {
	return &DnotifyBackend{}
}

func (b *DnotifyBackend) Facility() string {
	return "dnotify"
}

// BindSignals attaches the stream facility signals are subscribed on. Must
// happen before the first Register.
func (b *DnotifyBackend) BindSignals(src *SignalSource) {
	b.signals = src
}

// Register opens the directory read-only and arms multishot notification on
// it, delivered as the watch's own real-time signal. The watch handle is
// the directory descriptor itself.
func (b *DnotifyBackend) Register(path string) (*Watch, error) {
	if b.signals == nil {
		return nil, errSignalsUnbound
	}

	sig := DnotifySignal + unix.Signal(len(b.watches))
	if sig > sigRTMax {
		return nil, fmt.Errorf("no real-time signal left for '%s'", path)
	}

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open directory '%s': %w", path, err)
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETSIG, int(sig)); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("set notification signal for '%s': %w", path, err)
	}

	if _, err := unix.FcntlInt(uintptr(fd), unix.F_NOTIFY, dnotifyMask); err != nil {
		_ = unix.Close(fd)

		return nil, fmt.Errorf("setup directory notifications for '%s': %w", path, err)
	}

	b.signals.Notify(sig)

	w := &Watch{Path: path, Handle: fd}
	b.watches = append(b.watches, w)

	return w, nil
}

func (b *DnotifyBackend) EventFd() int {
	return -1
}

// Drain is never invoked for a signal-delivered backend.
func (b *DnotifyBackend) Drain(emit EmitFunc) error {
	return nil
}

// HandlesSignal reports whether sig is one of the per-watch signals armed
// by Register.
func (b *DnotifyBackend) HandlesSignal(sig unix.Signal) bool {
	return sig >= DnotifySignal && int(sig-DnotifySignal) < len(b.watches)
}

// DecodeSignal maps one facility-signal record to an event for the watch
// the signal was armed for.
func (b *DnotifyBackend) DecodeSignal(sig unix.Signal, emit EmitFunc) {
	idx := int(sig - DnotifySignal)
	if idx < 0 || idx >= len(b.watches) {
		return
	}

	emit(&Event{Handle: b.watches[idx].Handle})
}

func (b *DnotifyBackend) Watches() []*Watch {
	return b.watches
}

// Close disables notification on each directory descriptor and closes it.
// Disabling is not strictly needed before close, so errors are ignored.
func (b *DnotifyBackend) Close() error {
	for _, w := range b.watches {
		_, _ = unix.FcntlInt(uintptr(w.Handle), unix.F_NOTIFY, 0)
		_ = unix.Close(w.Handle)
	}

	b.watches = nil

	return nil
}
