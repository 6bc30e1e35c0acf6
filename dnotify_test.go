//go:build linux
// +build linux

package fsmon

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// The DN_* family is absent from x/sys, so the bits are defined locally.
// Pin the combined mask to the <fcntl.h> values.
func TestDnotifyMask(t *testing.T) {
	t.Parallel()

	if dnotifyMask != 0x8000003f {
		t.Errorf("dnotify mask = %#x, want %#x", dnotifyMask, 0x8000003f)
	}
}

func TestDnotifyRegisterUnbound(t *testing.T) {
	t.Parallel()

	backend := NewDnotifyBackend()

	if _, err := backend.Register(t.TempDir()); !errors.Is(err, errSignalsUnbound) {
		t.Errorf("register error = %v, want %v", err, errSignalsUnbound)
	}
}

func TestDnotifyRegisterMissingPath(t *testing.T) {
	source, err := NewSignalSource()
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	defer func() {
		_ = source.Close()
	}()

	backend := NewDnotifyBackend()
	backend.BindSignals(source)

	if _, err := backend.Register("/nonexistent/fsmon/dir"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestDnotifyBackendLifecycle(t *testing.T) {
	source, err := NewSignalSource()
	if err != nil {
		t.Fatalf("create source: %v", err)
	}

	defer func() {
		_ = source.Close()
	}()

	backend := NewDnotifyBackend()
	backend.BindSignals(source)

	first, err := backend.Register(t.TempDir())
	if err != nil {
		t.Fatalf("register first: %v", err)
	}

	second, err := backend.Register(t.TempDir())
	if err != nil {
		t.Fatalf("register second: %v", err)
	}

	if len(backend.Watches()) != 2 {
		t.Fatalf("watch count = %d, want 2", len(backend.Watches()))
	}

	if backend.EventFd() != -1 {
		t.Errorf("event fd = %d, want -1", backend.EventFd())
	}

	// Each registration arms its own real-time signal in order.
	if !backend.HandlesSignal(DnotifySignal) {
		t.Errorf("signal %d not handled", DnotifySignal)
	}

	if !backend.HandlesSignal(DnotifySignal + 1) {
		t.Errorf("signal %d not handled", DnotifySignal+1)
	}

	if backend.HandlesSignal(DnotifySignal + 2) {
		t.Errorf("signal %d handled without a watch", DnotifySignal+2)
	}

	if backend.HandlesSignal(unix.SIGHUP) {
		t.Error("SIGHUP must not be claimed")
	}

	var events []*Event

	backend.DecodeSignal(DnotifySignal+1, func(ev *Event) {
		events = append(events, ev)
	})

	if len(events) != 1 || events[0].Handle != second.Handle {
		t.Errorf("decoded events = %+v, want one for handle %d", events, second.Handle)
	}

	events = nil

	backend.DecodeSignal(DnotifySignal, func(ev *Event) {
		events = append(events, ev)
	})

	if len(events) != 1 || events[0].Handle != first.Handle {
		t.Errorf("decoded events = %+v, want one for handle %d", events, first.Handle)
	}

	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(backend.Watches()) != 0 {
		t.Error("watches survived close")
	}
}
