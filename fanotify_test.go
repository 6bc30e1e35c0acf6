//go:build linux
// +build linux

package fsmon

import (
	"errors"
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func appendFanotifyRecord(buf []byte, mask uint64, fd, pid int32) []byte {
	rec := make([]byte, fanotifyMetadataSize)

	meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&rec[0]))
	meta.Event_len = uint32(fanotifyMetadataSize)
	meta.Vers = unix.FANOTIFY_METADATA_VERSION
	meta.Metadata_len = uint16(fanotifyMetadataSize)
	meta.Mask = mask
	meta.Fd = fd
	meta.Pid = pid

	return append(buf, rec...)
}

// devNullFd opens a descriptor the decoder is expected to release.
func devNullFd(t *testing.T) int {
	t.Helper()

	fd, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open /dev/null: %v", err)
	}

	return fd
}

func fdIsClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)

	return err != nil
}

func TestDecodeFanotify(t *testing.T) {
	t.Parallel()

	fd := devNullFd(t)

	var buf []byte
	buf = appendFanotifyRecord(buf, unix.FAN_OPEN, int32(fd), 1234)

	resolve := func(got int) (string, error) {
		if got != fd {
			t.Errorf("resolver got fd %d, want %d", got, fd)
		}

		return "/etc/hostname", nil
	}

	var events []*Event

	err := decodeFanotify(buf, resolve, func(ev *Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("decoded %d events, want 1", len(events))
	}

	if events[0].Path != "/etc/hostname" || events[0].Pid != 1234 {
		t.Errorf("unexpected event: %+v", events[0])
	}

	if !fdIsClosed(fd) {
		t.Error("event descriptor not released after decode")
	}
}

func TestDecodeFanotifyOverflow(t *testing.T) {
	t.Parallel()

	fd := devNullFd(t)

	var buf []byte
	buf = appendFanotifyRecord(buf, unix.FAN_Q_OVERFLOW, unix.FAN_NOFD, 0)
	buf = appendFanotifyRecord(buf, unix.FAN_OPEN, int32(fd), 42)

	resolve := func(int) (string, error) {
		return "/tmp/after-overflow", nil
	}

	var events []*Event

	if err := decodeFanotify(buf, resolve, func(ev *Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("decoded %d events, want 2", len(events))
	}

	if !events[0].Overflow {
		t.Errorf("first event not an overflow: %+v", events[0])
	}

	// Draining continues past the overflow record.
	if events[1].Path != "/tmp/after-overflow" || events[1].Pid != 42 {
		t.Errorf("unexpected event after overflow: %+v", events[1])
	}
}

func TestDecodeFanotifyResolveFailure(t *testing.T) {
	t.Parallel()

	fd := devNullFd(t)

	var buf []byte
	buf = appendFanotifyRecord(buf, unix.FAN_OPEN, int32(fd), 7)

	errResolve := errors.New("stale descriptor")
	resolve := func(int) (string, error) {
		return "", errResolve
	}

	err := decodeFanotify(buf, resolve, func(ev *Event) {
		t.Errorf("event emitted despite resolve failure: %+v", ev)
	})

	if !errors.Is(err, errResolve) {
		t.Errorf("decode error = %v, want wrapped %v", err, errResolve)
	}

	// The descriptor is released on the failure path too.
	if !fdIsClosed(fd) {
		t.Error("event descriptor leaked on resolve failure")
	}
}

func TestDecodeFanotifyVersionMismatch(t *testing.T) {
	t.Parallel()

	var buf []byte
	buf = appendFanotifyRecord(buf, unix.FAN_OPEN, unix.FAN_NOFD, 0)
	(*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[0])).Vers = 0

	err := decodeFanotify(buf, resolveFdPath, func(*Event) {})
	if err == nil {
		t.Error("version mismatch not detected")
	}
}

func TestDecodeFanotifyTruncatedTail(t *testing.T) {
	t.Parallel()

	var buf []byte
	buf = appendFanotifyRecord(buf, unix.FAN_Q_OVERFLOW, unix.FAN_NOFD, 0)
	buf = appendFanotifyRecord(buf, unix.FAN_Q_OVERFLOW, unix.FAN_NOFD, 0)

	var count int

	// The second record's declared length overruns the shortened buffer, so
	// only the first is taken.
	if err := decodeFanotify(buf[:len(buf)-4], resolveFdPath, func(*Event) {
		count++
	}); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if count != 1 {
		t.Errorf("decoded %d events from truncated buffer, want 1", count)
	}
}
