//go:build linux
// +build linux

package fsmon

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// InotifyEvents covers the full set of event kinds the report enumerates.
const InotifyEvents = unix.IN_ACCESS |
	unix.IN_ATTRIB |
	unix.IN_OPEN |
	unix.IN_CLOSE_WRITE |
	unix.IN_CLOSE_NOWRITE |
	unix.IN_CREATE |
	unix.IN_DELETE |
	unix.IN_DELETE_SELF |
	unix.IN_MODIFY |
	unix.IN_MOVE_SELF |
	unix.IN_MOVED_FROM |
	unix.IN_MOVED_TO

// inotifyBufferSize holds a batch of variable-length records per drain read.
const inotifyBufferSize = 8192

// InotifyBackend multiplexes watches for any number of directories over one
// inotify descriptor. The stream carries variable-length records: a fixed
// header followed by a zero-padded child name when the event concerns an
// entry inside the watched directory.
type InotifyBackend struct {
	fd      int
	watches []*Watch
	buf     [inotifyBufferSize]byte
}

func NewInotifyBackend() (*InotifyBackend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("setup new inotify device: %w", err)
	}

	return &InotifyBackend{fd: fd}, nil
}

func (b *InotifyBackend) Facility() string {
	return "inotify"
}

// Register attaches a watch for path and records the kernel's watch
// descriptor as the handle.
func (b *InotifyBackend) Register(path string) (*Watch, error) {
	if b.fd < 0 {
		return nil, errBackendClosed
	}

	wd, err := unix.InotifyAddWatch(b.fd, path, InotifyEvents)
	if err != nil {
		return nil, fmt.Errorf("add monitor in directory '%s': %w", path, err)
	}

	w := &Watch{Path: path, Handle: wd}
	b.watches = append(b.watches, w)

	return w, nil
}

func (b *InotifyBackend) EventFd() int {
	return b.fd
}

// Drain reads whatever the kernel has queued, up to the buffer size, and
// emits every whole record in the batch.
func (b *InotifyBackend) Drain(emit EmitFunc) error {
	n, err := unix.Read(b.fd, b.buf[:])
	if err != nil {
		return fmt.Errorf("read inotify events: %w", err)
	}

	decodeInotify(b.buf[:n], emit)

	return nil
}

func (b *InotifyBackend) Watches() []*Watch {
	return b.watches
}

// Close removes each watch and then closes the inotify descriptor. Closing
// the descriptor alone releases the watches; the explicit removal is
// defensive and its errors are ignored.
func (b *InotifyBackend) Close() error {
	for _, w := range b.watches {
		_, _ = unix.InotifyRmWatch(b.fd, uint32(w.Handle))
	}

	b.watches = nil

	err := unix.Close(b.fd)
	b.fd = -1

	return err
}

// decodeInotify walks a buffer of variable-length inotify records. A record
// is emitted while the remaining buffer holds at least a header and the
// header's declared name length fits in what is left; anything else is a
// truncated tail and terminates the walk.
func decodeInotify(buf []byte, emit EmitFunc) {
	for len(buf) >= unix.SizeofInotifyEvent {
		raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[0]))

		// Compared unsigned: converting Len to int first could wrap
		// negative where int is 32 bits wide.
		if raw.Len > uint32(len(buf)-unix.SizeofInotifyEvent) {
			return
		}

		nameLen := int(raw.Len)

		if raw.Mask&unix.IN_Q_OVERFLOW != 0 {
			// The kernel dropped events; the overflow record carries no
			// watch descriptor.
			emit(&Event{Overflow: true})

			buf = buf[unix.SizeofInotifyEvent+nameLen:]

			continue
		}

		ev := &Event{
			Handle: int(raw.Wd),
			Mask:   raw.Mask,
			Cookie: raw.Cookie,
		}

		if nameLen > 0 {
			// The name field is zero-padded to the record-declared length;
			// the string ends at the first NUL.
			name := buf[unix.SizeofInotifyEvent : unix.SizeofInotifyEvent+nameLen]
			if i := bytes.IndexByte(name, 0); i >= 0 {
				name = name[:i]
			}

			ev.Name = string(name)
		}

		emit(ev)

		buf = buf[unix.SizeofInotifyEvent+nameLen:]
	}
}
