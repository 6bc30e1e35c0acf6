//go:build linux
// +build linux

package fsmon

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fanotifyBufferSize holds a batch of fixed-size metadata records per drain.
const fanotifyBufferSize = 4096

const fanotifyMetadataSize = int(unsafe.Sizeof(unix.FanotifyEventMetadata{}))

// FanotifyBackend traces file opens across a whole mount. One mark per
// registered path covers every open at or below it, child events included.
// Each event record carries the PID of the opener and an open descriptor
// referring to the opened object, which the backend resolves to a path
// through /proc/self/fd and releases after the event is handled.
type FanotifyBackend struct {
	fd      int
	watches []*Watch
	buf     [fanotifyBufferSize]byte

	// resolve maps a per-event open descriptor to the path it refers to.
	// Swappable so decode can be exercised without a privileged fanotify
	// descriptor.
	resolve func(fd int) (string, error)
}

func NewFanotifyBackend() (*FanotifyBackend, error) {
	fd, err := unix.FanotifyInit(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC, unix.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("initialize fanotify: %w", err)
	}

	return &FanotifyBackend{fd: fd, resolve: resolveFdPath}, nil
}

func (b *FanotifyBackend) Facility() string {
	return "fanotify"
}

// Register marks the mount containing path for open events. fanotify has no
// per-mark identifier, so the handle is the table index; event records
// identify their object by descriptor, not by watch.
func (b *FanotifyBackend) Register(path string) (*Watch, error) {
	if b.fd < 0 {
		return nil, errBackendClosed
	}

	err := unix.FanotifyMark(b.fd,
		unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT,
		unix.FAN_OPEN|unix.FAN_EVENT_ON_CHILD,
		unix.AT_FDCWD, path)
	if err != nil {
		return nil, fmt.Errorf("mark mount of '%s': %w", path, err)
	}

	w := &Watch{Path: path, Handle: len(b.watches)}
	b.watches = append(b.watches, w)

	return w, nil
}

func (b *FanotifyBackend) EventFd() int {
	return b.fd
}

// Drain reads one batch of metadata records and emits an event per record.
// Queue overflow is emitted as an overflow event and draining continues, so
// nothing is dropped silently.
func (b *FanotifyBackend) Drain(emit EmitFunc) error {
	n, err := unix.Read(b.fd, b.buf[:])
	if err != nil {
		return fmt.Errorf("read fanotify events: %w", err)
	}

	return decodeFanotify(b.buf[:n], b.resolve, emit)
}

func (b *FanotifyBackend) Watches() []*Watch {
	return b.watches
}

// Close unmarks each registered mount and closes the fanotify descriptor.
// Closing the descriptor releases all marks anyway, so errors are ignored.
func (b *FanotifyBackend) Close() error {
	for _, w := range b.watches {
		_ = unix.FanotifyMark(b.fd,
			unix.FAN_MARK_REMOVE|unix.FAN_MARK_MOUNT,
			unix.FAN_OPEN|unix.FAN_EVENT_ON_CHILD,
			unix.AT_FDCWD, w.Path)
	}

	b.watches = nil

	err := unix.Close(b.fd)
	b.fd = -1

	return err
}

// decodeFanotify walks a buffer of fanotify metadata records, emitting one
// event per record. A record is taken while its declared length is
// consistent with what remains in the buffer.
func decodeFanotify(buf []byte, resolve func(int) (string, error), emit EmitFunc) error {
	for len(buf) >= fanotifyMetadataSize {
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&buf[0]))

		recLen := int(meta.Event_len)
		if recLen < fanotifyMetadataSize || recLen > len(buf) {
			return nil
		}

		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			return fmt.Errorf("fanotify metadata version mismatch: got %d, want %d",
				meta.Vers, unix.FANOTIFY_METADATA_VERSION)
		}

		if meta.Mask&unix.FAN_Q_OVERFLOW != 0 {
			// Overflow records carry no descriptor to close.
			emit(&Event{Overflow: true})
			buf = buf[recLen:]

			continue
		}

		if err := handleOpenRecord(meta, resolve, emit); err != nil {
			return err
		}

		buf = buf[recLen:]
	}

	return nil
}

// handleOpenRecord resolves and emits one non-overflow record. The record's
// open descriptor is released on every exit path, resolution failure
// included.
func handleOpenRecord(meta *unix.FanotifyEventMetadata, resolve func(int) (string, error), emit EmitFunc) error {
	fd := int(meta.Fd)
	defer func() {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
	}()

	path, err := resolve(fd)
	if err != nil {
		return fmt.Errorf("resolve event descriptor: %w", err)
	}

	emit(&Event{Path: path, Pid: meta.Pid})

	return nil
}

func resolveFdPath(fd int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
}
