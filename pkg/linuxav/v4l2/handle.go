//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// driver performs the raw system calls behind a Handle.
type driver interface {
	fd() int
	ioctl(req uint, arg unsafe.Pointer) error
	mmap(fd int, offset int64, length int) ([]byte, error)
	munmap(b []byte) error
	poll(timeout time.Duration) (bool, error)
	closeFD(fd int) error
	close() error
}

// fileDriver is the driver for an open device node.
type fileDriver struct {
	f int
}

func (d fileDriver) fd() int { return d.f }

func (d fileDriver) ioctl(req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.f), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d fileDriver) mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d fileDriver) munmap(b []byte) error {
	return unix.Munmap(b)
}

// poll waits for the device to have a dequeueable buffer. A negative timeout
// waits indefinitely. Error conditions (POLLERR) count as ready so the
// following dequeue reports them.
func (d fileDriver) poll(timeout time.Duration) (bool, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	fds := []unix.PollFd{{Fd: int32(d.f), Events: unix.POLLIN | unix.POLLOUT | unix.POLLPRI}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents != 0, nil
}

func (d fileDriver) closeFD(fd int) error {
	return unix.Close(fd)
}

func (d fileDriver) close() error {
	return unix.Close(d.f)
}

// Handle is a reference-counted connection to a V4L2 device node.
//
// Every Arena and stream built on a Handle holds a reference, so the
// descriptor stays open until the last user calls Close. Control requests
// are issued directly; serializing format changes against active streams is
// the caller's job.
type Handle struct {
	drv     driver
	path    string
	refs    atomic.Int32
	removed atomic.Bool
	closed  atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens a device node for blocking I/O.
func Open(path string) (*Handle, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", path, err)
	}
	return newHandle(fileDriver{f: fd}, path), nil
}

// FromFD wraps an already open device descriptor. The Handle takes ownership
// of fd and closes it when the last reference is dropped.
func FromFD(fd int, path string) *Handle {
	return newHandle(fileDriver{f: fd}, path)
}

func newHandle(drv driver, path string) *Handle {
	h := &Handle{drv: drv, path: path}
	h.refs.Store(1)
	return h
}

// Fd returns the device file descriptor.
func (h *Handle) Fd() int {
	return h.drv.fd()
}

// Path returns the device node path the handle was opened with.
func (h *Handle) Path() string {
	return h.path
}

// Ref takes an additional reference and returns h.
func (h *Handle) Ref() *Handle {
	h.refs.Add(1)
	return h
}

// Close drops one reference, closing the descriptor when none remain.
func (h *Handle) Close() error {
	n := h.refs.Add(-1)
	if n > 0 {
		return nil
	}
	if n < 0 {
		return ErrClosed
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeErr = h.drv.close()
	})
	return h.closeErr
}

// Refs returns the current reference count.
func (h *Handle) Refs() int {
	return int(h.refs.Load())
}

// Alive reports whether the device is still believed to be present. It turns
// false once a request fails with ENODEV or MarkRemoved is called.
func (h *Handle) Alive() bool {
	return !h.removed.Load() && !h.closed.Load()
}

// MarkRemoved records that the device node is gone, e.g. on a hotplug
// removal event.
func (h *Handle) MarkRemoved() {
	h.removed.Store(true)
}

// Control issues one ioctl with a typed payload and returns the raw OS error.
func (h *Handle) Control(req uint, arg unsafe.Pointer) error {
	if h.closed.Load() {
		return ErrClosed
	}
	err := h.drv.ioctl(req, arg)
	if errors.Is(err, syscall.ENODEV) {
		h.MarkRemoved()
	}
	return err
}

// ioctl is Control with the request name attached to the error.
func (h *Handle) ioctl(op string, req uint, arg unsafe.Pointer) error {
	if err := h.Control(req, arg); err != nil {
		return &IoctlError{Op: op, Err: err}
	}
	return nil
}

// WaitReadable blocks until a buffer can be dequeued or timeout passes.
// Callers that need bounded waits check readiness before Next. A negative
// timeout waits indefinitely.
func (h *Handle) WaitReadable(timeout time.Duration) (bool, error) {
	if h.closed.Load() {
		return false, ErrClosed
	}
	for {
		ready, err := h.drv.poll(timeout)
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		return ready, err
	}
}

// Map maps length bytes of fd at offset read/write and shared. fd is either
// the device itself (mmap buffers) or an exported DMABUF descriptor.
func (h *Handle) Map(fd int, offset int64, length int) ([]byte, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	return h.drv.mmap(fd, offset, length)
}

// Unmap releases a region returned by Map.
func (h *Handle) Unmap(b []byte) error {
	if b == nil {
		return nil
	}
	return h.drv.munmap(b)
}
