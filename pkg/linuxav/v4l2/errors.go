//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"syscall"
)

// Sentinel errors returned by Arena and the streams.
var (
	ErrInvalidCount  = errors.New("v4l2: buffer count must be at least 1")
	ErrNoBuffers     = errors.New("v4l2: device granted no buffers")
	ErrAllocated     = errors.New("v4l2: arena already allocated")
	ErrSlotIndex     = errors.New("v4l2: slot index out of range")
	ErrPlaneCount    = errors.New("v4l2: plane count mismatch")
	ErrBufType       = errors.New("v4l2: unsupported buffer type")
	ErrMemory        = errors.New("v4l2: unsupported memory type")
	ErrNotStreaming  = errors.New("v4l2: stream is not active")
	ErrNoHeldBuffer  = errors.New("v4l2: no buffer held by application")
	ErrBytesUsed     = errors.New("v4l2: bytes used exceeds plane capacity")
	ErrDeviceRemoved = errors.New("v4l2: device removed")
	ErrClosed        = errors.New("v4l2: closed")
)

// IoctlError reports a failed device-control request.
type IoctlError struct {
	Op  string // request name, e.g. "VIDIOC_REQBUFS"
	Err error  // usually a syscall.Errno
}

func (e *IoctlError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IoctlError) Unwrap() error {
	return e.Err
}

// Is matches ErrDeviceRemoved when the request failed with ENODEV.
func (e *IoctlError) Is(target error) bool {
	return target == ErrDeviceRemoved && errors.Is(e.Err, syscall.ENODEV)
}

// Errno returns the OS error code of the failure, or 0 if there is none.
func (e *IoctlError) Errno() syscall.Errno {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno
	}
	return 0
}

// TeardownError is the panic value raised when an Arena cannot return its
// buffers to the device. Continuing would leak kernel buffer memory that no
// later call can reclaim.
type TeardownError struct {
	Type   BufType
	Memory Memory
	Err    error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("v4l2: failed to release %s %s buffers: %v", e.Type, e.Memory, e.Err)
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// IsDeviceRemoved reports whether err means the device node went away
// (ENODEV), typically because it was unplugged.
func IsDeviceRemoved(err error) bool {
	return errors.Is(err, ErrDeviceRemoved) || errors.Is(err, syscall.ENODEV)
}
