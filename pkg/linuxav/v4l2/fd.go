//go:build linux

package v4l2

import "sync"

// BufferFD is an exported DMABUF descriptor owned by exactly one plane.
// Close is idempotent; after it, Fd reports -1.
type BufferFD struct {
	mu     sync.Mutex
	fd     int
	closer func(int) error
	err    error
}

func newBufferFD(fd int, closer func(int) error) *BufferFD {
	return &BufferFD{fd: fd, closer: closer}
}

// Fd returns the descriptor, or -1 once closed.
func (b *BufferFD) Fd() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fd
}

// Close closes the descriptor. Later calls return the first result.
func (b *BufferFD) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return b.err
	}
	b.err = b.closer(b.fd)
	b.fd = -1
	return b.err
}
