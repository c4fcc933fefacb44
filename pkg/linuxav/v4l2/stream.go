//go:build linux

package v4l2

import "fmt"

// Stream streams single-planar buffers.
//
// Next hands out one filled buffer at a time and re-queues it on the
// following call. A Stream is not safe for concurrent use.
type Stream struct {
	q *queue
}

// NewStream allocates count buffers of a single-planar type on h and, unless
// WithDeferredStart is given, queues them and starts streaming.
func NewStream(h *Handle, typ BufType, count int, opts ...Option) (*Stream, error) {
	if typ.IsMultiPlanar() || !typ.Valid() {
		return nil, fmt.Errorf("%w: %s is not single-planar", ErrBufType, typ)
	}
	q, err := newQueue(h, typ, count, opts)
	if err != nil {
		return nil, err
	}
	return &Stream{q: q}, nil
}

// Next returns the next buffer and its metadata, blocking until the device
// has filled one. The previously returned buffer is re-queued first.
func (s *Stream) Next() (Buffer, Metadata, error) {
	slot, meta, err := s.q.next()
	if err != nil {
		return Buffer{}, Metadata{}, err
	}
	return Buffer{s.q.view(slot, 0)}, meta, nil
}

// Requeue gives the held buffer back to the device now.
func (s *Stream) Requeue() error { return s.q.requeue() }

// Abandon drops the held buffer without re-queueing it.
func (s *Stream) Abandon() error { return s.q.abandon() }

// Stop turns streaming off. All slots become free.
func (s *Stream) Stop() error { return s.q.stop() }

// Start queues every free slot and turns streaming back on. Sequence numbers
// restart from zero.
func (s *Stream) Start() error { return s.q.restart() }

// Close stops the stream and releases its buffers.
func (s *Stream) Close() error { return s.q.close() }

// State returns the state of slot i.
func (s *Stream) State(i int) (SlotState, error) { return s.q.state(i) }

// Len returns the number of slots.
func (s *Stream) Len() int { return len(s.q.states) }

// Streaming reports whether the device is streaming.
func (s *Stream) Streaming() bool { return s.q.streaming }

// Arena returns the buffer arena owned by the stream.
func (s *Stream) Arena() *Arena { return s.q.arena }
