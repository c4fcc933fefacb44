//go:build linux

package v4l2

import "fmt"

// MPlaneStream streams multi-planar buffers. Apart from returning one view
// per plane it behaves exactly like Stream.
type MPlaneStream struct {
	q *queue
}

// NewMPlaneStream allocates count buffers of a multi-planar type on h.
func NewMPlaneStream(h *Handle, typ BufType, count int, opts ...Option) (*MPlaneStream, error) {
	if !typ.IsMultiPlanar() {
		return nil, fmt.Errorf("%w: %s is not multi-planar", ErrBufType, typ)
	}
	q, err := newQueue(h, typ, count, opts)
	if err != nil {
		return nil, err
	}
	return &MPlaneStream{q: q}, nil
}

// Next returns the planes of the next buffer and its metadata.
func (s *MPlaneStream) Next() ([]PlaneView, Metadata, error) {
	slot, meta, err := s.q.next()
	if err != nil {
		return nil, Metadata{}, err
	}
	views := make([]PlaneView, len(s.q.arena.slots[slot].Planes))
	for i := range views {
		views[i] = s.q.view(slot, i)
	}
	return views, meta, nil
}

// Requeue gives the held buffer back to the device now.
func (s *MPlaneStream) Requeue() error { return s.q.requeue() }

// Abandon drops the held buffer without re-queueing it.
func (s *MPlaneStream) Abandon() error { return s.q.abandon() }

// Stop turns streaming off. All slots become free.
func (s *MPlaneStream) Stop() error { return s.q.stop() }

// Start queues every free slot and turns streaming back on. Sequence numbers
// restart from zero.
func (s *MPlaneStream) Start() error { return s.q.restart() }

// Close stops streaming, logging rather than returning a stop failure, and
// closes the arena.
func (s *MPlaneStream) Close() error { return s.q.close() }

// State reports the state of slot i.
func (s *MPlaneStream) State(i int) (SlotState, error) { return s.q.state(i) }

// Len returns the number of slots.
func (s *MPlaneStream) Len() int { return len(s.q.states) }

// Streaming reports whether the queue is streaming.
func (s *MPlaneStream) Streaming() bool { return s.q.streaming }

// Arena returns the arena backing the stream.
func (s *MPlaneStream) Arena() *Arena { return s.q.arena }
