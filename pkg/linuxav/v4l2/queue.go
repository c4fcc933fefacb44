//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"
	"unsafe"
)

// queue implements the enqueue/dequeue protocol shared by Stream and
// MPlaneStream. At most one slot is SlotHeld at any time.
type queue struct {
	arena *Arena
	h     *Handle
	typ   BufType
	mem   Memory

	states []SlotState
	// kernel-visible plane arrays, one per slot plus one for DQBUF
	planes []*planeArray
	dq     *planeArray

	used    [][]uint32 // bytes used per slot and plane
	offsets [][]uint32 // data offset per slot and plane

	held       int
	generation uint64

	streaming    bool
	pendingStart bool
	closed       bool

	logger   *slog.Logger
	observer Observer
}

func newQueue(h *Handle, typ BufType, count int, opts []Option) (*queue, error) {
	o := buildOptions(opts)
	arena := newArena(h, typ, o)

	n, err := arena.Allocate(count)
	if err != nil {
		arena.Close()
		return nil, err
	}

	q := &queue{
		arena:    arena,
		h:        arena.h,
		typ:      typ,
		mem:      o.memory,
		states:   make([]SlotState, n),
		planes:   make([]*planeArray, n),
		dq:       new(planeArray),
		used:     make([][]uint32, n),
		offsets:  make([][]uint32, n),
		held:     -1,
		logger:   o.logger,
		observer: o.observer,
	}
	for i := 0; i < n; i++ {
		np := len(arena.slots[i].Planes)
		q.planes[i] = new(planeArray)
		q.used[i] = make([]uint32, np)
		q.offsets[i] = make([]uint32, np)
	}

	if o.deferred {
		q.pendingStart = true
		return q, nil
	}
	if err := q.start(); err != nil {
		arena.Close()
		return nil, err
	}
	return q, nil
}

// start queues every free capture slot and turns streaming on. Output slots
// stay free until the application fills them.
func (q *queue) start() error {
	if !q.typ.IsOutput() {
		for i, st := range q.states {
			if st != SlotFree {
				continue
			}
			if err := q.qbuf(i); err != nil {
				return err
			}
		}
	}

	typ := uint32(q.typ)
	if err := q.h.ioctl("VIDIOC_STREAMON", vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return err
	}
	q.streaming = true
	q.observer.StreamStateChanged(q.typ, true)
	q.logger.Debug("Stream on", "type", q.typ, "slots", len(q.states))
	return nil
}

func (q *queue) qbuf(i int) error {
	slot := &q.arena.slots[i]
	pa := q.planes[i]
	*pa = planeArray{}
	buf := newBufferRequest(q.typ, q.mem, uint32(i), pa)

	if q.typ.IsMultiPlanar() {
		buf.length = uint32(len(slot.Planes))
		for k, p := range slot.Planes {
			pa[k].length = p.Length
			if q.mem == MemoryDmaBuf {
				pa[k].m = uintptr(uint32(p.FD.Fd()))
			}
			if q.typ.IsOutput() {
				pa[k].bytesused = q.used[i][k]
			}
		}
	} else {
		p := slot.Planes[0]
		if q.mem == MemoryDmaBuf {
			buf.m = uintptr(uint32(p.FD.Fd()))
			buf.length = p.Length
		}
		if q.typ.IsOutput() {
			buf.bytesused = q.used[i][0]
		}
	}

	if err := q.h.ioctl("VIDIOC_QBUF", vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return err
	}
	q.states[i] = SlotQueued
	return nil
}

// dqbuf dequeues one buffer, retrying EINTR and waiting out EAGAIN.
func (q *queue) dqbuf() (v4l2Buffer, error) {
	for {
		*q.dq = planeArray{}
		buf := newBufferRequest(q.typ, q.mem, 0, q.dq)
		err := q.h.Control(vidiocDqbuf, unsafe.Pointer(&buf))
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN):
			if _, werr := q.h.WaitReadable(-1); werr != nil {
				return buf, werr
			}
			continue
		default:
			return buf, &IoctlError{Op: "VIDIOC_DQBUF", Err: err}
		}
	}
}

// next re-queues the held slot and makes the next slot available to the
// application. It returns the index of the now held slot.
func (q *queue) next() (int, Metadata, error) {
	if q.closed {
		return -1, Metadata{}, ErrClosed
	}
	if !q.h.Alive() {
		return -1, Metadata{}, ErrDeviceRemoved
	}
	if !q.streaming {
		if !q.pendingStart {
			return -1, Metadata{}, ErrNotStreaming
		}
		q.pendingStart = false
		if err := q.start(); err != nil {
			return -1, Metadata{}, err
		}
	}

	if q.held >= 0 {
		if err := q.qbuf(q.held); err != nil {
			return -1, Metadata{}, fmt.Errorf("failed to requeue slot %d: %w", q.held, err)
		}
		q.setHeld(-1)
	}

	if q.typ.IsOutput() {
		for i, st := range q.states {
			if st == SlotFree {
				return i, q.holdOutput(i, v4l2Buffer{index: uint32(i)}), nil
			}
		}
	}

	start := time.Now()
	buf, err := q.dqbuf()
	if err != nil {
		return -1, Metadata{}, err
	}
	wait := time.Since(start)

	idx := int(buf.index)
	if idx >= len(q.states) {
		return -1, Metadata{}, fmt.Errorf("%w: device returned slot %d of %d", ErrSlotIndex, idx, len(q.states))
	}

	if q.typ.IsOutput() {
		return idx, q.holdOutput(idx, buf), nil
	}

	q.states[idx] = SlotFilled
	meta := q.metadata(idx, buf)
	q.hold(idx)
	q.observer.FrameDequeued(q.typ, meta, wait)
	return idx, meta, nil
}

// setHeld records the held slot, -1 for none, and reports changes in the
// number of held slots.
func (q *queue) setHeld(i int) {
	was := q.held >= 0
	q.held = i
	if now := i >= 0; now != was {
		held := 0
		if now {
			held = 1
		}
		q.observer.SlotsHeld(q.typ, held)
	}
}

func (q *queue) hold(i int) {
	q.states[i] = SlotHeld
	q.setHeld(i)
	q.generation++
}

// holdOutput hands an empty output slot to the application with bytes used
// preset to the full plane lengths.
func (q *queue) holdOutput(i int, buf v4l2Buffer) Metadata {
	for k, p := range q.arena.slots[i].Planes {
		q.used[i][k] = p.Length
		q.offsets[i][k] = 0
	}
	q.hold(i)
	return Metadata{
		Index:     uint32(i),
		Sequence:  buf.sequence,
		Timestamp: timevalDuration(buf.timestamp),
		Flags:     BufFlag(buf.flags),
		Field:     buf.field,
		BytesUsed: append([]uint32(nil), q.used[i]...),
	}
}

func (q *queue) metadata(i int, buf v4l2Buffer) Metadata {
	if q.typ.IsMultiPlanar() {
		for k := range q.used[i] {
			q.used[i][k] = q.dq[k].bytesused
			q.offsets[i][k] = q.dq[k].dataOffset
		}
	} else {
		q.used[i][0] = buf.bytesused
	}
	return Metadata{
		Index:     buf.index,
		Sequence:  buf.sequence,
		Timestamp: timevalDuration(buf.timestamp),
		Flags:     BufFlag(buf.flags),
		Field:     buf.field,
		BytesUsed: append([]uint32(nil), q.used[i]...),
	}
}

func (q *queue) view(slot, plane int) PlaneView {
	p := q.arena.slots[slot].Planes[plane]
	return PlaneView{
		q:      q,
		slot:   slot,
		plane:  plane,
		gen:    q.generation,
		data:   p.Data,
		length: p.Length,
		used:   q.used[slot][plane],
		offset: q.offsets[slot][plane],
		fd:     p.FD.Fd(),
	}
}

func (q *queue) requeue() error {
	if q.held < 0 {
		return ErrNoHeldBuffer
	}
	if err := q.qbuf(q.held); err != nil {
		return err
	}
	q.setHeld(-1)
	q.generation++
	return nil
}

func (q *queue) abandon() error {
	if q.held < 0 {
		return ErrNoHeldBuffer
	}
	q.states[q.held] = SlotFree
	q.setHeld(-1)
	q.generation++
	return nil
}

func (q *queue) stop() error {
	if !q.streaming {
		return nil
	}
	typ := uint32(q.typ)
	err := q.h.ioctl("VIDIOC_STREAMOFF", vidiocStreamoff, unsafe.Pointer(&typ))
	if err != nil && !IsDeviceRemoved(err) {
		return err
	}
	q.streaming = false
	for i := range q.states {
		q.states[i] = SlotFree
	}
	q.setHeld(-1)
	q.generation++
	q.observer.StreamStateChanged(q.typ, false)
	q.logger.Debug("Stream off", "type", q.typ)
	return nil
}

func (q *queue) restart() error {
	if q.closed {
		return ErrClosed
	}
	if q.streaming {
		return nil
	}
	q.pendingStart = false
	return q.start()
}

func (q *queue) close() error {
	if !q.closed {
		q.closed = true
		if err := q.stop(); err != nil {
			q.logger.Warn("Failed to stop stream", "type", q.typ, "error", err)
		}
	}
	return q.arena.Close()
}

func (q *queue) state(i int) (SlotState, error) {
	if i < 0 || i >= len(q.states) {
		return SlotFree, fmt.Errorf("%w: %d of %d", ErrSlotIndex, i, len(q.states))
	}
	return q.states[i], nil
}
