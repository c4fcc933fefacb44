//go:build linux

package metrics

import (
	"sync"
	"time"

	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
)

// StreamObserver feeds v4l2 stream notifications into the collectors for
// one device. It also detects gaps in the driver sequence numbering.
type StreamObserver struct {
	device string
	onDrop func(sequence, missed uint32)

	mu      sync.Mutex
	last    uint32
	hasLast bool
}

var _ v4l2.Observer = (*StreamObserver)(nil)

// NewStreamObserver returns an observer labelling metrics with device.
// onDrop, if set, is called for every sequence gap.
func NewStreamObserver(device string, onDrop func(sequence, missed uint32)) *StreamObserver {
	return &StreamObserver{device: device, onDrop: onDrop}
}

// SlotsAllocated implements v4l2.Observer.
func (o *StreamObserver) SlotsAllocated(typ v4l2.BufType, requested, granted uint32) {
	SetSlots(o.device, typ.String(), requested, granted)
}

// FrameDequeued implements v4l2.Observer.
func (o *StreamObserver) FrameDequeued(typ v4l2.BufType, meta v4l2.Metadata, wait time.Duration) {
	RecordFrame(o.device, typ.String(), meta.TotalBytes(), meta.Errored(), wait, meta.Sequence)

	// Output queues hand back buffers in submission order without a
	// meaningful capture sequence.
	if typ.IsOutput() {
		return
	}
	if missed := o.gap(meta.Sequence); missed > 0 {
		RecordDropped(o.device, typ.String(), missed)
		if o.onDrop != nil {
			o.onDrop(meta.Sequence, missed)
		}
	}
}

// StreamStateChanged implements v4l2.Observer. The driver restarts its
// sequence counter on stream-on, so the gap tracker is reset.
func (o *StreamObserver) StreamStateChanged(typ v4l2.BufType, on bool) {
	SetStreaming(o.device, typ.String(), on)
	if on {
		o.mu.Lock()
		o.hasLast = false
		o.mu.Unlock()
	}
}

// SlotsHeld implements v4l2.Observer.
func (o *StreamObserver) SlotsHeld(typ v4l2.BufType, held int) {
	SetHeld(o.device, typ.String(), held)
}

func (o *StreamObserver) gap(seq uint32) uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.hasLast {
		o.last, o.hasLast = seq, true
		return 0
	}
	// Unsigned difference handles the counter wrapping. A step of zero or
	// one that goes backwards is a repeat, not a gap.
	d := seq - o.last
	if d == 0 || d >= 1<<31 {
		return 0
	}
	o.last = seq
	return d - 1
}
