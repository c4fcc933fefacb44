//go:build linux

package v4l2

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Plane is one memory plane of a slot.
type Plane struct {
	Length uint32    // capacity in bytes
	Offset uint32    // mem offset reported by VIDIOC_QUERYBUF
	Data   []byte    // mapped region, nil if the plane could not be mapped
	FD     *BufferFD // exported descriptor, DMABUF arenas only
}

// Slot is one device buffer.
type Slot struct {
	Index  uint32
	Planes []Plane
}

// Arena owns the device buffers of one buffer type and backing strategy.
//
// An Arena is not safe for concurrent use. Once Allocate has reserved buffers
// the Arena must be closed, which returns them to the device.
type Arena struct {
	h        *Handle
	typ      BufType
	memory   Memory
	format   Format
	slots    []Slot
	reserved bool
	// memory type of the most recent successful non-zero REQBUFS
	reservedMemory Memory
	closed         bool

	scratch  *planeArray
	logger   *slog.Logger
	observer Observer
}

// NewArena returns an empty arena on h. It takes a reference on h that is
// dropped by Close.
func NewArena(h *Handle, typ BufType, opts ...Option) *Arena {
	o := buildOptions(opts)
	return newArena(h, typ, o)
}

func newArena(h *Handle, typ BufType, o options) *Arena {
	return &Arena{
		h:        h.Ref(),
		typ:      typ,
		memory:   o.memory,
		scratch:  new(planeArray),
		logger:   o.logger,
		observer: o.observer,
	}
}

// Allocate reserves up to count buffers and maps or exports every plane. It
// returns the number of slots granted by the device. On error the slots set
// up so far stay owned by the arena until Close.
func (a *Arena) Allocate(count int) (int, error) {
	switch {
	case a.closed:
		return 0, ErrClosed
	case count < 1:
		return 0, ErrInvalidCount
	case a.reserved || len(a.slots) > 0:
		return 0, ErrAllocated
	case !a.typ.Valid():
		return 0, ErrBufType
	case a.memory != MemoryMmap && a.memory != MemoryDmaBuf:
		return 0, fmt.Errorf("%w: %s", ErrMemory, a.memory)
	}

	format, err := GetFormat(a.h, a.typ)
	if err != nil {
		return 0, err
	}
	a.format = format

	// Both strategies start from driver-allocated buffers; DMABUF exports
	// them before converting the reservation.
	granted, err := a.reserve(MemoryMmap, uint32(count))
	if err != nil {
		return 0, err
	}

	for i := uint32(0); i < granted; i++ {
		slot, err := a.querySlot(i)
		if err != nil {
			return len(a.slots), err
		}
		a.slots = append(a.slots, slot)
		s := &a.slots[len(a.slots)-1]
		if a.memory == MemoryMmap {
			err = a.mapSlot(s)
		} else {
			err = a.exportSlot(s)
		}
		if err != nil {
			return len(a.slots), err
		}
	}

	if a.memory == MemoryDmaBuf {
		n, err := a.reserve(MemoryDmaBuf, granted)
		if err != nil {
			return len(a.slots), err
		}
		if int(n) < len(a.slots) {
			for i := int(n); i < len(a.slots); i++ {
				a.releaseSlot(&a.slots[i])
			}
			a.slots = a.slots[:n]
		}
	}

	a.observer.SlotsAllocated(a.typ, uint32(count), uint32(len(a.slots)))
	a.logger.Debug("Allocated buffers",
		"type", a.typ,
		"memory", a.memory,
		"requested", count,
		"granted", len(a.slots),
		"format", a.format.String())

	return len(a.slots), nil
}

func (a *Arena) reserve(mem Memory, count uint32) (uint32, error) {
	req := newRequestBuffers(a.typ, mem, count)
	if err := a.h.ioctl("VIDIOC_REQBUFS", vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	if req.count == 0 {
		a.reserved = false
		return 0, ErrNoBuffers
	}
	a.reserved = true
	a.reservedMemory = mem
	return req.count, nil
}

func (a *Arena) querySlot(index uint32) (Slot, error) {
	*a.scratch = planeArray{}
	buf := newBufferRequest(a.typ, MemoryMmap, index, a.scratch)
	if err := a.h.ioctl("VIDIOC_QUERYBUF", vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return Slot{}, err
	}

	slot := Slot{Index: index}
	if !a.typ.IsMultiPlanar() {
		slot.Planes = []Plane{{Length: buf.length, Offset: uint32(buf.m)}}
		return slot, nil
	}

	n := int(buf.length)
	if n > MaxPlanes || n != a.format.NumPlanes() {
		return Slot{}, fmt.Errorf("%w: slot %d has %d planes, format has %d",
			ErrPlaneCount, index, n, a.format.NumPlanes())
	}
	slot.Planes = make([]Plane, n)
	for i := range slot.Planes {
		slot.Planes[i] = Plane{
			Length: a.scratch[i].length,
			Offset: uint32(a.scratch[i].m),
		}
	}
	return slot, nil
}

func (a *Arena) mapSlot(s *Slot) error {
	for i := range s.Planes {
		p := &s.Planes[i]
		data, err := a.h.Map(a.h.Fd(), int64(p.Offset), int(p.Length))
		if err != nil {
			return fmt.Errorf("failed to map slot %d plane %d: %w", s.Index, i, err)
		}
		p.Data = data
	}
	return nil
}

func (a *Arena) exportSlot(s *Slot) error {
	for i := range s.Planes {
		p := &s.Planes[i]
		exp := newExportBuffer(a.typ, s.Index, uint32(i), unix.O_RDWR|unix.O_CLOEXEC)
		if err := a.h.ioctl("VIDIOC_EXPBUF", vidiocExpbuf, unsafe.Pointer(&exp)); err != nil {
			return err
		}
		p.FD = newBufferFD(int(exp.fd), a.h.drv.closeFD)

		// Not every exporter supports mmap on the DMABUF fd.
		data, err := a.h.Map(p.FD.Fd(), 0, int(p.Length))
		if err != nil {
			a.logger.Debug("Exported buffer is not mappable",
				"slot", s.Index, "plane", i, "error", err)
			continue
		}
		p.Data = data
	}
	return nil
}

func (a *Arena) releaseSlot(s *Slot) {
	for i := range s.Planes {
		p := &s.Planes[i]
		if p.Data != nil {
			if err := a.h.Unmap(p.Data); err != nil {
				a.logger.Warn("Failed to unmap buffer", "slot", s.Index, "plane", i, "error", err)
			}
			p.Data = nil
		}
		if p.FD != nil {
			if err := p.FD.Close(); err != nil {
				a.logger.Warn("Failed to close exported buffer", "slot", s.Index, "plane", i, "error", err)
			}
		}
	}
}

// Release returns every reserved buffer to the device (VIDIOC_REQBUFS with a
// count of zero). It does nothing if no buffers are reserved. Mapped regions
// and exported descriptors are not touched; see Close.
func (a *Arena) Release() error {
	if !a.reserved {
		return nil
	}
	req := newRequestBuffers(a.typ, a.reservedMemory, 0)
	err := a.h.ioctl("VIDIOC_REQBUFS", vidiocReqbufs, unsafe.Pointer(&req))
	if err == nil || IsDeviceRemoved(err) {
		a.reserved = false
	}
	return err
}

// Close unmaps every plane, closes exported descriptors and releases the
// reservation, then drops the handle reference. A release failing with ENODEV
// is treated as success. Any other release failure panics with a
// *TeardownError and keeps the reservation and the handle reference, so a
// later Close retries the release. Once Close returns it is a no-op.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}

	for i := range a.slots {
		a.releaseSlot(&a.slots[i])
	}
	a.slots = nil

	// A failed release leaves the arena open and reserved; the next Close
	// retries it.
	mem := a.reservedMemory
	if err := a.Release(); err != nil {
		if !IsDeviceRemoved(err) {
			panic(&TeardownError{Type: a.typ, Memory: mem, Err: err})
		}
		a.logger.Debug("Device gone during buffer release", "type", a.typ, "error", err)
	}

	a.closed = true
	return a.h.Close()
}

// Len returns the number of allocated slots.
func (a *Arena) Len() int {
	return len(a.slots)
}

// Slot returns slot i.
func (a *Arena) Slot(i int) (*Slot, error) {
	if i < 0 || i >= len(a.slots) {
		return nil, fmt.Errorf("%w: %d of %d", ErrSlotIndex, i, len(a.slots))
	}
	return &a.slots[i], nil
}

// Type returns the buffer type.
func (a *Arena) Type() BufType {
	return a.typ
}

// Memory returns the backing strategy.
func (a *Arena) Memory() Memory {
	return a.memory
}

// Format returns the format queried by the last Allocate.
func (a *Arena) Format() Format {
	return a.format
}

// Handle returns the device handle.
func (a *Arena) Handle() *Handle {
	return a.h
}
