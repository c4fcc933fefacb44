//go:build linux

package v4l2

// PlaneView is a bounds-checked view of one plane of a held slot. It stays
// valid until the slot is re-queued, abandoned or the stream stops.
type PlaneView struct {
	q      *queue
	slot   int
	plane  int
	gen    uint64
	data   []byte
	length uint32
	used   uint32
	offset uint32
	fd     int
}

// Valid reports whether the view still refers to the held slot.
func (v PlaneView) Valid() bool {
	if v.q == nil || v.q.closed {
		return false
	}
	return v.q.held == v.slot && v.q.generation == v.gen && v.q.states[v.slot] == SlotHeld
}

// Bytes returns the plane payload. For capture queues it is the data the
// device reported as used, starting at the data offset. For output queues
// it is the whole writable capacity. A stale view returns nil.
func (v PlaneView) Bytes() []byte {
	if !v.Valid() || v.data == nil {
		return nil
	}
	if v.q.typ.IsOutput() {
		return v.data
	}
	end := min(int(v.used), len(v.data))
	start := min(int(v.offset), end)
	return v.data[start:end]
}

// Len returns len(Bytes()).
func (v PlaneView) Len() int {
	return len(v.Bytes())
}

// Cap returns the plane capacity in bytes.
func (v PlaneView) Cap() int {
	return int(v.length)
}

// Index returns the slot index.
func (v PlaneView) Index() int {
	return v.slot
}

// Plane returns the plane number within the slot.
func (v PlaneView) Plane() int {
	return v.plane
}

// FD returns the exported DMABUF descriptor, or -1 for mmap buffers.
func (v PlaneView) FD() int {
	return v.fd
}

// DataOffset returns the offset of the payload within the plane.
func (v PlaneView) DataOffset() uint32 {
	return v.offset
}

// BytesUsed returns the bytes-used value of the plane. For output queues it
// reflects the latest SetBytesUsed.
func (v PlaneView) BytesUsed() uint32 {
	if v.q != nil && v.Valid() && v.q.typ.IsOutput() {
		return v.q.used[v.slot][v.plane]
	}
	return v.used
}

// SetBytesUsed sets how many bytes of an output plane the device should
// consume when the slot is queued. It defaults to the plane capacity.
func (v PlaneView) SetBytesUsed(n int) error {
	if v.q == nil || !v.q.typ.IsOutput() {
		return ErrBufType
	}
	if !v.Valid() {
		return ErrNoHeldBuffer
	}
	if n < 0 || n > int(v.length) {
		return ErrBytesUsed
	}
	v.q.used[v.slot][v.plane] = uint32(n)
	return nil
}

// Buffer is the single-planar view of a held slot.
type Buffer struct {
	PlaneView
}
