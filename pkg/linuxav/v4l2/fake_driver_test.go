//go:build linux

package v4l2

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"
)

// fakeDevice emulates a vb2-style V4L2 driver for one buffer type.
type fakeDevice struct {
	mu sync.Mutex

	format     Format
	maxBuffers uint32 // grant limit, 0 means unlimited
	// plane count reported by QUERYBUF for mplane types, 0 means format count
	querybufPlanes int
	// bytes the device fills per plane, 0 means the full plane size
	fillBytes uint32
	dataOffset uint32
	frameFlags BufFlag

	memory    Memory
	bufs      int
	queued    []uint32
	streaming bool
	sequence  uint32

	nextFD    int
	closedFDs []int
	mapped    int
	unmapped  int
	mapFail   map[int]bool // fds that refuse mmap

	noBuffers bool // REQBUFS grants zero

	lastQbufBytes []uint32 // bytesused per plane of the latest QBUF

	errs map[string][]error
	skip map[string]int
	ops  []string

	closed bool
}

func newFakeDevice(f Format) *fakeDevice {
	return &fakeDevice{
		format:  f,
		nextFD:  100,
		mapFail: map[int]bool{},
		errs:    map[string][]error{},
		skip:    map[string]int{},
	}
}

func yuyvFormat() Format {
	return Format{
		Type:        BufTypeVideoCapture,
		Width:       640,
		Height:      480,
		PixelFormat: PixFmtYUYV,
		Planes:      []PlaneFormat{{SizeImage: 640 * 480 * 2, BytesPerLine: 640 * 2}},
	}
}

func nv12mFormat(typ BufType) Format {
	return Format{
		Type:        typ,
		Width:       640,
		Height:      480,
		PixelFormat: PixFmtNV12M,
		Planes: []PlaneFormat{
			{SizeImage: 640 * 480, BytesPerLine: 640},
			{SizeImage: 640 * 480 / 2, BytesPerLine: 640},
		},
	}
}

// failNext makes the next calls of op fail with errs, in order.
func (d *fakeDevice) failNext(op string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[op] = append(d.errs[op], errs...)
}

// failAt lets skip calls of op succeed, then fails the next one with err.
func (d *fakeDevice) failAt(op string, skip int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skip[op] = skip
	d.errs[op] = append(d.errs[op], err)
}

func (d *fakeDevice) opLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

func (d *fakeDevice) count(prefix string) int {
	n := 0
	for _, op := range d.opLog() {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (d *fakeDevice) popErr(op string) error {
	q := d.errs[op]
	if len(q) == 0 {
		return nil
	}
	if d.skip[op] > 0 {
		d.skip[op]--
		return nil
	}
	d.errs[op] = q[1:]
	return q[0]
}

func (d *fakeDevice) planeCount() int {
	if d.querybufPlanes > 0 {
		return d.querybufPlanes
	}
	return len(d.format.Planes)
}

func (d *fakeDevice) planeSize(k int) uint32 {
	if k < len(d.format.Planes) {
		return d.format.Planes[k].SizeImage
	}
	return 4096
}

func requestName(req uint) string {
	switch req {
	case vidiocQuerycap:
		return "QUERYCAP"
	case vidiocEnumFmt:
		return "ENUM_FMT"
	case vidiocGFmt:
		return "G_FMT"
	case vidiocSFmt:
		return "S_FMT"
	case vidiocReqbufs:
		return "REQBUFS"
	case vidiocQuerybuf:
		return "QUERYBUF"
	case vidiocQbuf:
		return "QBUF"
	case vidiocExpbuf:
		return "EXPBUF"
	case vidiocDqbuf:
		return "DQBUF"
	case vidiocStreamon:
		return "STREAMON"
	case vidiocStreamoff:
		return "STREAMOFF"
	case vidiocEnumFramesizes:
		return "ENUM_FRAMESIZES"
	case vidiocEnumFrameintervals:
		return "ENUM_FRAMEINTERVALS"
	}
	return fmt.Sprintf("0x%x", req)
}

func (d *fakeDevice) fd() int { return 3 }

func (d *fakeDevice) ioctl(req uint, arg unsafe.Pointer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := requestName(req)
	if err := d.popErr(name); err != nil {
		d.ops = append(d.ops, name+"!")
		return err
	}

	switch req {
	case vidiocQuerycap:
		c := (*v4l2Capability)(arg)
		copy(c.driver[:], "fake")
		copy(c.card[:], "Fake Camera")
		copy(c.busInfo[:], "platform:fake")
		c.capabilities = CapVideoCapture | CapVideoCaptureMplane | CapStreaming
		d.ops = append(d.ops, name)

	case vidiocGFmt:
		raw := (*v4l2Format)(arg)
		f := d.format
		f.Type = BufType(raw.typ)
		enc, err := encodeFormat(f)
		if err != nil {
			return syscall.EINVAL
		}
		*raw = enc
		d.ops = append(d.ops, name)

	case vidiocSFmt:
		raw := (*v4l2Format)(arg)
		f, err := decodeFormat(raw)
		if err != nil {
			return syscall.EINVAL
		}
		if d.bufs > 0 {
			return syscall.EBUSY
		}
		for i := range f.Planes {
			if f.Planes[i].SizeImage == 0 {
				f.Planes[i].SizeImage = f.Width * f.Height * 2
			}
		}
		d.format = f
		enc, _ := encodeFormat(f)
		*raw = enc
		d.ops = append(d.ops, name)

	case vidiocReqbufs:
		r := (*v4l2RequestBuffers)(arg)
		mem := Memory(r.memory)
		d.ops = append(d.ops, fmt.Sprintf("REQBUFS(%d,%s)", r.count, mem))
		if d.streaming {
			return syscall.EBUSY
		}
		n := r.count
		if d.maxBuffers > 0 && n > d.maxBuffers {
			n = d.maxBuffers
		}
		if d.noBuffers {
			n = 0
		}
		r.count = n
		d.bufs = int(n)
		d.memory = mem
		d.queued = nil

	case vidiocQuerybuf:
		b := (*v4l2Buffer)(arg)
		d.ops = append(d.ops, fmt.Sprintf("QUERYBUF(%d)", b.index))
		if int(b.index) >= d.bufs {
			return syscall.EINVAL
		}
		if BufType(b.typ).IsMultiPlanar() {
			planes := planesOf(b)
			n := d.planeCount()
			b.length = uint32(n)
			for k := 0; k < n && k < MaxPlanes; k++ {
				planes[k].length = d.planeSize(k)
				planes[k].m = uintptr(b.index)<<20 | uintptr(k)<<16
			}
		} else {
			b.length = d.planeSize(0)
			b.m = uintptr(b.index) << 20
		}

	case vidiocExpbuf:
		e := (*v4l2ExportBuffer)(arg)
		d.ops = append(d.ops, fmt.Sprintf("EXPBUF(%d,%d)", e.index, e.plane))
		if int(e.index) >= d.bufs {
			return syscall.EINVAL
		}
		e.fd = int32(d.nextFD)
		d.nextFD++

	case vidiocQbuf:
		b := (*v4l2Buffer)(arg)
		d.ops = append(d.ops, fmt.Sprintf("QBUF(%d)", b.index))
		if int(b.index) >= d.bufs || Memory(b.memory) != d.memory {
			return syscall.EINVAL
		}
		d.queued = append(d.queued, b.index)
		if BufType(b.typ).IsMultiPlanar() {
			planes := planesOf(b)
			d.lastQbufBytes = d.lastQbufBytes[:0]
			for k := 0; k < int(b.length) && k < MaxPlanes; k++ {
				d.lastQbufBytes = append(d.lastQbufBytes, planes[k].bytesused)
			}
		} else {
			d.lastQbufBytes = []uint32{b.bytesused}
		}

	case vidiocDqbuf:
		b := (*v4l2Buffer)(arg)
		if !d.streaming || len(d.queued) == 0 {
			d.ops = append(d.ops, "DQBUF!")
			return syscall.EINVAL
		}
		idx := d.queued[0]
		d.queued = d.queued[1:]
		d.ops = append(d.ops, fmt.Sprintf("DQBUF(%d)", idx))
		b.index = idx
		b.sequence = d.sequence
		b.flags = uint32(FlagDone | FlagTimestampMonotonic | d.frameFlags)
		b.timestamp = timeval{sec: 1, usec: 500}
		d.sequence++
		if BufType(b.typ).IsMultiPlanar() {
			planes := planesOf(b)
			for k := 0; k < d.planeCount() && k < MaxPlanes; k++ {
				planes[k].bytesused = d.fill(k)
				planes[k].dataOffset = d.dataOffset
			}
		} else {
			b.bytesused = d.fill(0)
		}

	case vidiocStreamon:
		d.ops = append(d.ops, name)
		d.streaming = true
		d.sequence = 0

	case vidiocStreamoff:
		d.ops = append(d.ops, name)
		d.streaming = false
		d.queued = nil

	default:
		return syscall.ENOTTY
	}
	return nil
}

// planesOf reads the plane array address stored in the m union without a
// uintptr to pointer conversion, which checkptr rejects.
func planesOf(b *v4l2Buffer) *planeArray {
	return *(**planeArray)(unsafe.Pointer(&b.m))
}

func (d *fakeDevice) fill(k int) uint32 {
	if d.fillBytes > 0 {
		return d.fillBytes
	}
	return d.planeSize(k)
}

func (d *fakeDevice) mmap(fd int, offset int64, length int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mapFail[fd] {
		return nil, syscall.ENODEV
	}
	d.mapped++
	return make([]byte, length), nil
}

func (d *fakeDevice) munmap(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmapped++
	return nil
}

func (d *fakeDevice) poll(timeout time.Duration) (bool, error) {
	return true, nil
}

func (d *fakeDevice) closeFD(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closedFDs = append(d.closedFDs, fd)
	return nil
}

func (d *fakeDevice) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeHandle returns a handle backed by d.
func fakeHandle(d *fakeDevice) *Handle {
	return newHandle(d, "/dev/fake0")
}
