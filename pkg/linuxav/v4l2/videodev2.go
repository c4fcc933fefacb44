//go:build linux

package v4l2

import "unsafe"

// MaxPlanes is the kernel limit on planes per buffer (VIDEO_MAX_PLANES).
const MaxPlanes = 8

// ioctl request encoding from asm-generic/ioctl.h.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uint {
	return uint((dir << iocDirShift) | (uintptr('V') << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

func ior(nr, size uintptr) uint  { return ioc(iocRead, nr, size) }
func iow(nr, size uintptr) uint  { return ioc(iocWrite, nr, size) }
func iowr(nr, size uintptr) uint { return ioc(iocRead|iocWrite, nr, size) }

// Request codes used by this package. Sizes come from the Go mirrors of the
// kernel structs, which are checked against the kernel ABI per architecture.
var (
	vidiocQuerycap           = ior(0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt            = iowr(2, unsafe.Sizeof(v4l2Fmtdesc{}))
	vidiocGFmt               = iowr(4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt               = iowr(5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs            = iowr(8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf           = iowr(9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQbuf               = iowr(15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocExpbuf             = iowr(16, unsafe.Sizeof(v4l2ExportBuffer{}))
	vidiocDqbuf              = iowr(17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamon           = iow(18, unsafe.Sizeof(int32(0)))
	vidiocStreamoff          = iow(19, unsafe.Sizeof(int32(0)))
	vidiocEnumFramesizes     = iowr(74, unsafe.Sizeof(v4l2Frmsizeenum{}))
	vidiocEnumFrameintervals = iowr(75, unsafe.Sizeof(v4l2Frmivalenum{}))
)

// Capability flags.
const (
	CapVideoCapture       = 0x00000001
	CapVideoOutput        = 0x00000002
	CapVideoCaptureMplane = 0x00001000
	CapVideoOutputMplane  = 0x00002000
	CapVideoM2MMplane     = 0x00004000
	CapVideoM2M           = 0x00008000
	CapStreaming          = 0x04000000
	CapDeviceCaps         = 0x80000000
)

// Format description flags.
const (
	fmtFlagEmulated = 0x0002
)

// Frame size and interval enumeration types.
const (
	frmsizeTypeDiscrete   = 1
	frmsizeTypeContinuous = 2
	frmsizeTypeStepwise   = 3

	frmivalTypeDiscrete   = 1
	frmivalTypeContinuous = 2
	frmivalTypeStepwise   = 3
)

const fieldAny = 0

// formatUnionPad aligns the v4l2_format union, which holds pointers, to the
// native word size.
const formatUnionPad = unsafe.Sizeof(uintptr(0)) - 4

type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

type v4l2FrmsizeDiscrete struct {
	width  uint32
	height uint32
}

type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	discrete    v4l2FrmsizeDiscrete // union with v4l2FrmsizeStepwise
	_           [16]byte
	reserved    [2]uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	discrete    v4l2Fract // union with stepwise {min, max, step}
	_           [16]byte
	reserved    [2]uint32
}

// v4l2Format carries v4l2_pix_format or v4l2_pix_format_mplane in fmt,
// decoded with encoding/binary in format.go.
type v4l2Format struct {
	typ uint32
	_   [formatUnionPad]byte
	fmt [200]byte
}

type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint8
	reserved     [3]uint8
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer mirrors struct v4l2_buffer. The m union is word sized: it holds
// the mmap offset, the dmabuf fd, or the address of a v4l2Plane array.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         uintptr
	length    uint32
	reserved2 uint32
	requestFD int32
}

// v4l2Plane mirrors struct v4l2_plane; m holds the mem offset or dmabuf fd.
type v4l2Plane struct {
	bytesused  uint32
	length     uint32
	m          uintptr
	dataOffset uint32
	reserved   [11]uint32
}

type v4l2ExportBuffer struct {
	typ      uint32
	index    uint32
	plane    uint32
	flags    uint32
	fd       int32
	reserved [11]uint32
}

// planeArray is the per-request plane storage handed to the kernel through
// v4l2Buffer.m. It is always heap allocated and owned by an Arena or queue.
type planeArray [MaxPlanes]v4l2Plane

func (p *planeArray) addr() uintptr {
	return uintptr(unsafe.Pointer(&p[0]))
}

func newRequestBuffers(typ BufType, mem Memory, count uint32) v4l2RequestBuffers {
	return v4l2RequestBuffers{
		count:        count,
		typ:          uint32(typ),
		memory:       uint32(mem),
		capabilities: 0,
		flags:        0,
		reserved:     [3]uint8{},
	}
}

// newBufferRequest builds the v4l2_buffer payload for QUERYBUF, QBUF and
// DQBUF. For multi-planar types planes must be non-nil; the kernel reads and
// writes up to MaxPlanes entries through it.
func newBufferRequest(typ BufType, mem Memory, index uint32, planes *planeArray) v4l2Buffer {
	buf := v4l2Buffer{
		index:     index,
		typ:       uint32(typ),
		bytesused: 0,
		flags:     0,
		field:     fieldAny,
		timestamp: timeval{},
		timecode:  v4l2Timecode{},
		sequence:  0,
		memory:    uint32(mem),
		m:         0,
		length:    0,
		reserved2: 0,
		requestFD: 0,
	}
	if typ.IsMultiPlanar() && planes != nil {
		buf.m = planes.addr()
		buf.length = MaxPlanes
	}
	return buf
}

func newExportBuffer(typ BufType, index, plane uint32, flags int) v4l2ExportBuffer {
	return v4l2ExportBuffer{
		typ:      uint32(typ),
		index:    index,
		plane:    plane,
		flags:    uint32(flags),
		fd:       -1,
		reserved: [11]uint32{},
	}
}

func newFormatRequest(typ BufType) v4l2Format {
	return v4l2Format{typ: uint32(typ)}
}
