//go:build linux

package v4l2

import "fmt"

// BufType selects the buffer queue of a device: direction and planarity.
type BufType uint32

// Buffer-set types handled by Arena and the streams.
const (
	BufTypeVideoCapture       BufType = 1
	BufTypeVideoOutput        BufType = 2
	BufTypeVideoCaptureMplane BufType = 9
	BufTypeVideoOutputMplane  BufType = 10
)

// IsMultiPlanar reports whether buffers of this type carry a plane array.
func (t BufType) IsMultiPlanar() bool {
	return t == BufTypeVideoCaptureMplane || t == BufTypeVideoOutputMplane
}

// IsOutput reports whether the application fills buffers of this type.
func (t BufType) IsOutput() bool {
	return t == BufTypeVideoOutput || t == BufTypeVideoOutputMplane
}

// Valid reports whether t is one of the four supported buffer types.
func (t BufType) Valid() bool {
	switch t {
	case BufTypeVideoCapture, BufTypeVideoOutput, BufTypeVideoCaptureMplane, BufTypeVideoOutputMplane:
		return true
	}
	return false
}

func (t BufType) String() string {
	switch t {
	case BufTypeVideoCapture:
		return "video-capture"
	case BufTypeVideoOutput:
		return "video-output"
	case BufTypeVideoCaptureMplane:
		return "video-capture-mplane"
	case BufTypeVideoOutputMplane:
		return "video-output-mplane"
	default:
		return fmt.Sprintf("buf-type(%d)", uint32(t))
	}
}

// Memory is the backing strategy of a buffer queue.
type Memory uint32

// Memory types. Only MemoryMmap and MemoryDmaBuf can back an Arena.
const (
	MemoryMmap    Memory = 1
	MemoryUserPtr Memory = 2
	MemoryDmaBuf  Memory = 4
)

func (m Memory) String() string {
	switch m {
	case MemoryMmap:
		return "mmap"
	case MemoryUserPtr:
		return "userptr"
	case MemoryDmaBuf:
		return "dmabuf"
	default:
		return fmt.Sprintf("memory(%d)", uint32(m))
	}
}

// ParseMemory converts a configuration string ("mmap", "dmabuf") to a Memory.
func ParseMemory(s string) (Memory, error) {
	switch s {
	case "mmap", "":
		return MemoryMmap, nil
	case "dmabuf":
		return MemoryDmaBuf, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrMemory, s)
	}
}

// SlotState is the ownership state of one buffer slot in a stream.
type SlotState int

// Slot states. A slot cycles Queued -> Filled -> Held -> Queued while
// streaming and is Free when no party owns it.
const (
	SlotFree SlotState = iota
	SlotQueued
	SlotFilled
	SlotHeld
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotQueued:
		return "queued"
	case SlotFilled:
		return "filled"
	case SlotHeld:
		return "held"
	default:
		return fmt.Sprintf("slot-state(%d)", int(s))
	}
}

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// MultiPlanar reports whether the device captures through the mplane API.
func (d DeviceInfo) MultiPlanar() bool {
	return d.Caps&CapVideoCaptureMplane != 0 && d.Caps&CapVideoCapture == 0
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtHEVC  = 0x43564548 // 'HEVC'
	PixFmtNV12  = 0x3231564E // 'NV12'
	PixFmtNV12M = 0x32314D4E // 'NM12', two non-contiguous planes
)
