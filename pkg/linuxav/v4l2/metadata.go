//go:build linux

package v4l2

import (
	"strings"
	"time"
)

// BufFlag is the v4l2_buffer flags bit set.
type BufFlag uint32

// Buffer flags reported by the device.
const (
	FlagMapped             BufFlag = 0x00000001
	FlagQueued             BufFlag = 0x00000002
	FlagDone               BufFlag = 0x00000004
	FlagKeyframe           BufFlag = 0x00000008
	FlagPFrame             BufFlag = 0x00000010
	FlagBFrame             BufFlag = 0x00000020
	FlagError              BufFlag = 0x00000040
	FlagInRequest          BufFlag = 0x00000080
	FlagTimecode           BufFlag = 0x00000100
	FlagPrepared           BufFlag = 0x00000400
	FlagTimestampMask      BufFlag = 0x0000e000
	FlagTimestampMonotonic BufFlag = 0x00002000
	FlagTimestampCopy      BufFlag = 0x00004000
	FlagLast               BufFlag = 0x00100000
)

var flagNames = []struct {
	flag BufFlag
	name string
}{
	{FlagMapped, "mapped"},
	{FlagQueued, "queued"},
	{FlagDone, "done"},
	{FlagKeyframe, "keyframe"},
	{FlagPFrame, "pframe"},
	{FlagBFrame, "bframe"},
	{FlagError, "error"},
	{FlagInRequest, "in-request"},
	{FlagTimecode, "timecode"},
	{FlagPrepared, "prepared"},
	{FlagTimestampMonotonic, "ts-monotonic"},
	{FlagTimestampCopy, "ts-copy"},
	{FlagLast, "last"},
}

// Has reports whether all bits of f2 are set.
func (f BufFlag) Has(f2 BufFlag) bool {
	return f&f2 == f2
}

func (f BufFlag) String() string {
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Clock identifies the time base of a buffer timestamp.
type Clock int

// Timestamp clocks.
const (
	ClockUnknown Clock = iota
	ClockMonotonic
	ClockCopy
)

func (c Clock) String() string {
	switch c {
	case ClockMonotonic:
		return "monotonic"
	case ClockCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// Metadata describes one dequeued buffer. It belongs to the Buffer it was
// returned with.
type Metadata struct {
	Index     uint32
	Sequence  uint32
	Timestamp time.Duration
	Flags     BufFlag
	Field     uint32
	BytesUsed []uint32 // one entry per plane
}

// Clock returns the time base of Timestamp.
func (m Metadata) Clock() Clock {
	switch m.Flags & FlagTimestampMask {
	case FlagTimestampMonotonic:
		return ClockMonotonic
	case FlagTimestampCopy:
		return ClockCopy
	default:
		return ClockUnknown
	}
}

// Errored reports whether the device flagged the frame as corrupted.
func (m Metadata) Errored() bool {
	return m.Flags.Has(FlagError)
}

// TotalBytes sums BytesUsed over all planes.
func (m Metadata) TotalBytes() uint64 {
	var n uint64
	for _, b := range m.BytesUsed {
		n += uint64(b)
	}
	return n
}

func timevalDuration(tv timeval) time.Duration {
	return time.Duration(tv.sec)*time.Second + time.Duration(tv.usec)*time.Microsecond
}
