//go:build linux

package v4l2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"
	"unsafe"
)

// PlaneFormat is the negotiated layout of one plane.
type PlaneFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
}

// Format is the negotiated image format of one buffer type. Single-planar
// formats always carry exactly one plane.
type Format struct {
	Type        BufType
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Field       uint32
	Colorspace  uint32
	Planes      []PlaneFormat
}

// NumPlanes returns the number of planes per buffer.
func (f Format) NumPlanes() int {
	return len(f.Planes)
}

// SizeImage returns the summed maximum size of all planes.
func (f Format) SizeImage() uint32 {
	var n uint32
	for _, p := range f.Planes {
		n += p.SizeImage
	}
	return n
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s planes=%d", f.Width, f.Height, FormatFourCC(f.PixelFormat), len(f.Planes))
}

// Offsets inside v4l2_format.fmt.
const (
	pixWidth        = 0
	pixHeight       = 4
	pixPixelformat  = 8
	pixField        = 12
	pixBytesperline = 16
	pixSizeimage    = 20
	pixColorspace   = 24

	mpColorspace = 16
	mpPlaneFmt   = 20
	mpPlaneSize  = 20
	mpNumPlanes  = 180
)

func decodeFormat(raw *v4l2Format) (Format, error) {
	typ := BufType(raw.typ)
	b := raw.fmt[:]
	ne := binary.NativeEndian
	f := Format{
		Type:        typ,
		Width:       ne.Uint32(b[pixWidth:]),
		Height:      ne.Uint32(b[pixHeight:]),
		PixelFormat: ne.Uint32(b[pixPixelformat:]),
		Field:       ne.Uint32(b[pixField:]),
	}
	if !typ.IsMultiPlanar() {
		f.Colorspace = ne.Uint32(b[pixColorspace:])
		f.Planes = []PlaneFormat{{
			SizeImage:    ne.Uint32(b[pixSizeimage:]),
			BytesPerLine: ne.Uint32(b[pixBytesperline:]),
		}}
		return f, nil
	}

	f.Colorspace = ne.Uint32(b[mpColorspace:])
	n := int(b[mpNumPlanes])
	if n > MaxPlanes {
		return Format{}, fmt.Errorf("%w: format reports %d planes", ErrPlaneCount, n)
	}
	f.Planes = make([]PlaneFormat, n)
	for i := range f.Planes {
		off := mpPlaneFmt + i*mpPlaneSize
		f.Planes[i] = PlaneFormat{
			SizeImage:    ne.Uint32(b[off:]),
			BytesPerLine: ne.Uint32(b[off+4:]),
		}
	}
	return f, nil
}

func encodeFormat(f Format) (v4l2Format, error) {
	raw := newFormatRequest(f.Type)
	b := raw.fmt[:]
	ne := binary.NativeEndian
	ne.PutUint32(b[pixWidth:], f.Width)
	ne.PutUint32(b[pixHeight:], f.Height)
	ne.PutUint32(b[pixPixelformat:], f.PixelFormat)
	ne.PutUint32(b[pixField:], f.Field)

	if !f.Type.IsMultiPlanar() {
		if len(f.Planes) > 1 {
			return raw, fmt.Errorf("%w: single-planar format with %d planes", ErrPlaneCount, len(f.Planes))
		}
		ne.PutUint32(b[pixColorspace:], f.Colorspace)
		if len(f.Planes) == 1 {
			ne.PutUint32(b[pixBytesperline:], f.Planes[0].BytesPerLine)
			ne.PutUint32(b[pixSizeimage:], f.Planes[0].SizeImage)
		}
		return raw, nil
	}

	if len(f.Planes) > MaxPlanes {
		return raw, fmt.Errorf("%w: %d planes requested", ErrPlaneCount, len(f.Planes))
	}
	ne.PutUint32(b[mpColorspace:], f.Colorspace)
	for i, p := range f.Planes {
		off := mpPlaneFmt + i*mpPlaneSize
		ne.PutUint32(b[off:], p.SizeImage)
		ne.PutUint32(b[off+4:], p.BytesPerLine)
	}
	b[mpNumPlanes] = uint8(len(f.Planes))
	return raw, nil
}

// GetFormat queries the current format of a buffer type (VIDIOC_G_FMT).
func GetFormat(h *Handle, typ BufType) (Format, error) {
	if !typ.Valid() {
		return Format{}, ErrBufType
	}
	raw := newFormatRequest(typ)
	if err := h.ioctl("VIDIOC_G_FMT", vidiocGFmt, unsafe.Pointer(&raw)); err != nil {
		return Format{}, err
	}
	return decodeFormat(&raw)
}

// SetFormat negotiates a format (VIDIOC_S_FMT) and returns what the driver
// chose, which may differ from the request. Changing the format of a buffer
// type that is currently streaming is not allowed.
func SetFormat(h *Handle, f Format) (Format, error) {
	if !f.Type.Valid() {
		return Format{}, ErrBufType
	}
	raw, err := encodeFormat(f)
	if err != nil {
		return Format{}, err
	}
	if err := h.ioctl("VIDIOC_S_FMT", vidiocSFmt, unsafe.Pointer(&raw)); err != nil {
		return Format{}, err
	}
	return decodeFormat(&raw)
}

func newFmtdesc(typ BufType, index uint32) v4l2Fmtdesc {
	return v4l2Fmtdesc{
		index:       index,
		typ:         uint32(typ),
		flags:       0,
		description: [32]byte{},
		pixelformat: 0,
		mbusCode:    0,
		reserved:    [3]uint32{},
	}
}

func newFrmsizeenum(index, pixelFormat uint32) v4l2Frmsizeenum {
	return v4l2Frmsizeenum{
		index:       index,
		pixelFormat: pixelFormat,
		typ:         0,
		discrete:    v4l2FrmsizeDiscrete{},
		reserved:    [2]uint32{},
	}
}

func newFrmivalenum(index, pixelFormat, width, height uint32) v4l2Frmivalenum {
	return v4l2Frmivalenum{
		index:       index,
		pixelFormat: pixelFormat,
		width:       width,
		height:      height,
		typ:         0,
		discrete:    v4l2Fract{},
		reserved:    [2]uint32{},
	}
}

// GetFormats returns all supported pixel formats of a buffer type.
func GetFormats(h *Handle, typ BufType) ([]FormatInfo, error) {
	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := newFmtdesc(typ, i)

		if ioctlErr := h.Control(vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, &IoctlError{Op: "VIDIOC_ENUM_FMT", Err: ioctlErr})
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// GetResolutions returns all supported resolutions for a pixel format.
func GetResolutions(h *Handle, pixelFormat uint32) ([]Resolution, error) {
	var resolutions []Resolution

	for i := uint32(0); ; i++ {
		frmsize := newFrmsizeenum(i, pixelFormat)

		if ioctlErr := h.Control(vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(ioctlErr, syscall.ENOTTY) {
				return []Resolution{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, &IoctlError{Op: "VIDIOC_ENUM_FRAMESIZES", Err: ioctlErr})
		}

		switch frmsize.typ {
		case frmsizeTypeDiscrete:
			resolutions = append(resolutions, Resolution{
				Width:  frmsize.discrete.width,
				Height: frmsize.discrete.height,
			})
		case frmsizeTypeContinuous, frmsizeTypeStepwise:
			// Only one stepwise entry is ever reported
			return append(resolutions, stepwiseResolutions(&frmsize)...), nil
		}
	}

	return resolutions, nil
}

// GetFramerates returns all supported framerates for a format and resolution.
func GetFramerates(h *Handle, pixelFormat uint32, width, height uint32) ([]Framerate, error) {
	var framerates []Framerate

	for i := uint32(0); ; i++ {
		frmival := newFrmivalenum(i, pixelFormat, width, height)

		if ioctlErr := h.Control(vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); ioctlErr != nil {
			if errors.Is(ioctlErr, syscall.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, &IoctlError{Op: "VIDIOC_ENUM_FRAMEINTERVALS", Err: ioctlErr})
		}

		switch frmival.typ {
		case frmivalTypeDiscrete:
			framerates = append(framerates, Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			})
		case frmivalTypeContinuous, frmivalTypeStepwise:
			return append(framerates, commonFramerates()...), nil
		}
	}

	return framerates, nil
}

var commonResolutions = [][2]uint32{
	{320, 240},
	{640, 480},
	{800, 600},
	{1024, 768},
	{1280, 720},
	{1280, 960},
	{1280, 1024},
	{1920, 1080},
	{1920, 1200},
	{2560, 1440},
	{3840, 2160},
	{4096, 2160},
}

// stepwiseResolutions returns the common resolutions inside a stepwise range.
func stepwiseResolutions(frmsize *v4l2Frmsizeenum) []Resolution {
	// stepwise overlays discrete in the union
	stepwise := (*v4l2FrmsizeStepwise)(unsafe.Pointer(&frmsize.discrete))

	var resolutions []Resolution
	for _, res := range commonResolutions {
		w, h := res[0], res[1]
		if w >= stepwise.minWidth && w <= stepwise.maxWidth &&
			h >= stepwise.minHeight && h <= stepwise.maxHeight {
			resolutions = append(resolutions, Resolution{Width: w, Height: h})
		}
	}
	return resolutions
}

func commonFramerates() []Framerate {
	return []Framerate{
		{1, 60},
		{1, 50},
		{1, 30},
		{1, 25},
		{1, 20},
		{1, 15},
		{1, 10},
		{1, 5},
	}
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := []byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	}
	return string(b)
}

// FourCC packs a four character code such as "YUYV" into a pixel format.
// Shorter codes are padded with spaces.
func FourCC(code string) (uint32, error) {
	if len(code) == 0 || len(code) > 4 {
		return 0, fmt.Errorf("invalid fourcc %q", code)
	}
	b := [4]byte{' ', ' ', ' ', ' '}
	copy(b[:], code)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}
