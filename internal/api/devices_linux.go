//go:build linux

package api

import (
	"fmt"

	"github.com/smazurov/videobuf/internal/api/models"
	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
)

// V4L2Lister answers device queries by opening the device nodes.
type V4L2Lister struct{}

// NewV4L2Lister returns a DeviceLister backed by the running kernel.
func NewV4L2Lister() *V4L2Lister {
	return &V4L2Lister{}
}

// Devices lists capture devices.
func (V4L2Lister) Devices() ([]models.DeviceInfo, error) {
	found, err := v4l2.FindDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]models.DeviceInfo, len(found))
	for i, d := range found {
		devices[i] = models.DeviceInfo{
			DevicePath:  d.DevicePath,
			DeviceName:  d.DeviceName,
			DeviceID:    d.DeviceID,
			Caps:        d.Caps,
			MultiPlanar: d.MultiPlanar(),
		}
	}
	return devices, nil
}

// Formats lists the pixel formats of the device's capture queue.
func (l V4L2Lister) Formats(deviceID string) ([]models.FormatInfo, error) {
	var formats []models.FormatInfo
	err := l.withDevice(deviceID, func(h *v4l2.Handle, typ v4l2.BufType) error {
		found, err := v4l2.GetFormats(h, typ)
		if err != nil {
			return err
		}
		formats = make([]models.FormatInfo, len(found))
		for i, f := range found {
			formats[i] = models.FormatInfo{
				PixelFormat: f.PixelFormat,
				FourCC:      v4l2.FormatFourCC(f.PixelFormat),
				FormatName:  f.FormatName,
				Emulated:    f.Emulated,
			}
		}
		return nil
	})
	return formats, err
}

// Resolutions lists frame sizes for a pixel format.
func (l V4L2Lister) Resolutions(deviceID, fourcc string) ([]models.Resolution, error) {
	pixfmt, err := parseFourCC(fourcc)
	if err != nil {
		return nil, err
	}
	var resolutions []models.Resolution
	err = l.withDevice(deviceID, func(h *v4l2.Handle, _ v4l2.BufType) error {
		found, err := v4l2.GetResolutions(h, pixfmt)
		if err != nil {
			return err
		}
		resolutions = make([]models.Resolution, len(found))
		for i, r := range found {
			resolutions[i] = models.Resolution{Width: r.Width, Height: r.Height}
		}
		return nil
	})
	return resolutions, err
}

// Framerates lists frame intervals for a pixel format and frame size.
func (l V4L2Lister) Framerates(deviceID, fourcc string, width, height uint32) ([]models.Framerate, error) {
	pixfmt, err := parseFourCC(fourcc)
	if err != nil {
		return nil, err
	}
	var framerates []models.Framerate
	err = l.withDevice(deviceID, func(h *v4l2.Handle, _ v4l2.BufType) error {
		found, err := v4l2.GetFramerates(h, pixfmt, width, height)
		if err != nil {
			return err
		}
		framerates = make([]models.Framerate, len(found))
		for i, r := range found {
			framerates[i] = models.Framerate{
				Numerator:   r.Numerator,
				Denominator: r.Denominator,
				FPS:         r.FPS(),
			}
		}
		return nil
	})
	return framerates, err
}

func (V4L2Lister) withDevice(deviceID string, fn func(*v4l2.Handle, v4l2.BufType) error) error {
	found, err := v4l2.FindDevices()
	if err != nil {
		return err
	}
	var path string
	for _, d := range found {
		if d.DeviceID == deviceID {
			path = d.DevicePath
			break
		}
	}
	if path == "" {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	h, err := v4l2.Open(path)
	if err != nil {
		return err
	}
	defer h.Close()

	caps, err := v4l2.QueryCapabilities(h)
	if err != nil {
		return err
	}
	typ, ok := caps.CaptureType()
	if !ok {
		return fmt.Errorf("%w: %s is not a capture device", ErrDeviceNotFound, path)
	}
	return fn(h, typ)
}

func parseFourCC(code string) (uint32, error) {
	pixfmt, err := v4l2.FourCC(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	return pixfmt, nil
}
