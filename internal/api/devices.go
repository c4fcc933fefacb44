package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/videobuf/internal/api/models"
)

// ErrDeviceNotFound is returned by a DeviceLister for an unknown device ID.
var ErrDeviceNotFound = errors.New("device not found")

// ErrUnknownFormat is returned by a DeviceLister for a FourCC it cannot parse.
var ErrUnknownFormat = errors.New("unknown pixel format")

// DeviceLister enumerates capture devices and what they support.
type DeviceLister interface {
	Devices() ([]models.DeviceInfo, error)
	Formats(deviceID string) ([]models.FormatInfo, error)
	Resolutions(deviceID, fourcc string) ([]models.Resolution, error)
	Framerates(deviceID, fourcc string, width, height uint32) ([]models.Framerate, error)
}

// DevicePathInput selects a device by its stable identifier.
type DevicePathInput struct {
	DeviceID string `path:"device_id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
}

// DeviceFormatInput selects a pixel format on a device.
type DeviceFormatInput struct {
	DevicePathInput
	Format string `query:"format" required:"true" example:"YUYV" doc:"Pixel format as FourCC"`
}

// DeviceResolutionInput selects a frame size for a pixel format.
type DeviceResolutionInput struct {
	DeviceFormatInput
	Width  uint32 `query:"width" required:"true" minimum:"1" example:"1920" doc:"Width in pixels"`
	Height uint32 `query:"height" required:"true" minimum:"1" example:"1080" doc:"Height in pixels"`
}

// V4L2 capability bits (from linux/videodev2.h)
const (
	capVideoCapture       = 0x00000001
	capVideoOutput        = 0x00000002
	capVideoOverlay       = 0x00000004
	capVideoCaptureMplane = 0x00001000
	capVideoOutputMplane  = 0x00002000
	capVideoM2MMplane     = 0x00004000
	capVideoM2M           = 0x00008000
	capExtPixFormat       = 0x00200000
	capMetaCapture        = 0x00800000
	capReadWrite          = 0x01000000
	capStreaming          = 0x04000000
	capIOMC               = 0x20000000
)

var capabilityNames = map[uint32]string{
	capVideoCapture:       "Video Capture",
	capVideoOutput:        "Video Output",
	capVideoOverlay:       "Video Overlay",
	capVideoCaptureMplane: "Multi-planar Video Capture",
	capVideoOutputMplane:  "Multi-planar Video Output",
	capVideoM2MMplane:     "Multi-planar Memory-to-Memory",
	capVideoM2M:           "Memory-to-Memory",
	capExtPixFormat:       "Extended Pixel Format",
	capMetaCapture:        "Metadata Capture",
	capReadWrite:          "Read/Write I/O",
	capStreaming:          "Streaming I/O",
	capIOMC:               "Media Controller I/O",
}

// translateCapabilities names the set bits of caps in ascending bit order.
func translateCapabilities(caps uint32) []string {
	flags := make([]uint32, 0, len(capabilityNames))
	for flag := range capabilityNames {
		if caps&flag != 0 {
			flags = append(flags, flag)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })

	names := make([]string, len(flags))
	for i, flag := range flags {
		names[i] = capabilityNames[flag]
	}
	return names
}

// mapDeviceError turns lister errors into API errors.
func mapDeviceError(msg string, err error) error {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return huma.Error404NotFound("Device not found", err)
	case errors.Is(err, ErrUnknownFormat):
		return huma.Error400BadRequest("Invalid pixel format", err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

// registerDeviceRoutes registers all device-related endpoints
func (s *Server) registerDeviceRoutes() {
	lister := s.devices

	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List V4L2 video capture devices",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct{}) (*models.DeviceResponse, error) {
		devices, err := lister.Devices()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get devices", err)
		}
		for i := range devices {
			devices[i].Capabilities = translateCapabilities(devices[i].Caps)
		}
		return &models.DeviceResponse{
			Body: models.DeviceData{Devices: devices, Count: len(devices)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-formats",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/formats",
		Summary:     "Formats",
		Description: "List capture formats of a device",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500},
	}, func(ctx context.Context, input *DevicePathInput) (*models.DeviceFormatsResponse, error) {
		formats, err := lister.Formats(input.DeviceID)
		if err != nil {
			return nil, mapDeviceError("Failed to get device formats", err)
		}
		return &models.DeviceFormatsResponse{
			Body: models.DeviceFormatsData{DeviceID: input.DeviceID, Formats: formats},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-resolutions",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/resolutions",
		Summary:     "Resolutions",
		Description: "List frame sizes supported for a pixel format",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *DeviceFormatInput) (*models.DeviceResolutionsResponse, error) {
		resolutions, err := lister.Resolutions(input.DeviceID, input.Format)
		if err != nil {
			return nil, mapDeviceError("Failed to get device resolutions", err)
		}
		return &models.DeviceResolutionsResponse{
			Body: models.DeviceResolutionsData{Resolutions: resolutions},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "device-framerates",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/framerates",
		Summary:     "Framerates",
		Description: "List frame intervals supported for a pixel format and frame size",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 500},
	}, func(ctx context.Context, input *DeviceResolutionInput) (*models.DeviceFrameratesResponse, error) {
		framerates, err := lister.Framerates(input.DeviceID, input.Format, input.Width, input.Height)
		if err != nil {
			return nil, mapDeviceError("Failed to get device framerates", err)
		}
		return &models.DeviceFrameratesResponse{
			Body: models.DeviceFrameratesData{Framerates: framerates},
		}, nil
	})
}
