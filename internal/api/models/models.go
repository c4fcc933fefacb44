package models

import (
	"github.com/smazurov/videobuf/internal/capture"
	"github.com/smazurov/videobuf/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionResponse struct {
	Body version.Info
}

// Session models
type SessionResponse struct {
	Body capture.Status
}

type SessionStopData struct {
	ID      string `json:"id" doc:"Session identifier"`
	Message string `json:"message" example:"Stop requested" doc:"Status message"`
}

type SessionStopResponse struct {
	Body SessionStopData
}

// Device models
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName   string   `json:"device_name" example:"USB Camera" doc:"Card name reported by the driver"`
	DeviceID     string   `json:"device_id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
	Caps         uint32   `json:"caps" doc:"Effective V4L2 capability bits"`
	Capabilities []string `json:"capabilities" doc:"Capability names"`
	MultiPlanar  bool     `json:"multi_planar" doc:"Captures through the multi-planar API"`
}

type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceResponse struct {
	Body DeviceData
}

type FormatInfo struct {
	PixelFormat uint32 `json:"pixel_format" example:"1448695129" doc:"V4L2 pixel format code"`
	FourCC      string `json:"fourcc" example:"YUYV" doc:"Pixel format as FourCC"`
	FormatName  string `json:"format_name" example:"YUYV 4:2:2" doc:"Driver description"`
	Emulated    bool   `json:"emulated" doc:"Format is converted in software by the driver"`
}

type DeviceFormatsData struct {
	DeviceID string       `json:"device_id" doc:"Stable device identifier"`
	Formats  []FormatInfo `json:"formats" doc:"Supported capture formats"`
}

type DeviceFormatsResponse struct {
	Body DeviceFormatsData
}

type Resolution struct {
	Width  uint32 `json:"width" example:"1920" doc:"Width in pixels"`
	Height uint32 `json:"height" example:"1080" doc:"Height in pixels"`
}

type DeviceResolutionsData struct {
	Resolutions []Resolution `json:"resolutions" doc:"Supported frame sizes"`
}

type DeviceResolutionsResponse struct {
	Body DeviceResolutionsData
}

type Framerate struct {
	Numerator   uint32  `json:"numerator" example:"1" doc:"Frame interval numerator"`
	Denominator uint32  `json:"denominator" example:"30" doc:"Frame interval denominator"`
	FPS         float64 `json:"fps" example:"30" doc:"Frames per second"`
}

type DeviceFrameratesData struct {
	Framerates []Framerate `json:"framerates" doc:"Supported frame intervals"`
}

type DeviceFrameratesResponse struct {
	Body DeviceFrameratesData
}
