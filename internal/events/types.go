package events

// Event type constants for kelindar/event.
const (
	TypeStreamStarted uint32 = iota + 1
	TypeStreamStopped
	TypeDeviceRemoved
	TypeFrameDropped
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamStartedEvent is published once a capture session is streaming.
type StreamStartedEvent struct {
	SessionID  string `json:"session_id" example:"0b6f8c3e-5d0c-4c1e-9a55-2f1f3f0d2b44" doc:"Capture session identifier"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Format     string `json:"format" example:"640x480 YUYV planes=1" doc:"Negotiated format"`
	Memory     string `json:"memory" example:"mmap" doc:"Buffer memory type"`
	Slots      int    `json:"slots" example:"4" doc:"Number of buffers granted by the driver"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStartedEvent.
func (e StreamStartedEvent) Type() uint32 { return TypeStreamStarted }

// StreamStoppedEvent is published when a capture session ends for any
// reason.
type StreamStoppedEvent struct {
	SessionID  string `json:"session_id" doc:"Capture session identifier"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Frames     uint64 `json:"frames" example:"300" doc:"Frames dequeued during the session"`
	Reason     string `json:"reason" example:"canceled" doc:"Why the session stopped: canceled, removed, completed, error"`
	Error      string `json:"error,omitempty" doc:"Error that ended the session"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for StreamStoppedEvent.
func (e StreamStoppedEvent) Type() uint32 { return TypeStreamStopped }

// DeviceRemovedEvent is published when the device node of a running
// session disappears.
type DeviceRemovedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	DevName    string `json:"dev_name" example:"video0" doc:"Kernel device node name"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceRemovedEvent.
func (e DeviceRemovedEvent) Type() uint32 { return TypeDeviceRemoved }

// FrameDroppedEvent reports a gap in the driver's frame sequence numbers.
type FrameDroppedEvent struct {
	SessionID  string `json:"session_id" doc:"Capture session identifier"`
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Sequence   uint32 `json:"sequence" example:"120" doc:"Sequence number of the frame after the gap"`
	Missed     uint32 `json:"missed" example:"2" doc:"Frames missing before it"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }
