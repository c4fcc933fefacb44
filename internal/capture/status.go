package capture

import "time"

// Stop reasons reported in Status and StreamStoppedEvent.
const (
	ReasonCanceled  = "canceled"
	ReasonRemoved   = "removed"
	ReasonCompleted = "completed"
	ReasonError     = "error"
)

// Session states.
const (
	StateIdle      = "idle"
	StateStreaming = "streaming"
	StateStopped   = "stopped"
)

// Status is a snapshot of a session.
type Status struct {
	ID         string    `json:"id" doc:"Session identifier"`
	Device     string    `json:"device" example:"/dev/video0" doc:"Device path"`
	State      string    `json:"state" enum:"idle,streaming,stopped" doc:"Session state"`
	BufType    string    `json:"buf_type,omitempty" example:"video-capture" doc:"V4L2 buffer type"`
	Format     string    `json:"format,omitempty" example:"640x480 YUYV planes=1" doc:"Negotiated format"`
	Memory     string    `json:"memory,omitempty" example:"mmap" doc:"Buffer memory type"`
	Slots      int       `json:"slots" doc:"Buffers granted by the driver"`
	Frames     uint64    `json:"frames" doc:"Frames dequeued"`
	Bytes      uint64    `json:"bytes" doc:"Payload bytes dequeued"`
	Dropped    uint64    `json:"dropped" doc:"Frames missing from the sequence numbering"`
	Sequence   uint32    `json:"sequence" doc:"Sequence number of the last frame"`
	StartedAt  time.Time `json:"started_at,omitzero" doc:"When streaming started"`
	StoppedAt  time.Time `json:"stopped_at,omitzero" doc:"When the session stopped"`
	StopReason string    `json:"stop_reason,omitempty" enum:"canceled,removed,completed,error" doc:"Why the session stopped"`
	Error      string    `json:"error,omitempty" doc:"Error that ended the session"`
}
