//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) buffer
// API: buffer allocation, memory mapping or DMABUF export, and the
// queue/dequeue streaming protocol, plus device enumeration and format
// negotiation.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, riscv64, arm).
//
// # Streaming
//
// Open a device, negotiate a format and pull frames:
//
//	h, err := v4l2.Open("/dev/video0")
//	defer h.Close()
//	v4l2.SetFormat(h, v4l2.Format{Type: v4l2.BufTypeVideoCapture, Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
//	s, err := v4l2.NewStream(h, v4l2.BufTypeVideoCapture, 4)
//	defer s.Close()
//	for {
//	    buf, meta, err := s.Next()
//	    process(buf.Bytes(), meta.Sequence)
//	}
//
// A buffer returned by Next is re-queued by the following Next, so its bytes
// must be copied out or consumed before then. Multi-planar devices use
// NewMPlaneStream, which returns one PlaneView per plane.
//
// # Buffer memory
//
// Arena owns the device buffers of a stream. With MemoryMmap each plane is
// mapped from the device node; with MemoryDmaBuf each plane is exported as a
// DMABUF descriptor (BufferFD) that can be shared with other devices. When
// an Arena cannot return its buffers to the device on Close it panics with a
// *TeardownError, except for ENODEV, which means the device is already gone.
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
package v4l2
