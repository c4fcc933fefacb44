//go:build linux

package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/videobuf/internal/api/models"
	"github.com/smazurov/videobuf/internal/capture"
	"github.com/smazurov/videobuf/internal/events"
	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

func TestPrintFrame(t *testing.T) {
	var buf bytes.Buffer
	printFrame(&buf, capture.Frame{
		Meta: v4l2.Metadata{
			Index:     2,
			Sequence:  41,
			Timestamp: 1500 * time.Millisecond,
			Flags:     v4l2.FlagDone | v4l2.FlagKeyframe | v4l2.FlagTimestampMonotonic,
			BytesUsed: []uint32{100, 50},
		},
		Planes: [][]byte{make([]byte, 100), make([]byte, 50)},
	})

	want := "seq=41 index=2 bytes=150 planes=2 ts=1.5s clock=monotonic flags=done|keyframe|ts-monotonic\n"
	if buf.String() != want {
		t.Errorf("printFrame() = %q, want %q", buf.String(), want)
	}
}

func newCaptureCmd(t *testing.T, configPath string, args ...string) (*cobra.Command, *CaptureOptions) {
	t.Helper()
	var opts CaptureOptions
	c := &cobra.Command{Use: "capture"}
	c.Flags().String("config", configPath, "")
	bindCaptureFlags(c, &opts)
	if err := c.Flags().Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return c, &opts
}

func TestLoadCaptureOptionsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[capture]
device = "/dev/video2"
buffers = 6
memory = "dmabuf"
poll_timeout = "50ms"
pixel_format = "NV12"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIDEOBUF_CAPTURE_BUFFERS", "10")
	t.Setenv("VIDEOBUF_CAPTURE_PIXEL_FORMAT", "YUYV")

	c, opts := newCaptureCmd(t, path, "--pixel-format", "MJPG", "--frames", "5")
	if err := loadCaptureOptions(c, opts); err != nil {
		t.Fatalf("loadCaptureOptions() error = %v", err)
	}

	cfg := opts.captureConfig()
	tests := []struct {
		name string
		got  any
		want any
	}{
		{name: "device from file", got: cfg.Device, want: "/dev/video2"},
		{name: "buffers from env", got: cfg.Buffers, want: 10},
		{name: "memory from file", got: cfg.Memory, want: "dmabuf"},
		{name: "poll timeout from file", got: cfg.PollTimeout, want: 50 * time.Millisecond},
		{name: "pixel format from flag", got: cfg.PixelFormat, want: "MJPG"},
		{name: "frames from flag", got: cfg.Frames, want: uint64(5)},
		{name: "width default", got: cfg.Width, want: uint32(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadCaptureOptionsMissingFile(t *testing.T) {
	c, opts := newCaptureCmd(t, filepath.Join(t.TempDir(), "absent.toml"))
	if err := loadCaptureOptions(c, opts); err != nil {
		t.Fatalf("loadCaptureOptions() error = %v", err)
	}
	if opts.Device != "/dev/video0" || opts.Buffers != 4 || opts.Frames != 30 {
		t.Errorf("defaults = %+v", opts)
	}
}

type stubLister struct {
	devices   []models.DeviceInfo
	formats   map[string][]models.FormatInfo
	devErr    error
	formatErr error
}

func (s stubLister) Devices() ([]models.DeviceInfo, error) { return s.devices, s.devErr }

func (s stubLister) Formats(id string) ([]models.FormatInfo, error) {
	if s.formatErr != nil {
		return nil, s.formatErr
	}
	return s.formats[id], nil
}

func (s stubLister) Resolutions(string, string) ([]models.Resolution, error) { return nil, nil }

func (s stubLister) Framerates(string, string, uint32, uint32) ([]models.Framerate, error) {
	return nil, nil
}

func TestCollectAndPrintDevices(t *testing.T) {
	lister := stubLister{
		devices: []models.DeviceInfo{
			{DevicePath: "/dev/video0", DeviceName: "Webcam", DeviceID: "usb-cam-video-index0"},
			{DevicePath: "/dev/video11", DeviceName: "ISP", DeviceID: "platform-isp-video-index0", MultiPlanar: true},
		},
		formats: map[string][]models.FormatInfo{
			"usb-cam-video-index0":      {{FourCC: "YUYV"}, {FourCC: "MJPG"}},
			"platform-isp-video-index0": {{FourCC: "NM12"}, {FourCC: "RGB3", Emulated: true}},
		},
	}

	reports, err := collectDevices(lister)
	if err != nil {
		t.Fatalf("collectDevices() error = %v", err)
	}
	if len(reports) != 2 || len(reports[1].Formats) != 2 {
		t.Fatalf("reports = %+v", reports)
	}

	var buf bytes.Buffer
	printDevices(&buf, reports)
	out := buf.String()
	for _, want := range []string{"PATH", "/dev/video0", "YUYV,MJPG", "multi", "NM12,RGB3*"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	data, err := json.Marshal(reports[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"device_path":"/dev/video0"`) || !strings.Contains(string(data), `"formats"`) {
		t.Errorf("JSON = %s", data)
	}
}

func TestCollectDevicesErrors(t *testing.T) {
	boom := errors.New("sysfs unavailable")
	if _, err := collectDevices(stubLister{devErr: boom}); !errors.Is(err, boom) {
		t.Errorf("collectDevices() error = %v, want %v", err, boom)
	}

	reports, err := collectDevices(stubLister{
		devices:   []models.DeviceInfo{{DevicePath: "/dev/video0", DeviceID: "x"}},
		formatErr: errors.New("EBUSY"),
	})
	if err != nil || len(reports) != 1 || reports[0].Formats != nil {
		t.Errorf("collectDevices() = %+v, %v; want device without formats", reports, err)
	}

	var buf bytes.Buffer
	printDevices(&buf, nil)
	if !strings.Contains(buf.String(), "No capture devices") {
		t.Errorf("empty output = %q", buf.String())
	}
	if got := fourccList(nil); got != "-" {
		t.Errorf("fourccList(nil) = %q, want -", got)
	}
}

func TestVersionCmd(t *testing.T) {
	c := CreateVersionCmd()
	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetArgs([]string{"--json"})
	if err := c.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("output %q: %v", buf.String(), err)
	}
	if info["version"] == nil || info["platform"] == nil {
		t.Errorf("info = %v", info)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogEvents(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bus := events.New()
	unsub := logEvents(bus, logger)

	bus.Publish(events.StreamStartedEvent{SessionID: "s1", DevicePath: "/dev/video0", Slots: 4})
	bus.Publish(events.FrameDroppedEvent{SessionID: "s1", Sequence: 9, Missed: 3})
	bus.Publish(events.StreamStoppedEvent{SessionID: "s1", Reason: capture.ReasonError, Error: "EIO"})
	bus.Publish(events.DeviceRemovedEvent{DevicePath: "/dev/video0", DevName: "video0"})

	wants := []string{"Stream started", "Frames dropped", "Stream stopped", "error=EIO", "Device removed"}
	deadline := time.Now().Add(2 * time.Second)
	for _, want := range wants {
		for !strings.Contains(out.String(), want) {
			if time.Now().After(deadline) {
				t.Fatalf("log missing %q:\n%s", want, out.String())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	unsub()
}

func TestServiceStatusBeforeRun(t *testing.T) {
	s := &Service{cfg: ServeConfig{Capture: capture.Config{Device: "/dev/video3"}}}
	got := s.Status()
	if got.State != capture.StateIdle || got.Device != "/dev/video3" {
		t.Errorf("Status() = %+v", got)
	}

	// A stop before Run is remembered.
	s.Stop()
	if !s.stopRequested {
		t.Error("stopRequested = false after Stop")
	}
}
