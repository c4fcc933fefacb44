package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/smazurov/videobuf/internal/api/models"
	"github.com/smazurov/videobuf/internal/capture"
)

type fakeSession struct {
	status capture.Status
	stops  atomic.Int32
}

func (f *fakeSession) Status() capture.Status { return f.status }
func (f *fakeSession) Stop()                  { f.stops.Add(1) }

type fakeLister struct {
	devices []models.DeviceInfo
	formats map[string][]models.FormatInfo

	gotFourCC string
	gotWidth  uint32
	gotHeight uint32
}

func (f *fakeLister) Devices() ([]models.DeviceInfo, error) {
	return append([]models.DeviceInfo(nil), f.devices...), nil
}

func (f *fakeLister) Formats(deviceID string) ([]models.FormatInfo, error) {
	formats, ok := f.formats[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return formats, nil
}

func (f *fakeLister) Resolutions(deviceID, fourcc string) ([]models.Resolution, error) {
	if _, ok := f.formats[deviceID]; !ok {
		return nil, ErrDeviceNotFound
	}
	if len(fourcc) > 4 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, fourcc)
	}
	f.gotFourCC = fourcc
	return []models.Resolution{{Width: 640, Height: 480}, {Width: 1280, Height: 720}}, nil
}

func (f *fakeLister) Framerates(deviceID, fourcc string, width, height uint32) ([]models.Framerate, error) {
	if _, ok := f.formats[deviceID]; !ok {
		return nil, ErrDeviceNotFound
	}
	f.gotFourCC, f.gotWidth, f.gotHeight = fourcc, width, height
	return []models.Framerate{{Numerator: 1, Denominator: 30, FPS: 30}}, nil
}

func newFakeLister() *fakeLister {
	return &fakeLister{
		devices: []models.DeviceInfo{{
			DevicePath: "/dev/video0",
			DeviceName: "Fake Camera",
			DeviceID:   "usb-fake-video-index0",
			Caps:       capVideoCapture | capStreaming | capExtPixFormat,
		}},
		formats: map[string][]models.FormatInfo{
			"usb-fake-video-index0": {{PixelFormat: 0x56595559, FourCC: "YUYV", FormatName: "YUYV 4:2:2"}},
		},
	}
}

func do(t *testing.T, s *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.GetMux().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func basic(user, pass string) http.Header {
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	return http.Header{"Authorization": {"Basic " + token}}
}

func TestHealthAndVersion(t *testing.T) {
	s := NewServer(&Options{AuthUsername: "admin", AuthPassword: "secret"})

	rec := do(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
	if got := decode[models.HealthData](t, rec); got.Status != "ok" {
		t.Errorf("health = %+v", got)
	}

	rec = do(t, s, http.MethodGet, "/api/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version status = %d, want 200", rec.Code)
	}
	if got := decode[map[string]any](t, rec); got["version"] == "" || got["go_version"] == nil {
		t.Errorf("version = %v", got)
	}
}

func TestSessionRoutes(t *testing.T) {
	session := &fakeSession{status: capture.Status{
		ID:      "c0ffee",
		Device:  "/dev/video0",
		State:   capture.StateStreaming,
		BufType: "video-capture",
		Memory:  "mmap",
		Slots:   4,
		Frames:  120,
		Dropped: 2,
	}}
	s := NewServer(&Options{Session: session})

	rec := do(t, s, http.MethodGet, "/api/session", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/session = %d, want 200: %s", rec.Code, rec.Body)
	}
	got := decode[capture.Status](t, rec)
	if got.ID != "c0ffee" || got.Frames != 120 || got.Slots != 4 || got.Dropped != 2 {
		t.Errorf("status = %+v", got)
	}
	if strings.Contains(rec.Body.String(), "stopped_at") {
		t.Errorf("zero stopped_at serialized: %s", rec.Body)
	}

	rec = do(t, s, http.MethodPost, "/api/session/stop", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/session/stop = %d, want 202: %s", rec.Code, rec.Body)
	}
	if session.stops.Load() != 1 {
		t.Errorf("Stop called %d times, want 1", session.stops.Load())
	}

	session.status.State = capture.StateStopped
	rec = do(t, s, http.MethodPost, "/api/session/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("stop of stopped session = %d, want 409", rec.Code)
	}
	if session.stops.Load() != 1 {
		t.Errorf("Stop called on stopped session")
	}
}

func TestSessionUnavailable(t *testing.T) {
	s := NewServer(&Options{})

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		target := "/api/session"
		if method == http.MethodPost {
			target += "/stop"
		}
		if rec := do(t, s, method, target, nil); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", method, target, rec.Code)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	s := NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Session:      &fakeSession{status: capture.Status{State: capture.StateIdle}},
	})

	tests := []struct {
		name   string
		header http.Header
		want   int
	}{
		{name: "no header", header: nil, want: http.StatusUnauthorized},
		{name: "bearer", header: http.Header{"Authorization": {"Bearer abc"}}, want: http.StatusUnauthorized},
		{name: "bad base64", header: http.Header{"Authorization": {"Basic !!!"}}, want: http.StatusUnauthorized},
		{name: "wrong password", header: basic("admin", "nope"), want: http.StatusUnauthorized},
		{name: "valid", header: basic("admin", "secret"), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, "/api/session", tt.header)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != authRealm {
				t.Errorf("WWW-Authenticate = %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestParseBasicAuth(t *testing.T) {
	tests := []struct {
		header      string
		user, pass  string
		wantProblem bool
	}{
		{header: "", wantProblem: true},
		{header: "Digest x", wantProblem: true},
		{header: "Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")), wantProblem: true},
		{header: "Basic " + base64.StdEncoding.EncodeToString([]byte("a:b:c")), user: "a", pass: "b:c"},
		{header: "Basic " + base64.StdEncoding.EncodeToString([]byte(":")), user: "", pass: ""},
	}

	for _, tt := range tests {
		user, pass, problem := parseBasicAuth(tt.header)
		if (problem != "") != tt.wantProblem {
			t.Errorf("parseBasicAuth(%q) problem = %q, wantProblem %v", tt.header, problem, tt.wantProblem)
			continue
		}
		if user != tt.user || pass != tt.pass {
			t.Errorf("parseBasicAuth(%q) = %q, %q, want %q, %q", tt.header, user, pass, tt.user, tt.pass)
		}
	}
}

func TestDeviceRoutes(t *testing.T) {
	lister := newFakeLister()
	s := NewServer(&Options{Devices: lister})

	rec := do(t, s, http.MethodGet, "/api/devices", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/devices = %d: %s", rec.Code, rec.Body)
	}
	data := decode[models.DeviceData](t, rec)
	if data.Count != 1 || len(data.Devices) != 1 {
		t.Fatalf("devices = %+v", data)
	}
	wantCaps := []string{"Video Capture", "Extended Pixel Format", "Streaming I/O"}
	if !reflect.DeepEqual(data.Devices[0].Capabilities, wantCaps) {
		t.Errorf("capabilities = %v, want %v", data.Devices[0].Capabilities, wantCaps)
	}

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{name: "formats", target: "/api/devices/usb-fake-video-index0/formats", want: http.StatusOK},
		{name: "formats unknown device", target: "/api/devices/missing/formats", want: http.StatusNotFound},
		{name: "resolutions", target: "/api/devices/usb-fake-video-index0/resolutions?format=YUYV", want: http.StatusOK},
		{name: "resolutions bad fourcc", target: "/api/devices/usb-fake-video-index0/resolutions?format=TOOLONG", want: http.StatusBadRequest},
		{name: "resolutions missing format", target: "/api/devices/usb-fake-video-index0/resolutions", want: http.StatusUnprocessableEntity},
		{name: "framerates", target: "/api/devices/usb-fake-video-index0/framerates?format=MJPG&width=1280&height=720", want: http.StatusOK},
		{name: "framerates zero width", target: "/api/devices/usb-fake-video-index0/framerates?format=MJPG&width=0&height=720", want: http.StatusUnprocessableEntity},
		{name: "framerates unknown device", target: "/api/devices/missing/framerates?format=MJPG&width=1&height=1", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tt.target, nil)
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.target, rec.Code, tt.want, rec.Body)
			}
		})
	}

	if lister.gotFourCC != "MJPG" || lister.gotWidth != 1280 || lister.gotHeight != 720 {
		t.Errorf("framerates query = %q %dx%d", lister.gotFourCC, lister.gotWidth, lister.gotHeight)
	}
}

func TestDeviceRoutesDisabled(t *testing.T) {
	s := NewServer(&Options{})
	if rec := do(t, s, http.MethodGet, "/api/devices", nil); rec.Code == http.StatusOK {
		t.Errorf("GET /api/devices without lister = %d, want an error status", rec.Code)
	}
}

func TestMetricsAndCORS(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "videobuf_stream_frames_total 1\n")
	})
	s := NewServer(&Options{
		AuthUsername:      "admin",
		AuthPassword:      "secret",
		PrometheusHandler: metrics,
	})

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "videobuf_stream_frames_total") {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body)
	}

	rec = do(t, s, http.MethodOptions, "/api/session", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("OPTIONS = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}

	rec = do(t, s, http.MethodGet, "/api/health", nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing on operation response")
	}
}

func TestTranslateCapabilities(t *testing.T) {
	tests := []struct {
		caps uint32
		want []string
	}{
		{caps: 0, want: []string{}},
		{caps: capStreaming | capVideoCaptureMplane, want: []string{"Multi-planar Video Capture", "Streaming I/O"}},
		{caps: 0x80000000, want: []string{}},
	}

	for _, tt := range tests {
		if got := translateCapabilities(tt.caps); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("translateCapabilities(0x%08x) = %v, want %v", tt.caps, got, tt.want)
		}
	}
}

func TestRequestLevel(t *testing.T) {
	tests := []struct {
		method string
		status int
		want   string
	}{
		{http.MethodOptions, 204, "DEBUG"},
		{http.MethodGet, 200, "INFO"},
		{http.MethodGet, 404, "WARN"},
		{http.MethodPost, 503, "ERROR"},
	}

	for _, tt := range tests {
		if got := requestLevel(tt.method, tt.status).String(); got != tt.want {
			t.Errorf("requestLevel(%s, %d) = %s, want %s", tt.method, tt.status, got, tt.want)
		}
	}
}
