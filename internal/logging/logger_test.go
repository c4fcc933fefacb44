package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// useRegistry swaps the package registry for one writing to buf.
func useRegistry(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	prev := modules
	prevDefault := slog.Default()
	modules = newRegistry(buf)
	t.Cleanup(func() {
		modules = prev
		slog.SetDefault(prevDefault)
	})
}

func TestModuleLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	useRegistry(t, &buf)

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"capture": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"capture", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestModuleOutput(t *testing.T) {
	var buf bytes.Buffer
	useRegistry(t, &buf)
	Initialize(Config{Level: "debug", Format: "text"})

	GetLogger("stream").Debug("slot dequeued", "index", 3)

	output := buf.String()
	for _, want := range []string{"level=DEBUG", "slot dequeued", "module=stream", "index=3"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	useRegistry(t, &buf)
	Initialize(Config{Level: "info", Format: "json"})

	GetLogger("api").Info("listening", "addr", ":8090")

	if !strings.Contains(buf.String(), `"module":"api"`) {
		t.Errorf("json output = %s", buf.String())
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	var buf bytes.Buffer
	useRegistry(t, &buf)

	before := GetLogger("capture")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize has debug enabled")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"capture": "debug"}})

	after := GetLogger("capture")
	if !after.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger after Initialize does not have debug enabled")
	}
	// The old logger shares the LevelVar and follows the change too.
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger taken before Initialize did not follow the level change")
	}
}

func TestSetLevels(t *testing.T) {
	var buf bytes.Buffer
	useRegistry(t, &buf)
	Initialize(Config{Level: "info", Format: "json"})

	logger := GetLogger("capture")
	SetLevels(Config{Level: "warn", Format: "text", Modules: map[string]string{"capture": "error"}})

	if got := Level("capture"); got != slog.LevelError {
		t.Errorf("Level(capture) = %v, want ERROR", got)
	}
	if got := Level("unknown"); got != slog.LevelWarn {
		t.Errorf("Level(unknown) = %v, want WARN", got)
	}
	logger.Warn("suppressed")
	logger.Error("kept")

	output := buf.String()
	if strings.Contains(output, "suppressed") {
		t.Errorf("warn written after SetLevels: %s", output)
	}
	if !strings.Contains(output, `"msg":"kept"`) {
		t.Errorf("SetLevels changed the format: %s", output)
	}
}

func TestMultiHandlerDebugOutput(t *testing.T) {
	var buf bytes.Buffer

	debugHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})

	multi := NewMultiHandler(debugHandler, nil, infoHandler)
	logger := slog.New(multi).With("module", "test")

	logger.Debug("debug only message")
	if count := strings.Count(buf.String(), "debug only message"); count != 1 {
		t.Errorf("debug message written %d times, want 1. Output: %s", count, buf.String())
	}

	buf.Reset()
	logger.WithGroup("g").Info("both", "k", "v")
	if count := strings.Count(buf.String(), "g.k=v"); count != 2 {
		t.Errorf("grouped attr written %d times, want 2. Output: %s", count, buf.String())
	}
}

type failingHandler struct{ err error }

func (f failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (f failingHandler) Handle(context.Context, slog.Record) error { return f.err }
func (f failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return f }
func (f failingHandler) WithGroup(string) slog.Handler             { return f }

func TestMultiHandlerJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("journal down")
	multi := NewMultiHandler(failingHandler{boom}, slog.NewTextHandler(&buf, nil))

	err := multi.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "hello", 0))
	if !errors.Is(err, boom) {
		t.Errorf("Handle() = %v, want %v", err, boom)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Error("second handler skipped after first failed")
	}
}

func TestJournalFields(t *testing.T) {
	var lv slog.LevelVar
	lv.Set(slog.LevelWarn)
	h := NewJournalHandler(&lv)

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(info) = true at warn")
	}
	lv.Set(slog.LevelDebug)
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(info) = false after lowering the LevelVar")
	}

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "dequeued", 0)
	r.AddAttrs(slog.Int("index", 2), slog.Bool("error", false), slog.Duration("wait", 3*time.Millisecond))

	tagged := h.WithAttrs([]slog.Attr{slog.String("module", "stream")}).(*JournalHandler)
	grouped := h.WithGroup("slot").(*JournalHandler)

	tests := []struct {
		name    string
		handler *JournalHandler
		want    map[string]string
	}{
		{
			name:    "handler attrs",
			handler: tagged,
			want: map[string]string{
				"SYSLOG_IDENTIFIER": "videobuf",
				"MODULE":            "stream",
				"INDEX":             "2",
				"WAIT":              "3ms",
			},
		},
		{
			name:    "group prefix",
			handler: grouped,
			want: map[string]string{
				"SLOT_INDEX": "2",
				"SLOT_ERROR": "false",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := tt.handler.fields(r)
			for k, v := range tt.want {
				if fields[k] != v {
					t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
				}
			}
		})
	}
}

func TestJournalKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"device", "DEVICE"},
		{"dev-path", "DEV_PATH"},
		{"frame.bytes", "FRAME_BYTES"},
		{"_private", "PRIVATE"},
		{"plane0", "PLANE0"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := journalKey(tt.in); got != tt.want {
				t.Errorf("journalKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJournalNestedGroups(t *testing.T) {
	var lv slog.LevelVar
	h := NewJournalHandler(&lv).WithGroup("stream").(*JournalHandler)

	r := slog.NewRecord(time.Time{}, slog.LevelInfo, "queued", 0)
	r.AddAttrs(
		slog.Group("plane", slog.Int("bytes", 640)),
		slog.Group("", slog.String("memory", "mmap")),
	)

	fields := h.fields(r)
	want := map[string]string{
		"STREAM_PLANE_BYTES": "640",
		"STREAM_MEMORY":      "mmap",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
	if _, ok := fields["CODE_FILE"]; ok {
		t.Error("CODE_FILE set for a record without PC")
	}
}

func TestParseLevelValues(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if tt.isNil {
				if got != nil {
					t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
