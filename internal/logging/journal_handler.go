package logging

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// syslogIdentifier tags every journal entry, see journalctl -t.
const syslogIdentifier = "videobuf"

// JournalHandler is a slog.Handler that sends logs to systemd journal.
// Attributes become upper-case journal fields, prefixed by their groups.
type JournalHandler struct {
	level  slog.Leveler
	fixed  map[string]string // rendered WithAttrs fields
	prefix string            // open groups, "SLOT_" style
}

// NewJournalHandler creates a journal handler. level is consulted on every
// record, so a *slog.LevelVar can change it at runtime.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level: level,
		fixed: map[string]string{"SYSLOG_IDENTIFIER": syslogIdentifier},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the log record to systemd journal.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	if err := journal.Send(r.Message, priority(r.Level), h.fields(r)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send to journal: %v\n", err)
		return err
	}
	return nil
}

func (h *JournalHandler) fields(r slog.Record) map[string]string {
	fields := maps.Clone(h.fixed)
	if r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fields["CODE_FILE"] = frame.File
		fields["CODE_LINE"] = strconv.Itoa(frame.Line)
		fields["CODE_FUNC"] = frame.Function
	}
	r.Attrs(func(attr slog.Attr) bool {
		addField(fields, h.prefix, attr)
		return true
	})
	return fields
}

// WithAttrs returns a new handler with additional attributes.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	fixed := maps.Clone(h.fixed)
	for _, attr := range attrs {
		addField(fixed, h.prefix, attr)
	}
	return &JournalHandler{level: h.level, fixed: fixed, prefix: h.prefix}
}

// WithGroup returns a new handler with a group prefix.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	key := journalKey(name)
	if key == "" {
		return h
	}
	return &JournalHandler{level: h.level, fixed: h.fixed, prefix: h.prefix + key + "_"}
}

func priority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addField(fields map[string]string, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	key := journalKey(attr.Key)
	if attr.Value.Kind() == slog.KindGroup {
		// Inline groups (empty key) keep the current prefix.
		if key != "" {
			prefix += key + "_"
		}
		for _, a := range attr.Value.Group() {
			addField(fields, prefix, a)
		}
		return
	}
	if key == "" {
		return
	}

	switch attr.Value.Kind() {
	case slog.KindTime:
		fields[prefix+key] = attr.Value.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		fields[prefix+key] = strconv.FormatFloat(attr.Value.Float64(), 'g', -1, 64)
	default:
		fields[prefix+key] = attr.Value.String()
	}
}

// journalKey maps an attribute key onto the journal field alphabet
// [A-Z0-9_]. Leading underscores are reserved for trusted fields.
func journalKey(key string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return strings.TrimLeft(mapped, "_")
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
