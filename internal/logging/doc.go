// Package logging provides structured logging with per-module log levels.
//
// # Overview
//
// Loggers are plain *slog.Logger values tagged with a "module" attribute.
// Output goes to stdout when something is attached to it and to the
// systemd journal when journald is running; both when both are available.
//
// # Usage
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info", // debug, info, warn, error
//		Format: "text", // text or json
//		Modules: map[string]string{
//			"capture": "debug",
//			"api":     "warn",
//		},
//	})
//
// Get a logger for a module:
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Session started", "device", path)
//
// Loggers may be taken before Initialize; they start at info and pick up
// the configured level once Initialize or SetLevels runs.
//
// # Viewing Logs
//
//	journalctl -t videobuf                 # all entries
//	journalctl -t videobuf -f              # follow
//	journalctl -t videobuf MODULE=capture  # one module
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
package logging
