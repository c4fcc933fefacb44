//go:build linux

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/videobuf/cmd"
	"github.com/smazurov/videobuf/internal/capture"
	"github.com/smazurov/videobuf/internal/config"
	"github.com/smazurov/videobuf/internal/events"
	"github.com/smazurov/videobuf/internal/logging"
	"github.com/smazurov/videobuf/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Capture settings
	CaptureDevice      string `help:"Video device path" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	CaptureWidth       int    `help:"Requested width (0 keeps the current format)" default:"0" toml:"capture.width" env:"CAPTURE_WIDTH"`
	CaptureHeight      int    `help:"Requested height (0 keeps the current format)" default:"0" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	CapturePixelFormat string `help:"Requested pixel format as FourCC" default:"" toml:"capture.pixel_format" env:"CAPTURE_PIXEL_FORMAT"`
	CaptureBuffers     int    `help:"Number of buffers to request" default:"4" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	CaptureMemory      string `help:"Buffer memory (mmap, dmabuf)" default:"mmap" toml:"capture.memory" env:"CAPTURE_MEMORY"`
	CapturePollTimeout string `help:"Readiness poll interval" default:"200ms" toml:"capture.poll_timeout" env:"CAPTURE_POLL_TIMEOUT"`
	CaptureDeferred    bool   `help:"Start streaming on the first queued buffer" default:"false" toml:"capture.deferred_start" env:"CAPTURE_DEFERRED_START"`
	CaptureDump        string `help:"Append raw frame bytes to this file" default:"" toml:"capture.dump" env:"CAPTURE_DUMP"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture string `help:"Capture session logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingConfig  string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func (o *Options) serveConfig(logger *slog.Logger) cmd.ServeConfig {
	pollTimeout, err := time.ParseDuration(o.CapturePollTimeout)
	if err != nil && o.CapturePollTimeout != "" {
		logger.Warn("Invalid poll timeout, using default", "value", o.CapturePollTimeout, "error", err)
	}
	return cmd.ServeConfig{
		Addr:         o.Port,
		AuthUsername: o.AuthUsername,
		AuthPassword: o.AuthPassword,
		ConfigPath:   o.Config,
		DumpPath:     o.CaptureDump,
		Capture: capture.Config{
			Device:        o.CaptureDevice,
			Width:         uint32(max(o.CaptureWidth, 0)),
			Height:        uint32(max(o.CaptureHeight, 0)),
			PixelFormat:   o.CapturePixelFormat,
			Buffers:       o.CaptureBuffers,
			Memory:        o.CaptureMemory,
			PollTimeout:   pollTimeout,
			DeferredStart: o.CaptureDeferred,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture": opts.LoggingCapture,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
				"config":  opts.LoggingConfig,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		service := cmd.NewService(opts.serveConfig(logger), eventBus)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		hooks.OnStart(func() {
			defer close(done)
			logger.Info("Starting videobuf", "version", version.Short(), "device", opts.CaptureDevice, "addr", opts.Port)
			if err := service.Run(ctx); err != nil {
				logger.Error("Service stopped", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			cancel()
			<-done
		})
	})

	cli.Root().Use = "videobuf"
	cli.Root().Version = version.Short()
	cli.Root().AddCommand(cmd.CreateCaptureCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	cli.Run()
}
