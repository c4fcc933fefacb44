//go:build linux

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/videobuf/internal/capture"
	"github.com/smazurov/videobuf/internal/config"
	"github.com/smazurov/videobuf/internal/logging"
	"github.com/spf13/cobra"
)

// CaptureOptions are the capture command settings. Flags override
// VIDEOBUF_* env vars, which override the [capture] section of Config.
type CaptureOptions struct {
	Config      string
	Device      string        `toml:"capture.device" env:"CAPTURE_DEVICE"`
	Width       uint32        `toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height      uint32        `toml:"capture.height" env:"CAPTURE_HEIGHT"`
	PixelFormat string        `toml:"capture.pixel_format" env:"CAPTURE_PIXEL_FORMAT"`
	Buffers     int           `toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	Memory      string        `toml:"capture.memory" env:"CAPTURE_MEMORY"`
	PollTimeout time.Duration `toml:"capture.poll_timeout" env:"CAPTURE_POLL_TIMEOUT"`
	Frames      uint64
	Output      string
	Quiet       bool
	LogJSON     bool
}

func (o CaptureOptions) captureConfig() capture.Config {
	return capture.Config{
		Device:      o.Device,
		Width:       o.Width,
		Height:      o.Height,
		PixelFormat: o.PixelFormat,
		Buffers:     o.Buffers,
		Memory:      o.Memory,
		Frames:      o.Frames,
		PollTimeout: o.PollTimeout,
	}
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var opts CaptureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture frames from a V4L2 device",
		Long: `Streams a fixed number of frames off a V4L2 capture device, printing per-frame ` +
			`metadata and optionally writing the raw plane bytes to a file.`,
		Args: cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if opts.LogJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("capture")

			if err := loadCaptureOptions(c, &opts); err != nil {
				logger.Error("Failed to load config", "error", err, "config", opts.Config)
				os.Exit(1)
			}

			var sessionOpts []capture.Option
			if opts.Output != "" {
				f, err := os.Create(opts.Output)
				if err != nil {
					logger.Error("Failed to create output file", "error", err, "output", opts.Output)
					os.Exit(1)
				}
				defer f.Close()
				sessionOpts = append(sessionOpts, capture.WithDump(f))
			}
			if !opts.Quiet {
				out := c.OutOrStdout()
				sessionOpts = append(sessionOpts, capture.WithFrameHandler(func(f capture.Frame) {
					printFrame(out, f)
				}))
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session := capture.NewSession(opts.captureConfig(), sessionOpts...)
			err := session.Run(ctx)
			status := session.Status()
			logger.Info("Capture finished",
				"frames", status.Frames,
				"bytes", status.Bytes,
				"dropped", status.Dropped,
				"reason", status.StopReason)
			if err != nil {
				logger.Error("Capture failed", "error", err)
				os.Exit(1)
			}
		},
	}

	bindCaptureFlags(cmd, &opts)
	return cmd
}

func bindCaptureFlags(cmd *cobra.Command, opts *CaptureOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.Device, "device", "d", "/dev/video0", "Video device path")
	flags.Uint32Var(&opts.Width, "width", 0, "Requested width (0 keeps the current format)")
	flags.Uint32Var(&opts.Height, "height", 0, "Requested height (0 keeps the current format)")
	flags.StringVar(&opts.PixelFormat, "pixel-format", "", "Requested pixel format as FourCC, e.g. YUYV")
	flags.IntVar(&opts.Buffers, "buffers", 4, "Number of buffers to request")
	flags.StringVar(&opts.Memory, "memory", "mmap", "Buffer memory: mmap or dmabuf")
	flags.DurationVar(&opts.PollTimeout, "poll-timeout", 200*time.Millisecond, "Readiness poll interval")
	flags.Uint64VarP(&opts.Frames, "frames", "n", 30, "Frames to capture (0 runs until interrupted)")
	flags.StringVarP(&opts.Output, "output", "o", "", "Write raw frame bytes to this file")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "Do not print per-frame metadata")
	flags.BoolVar(&opts.LogJSON, "log-json", false, "Log in JSON format")
}

// loadCaptureOptions layers env and the config file under the flags the
// user did not set. --config is the root command's persistent flag.
func loadCaptureOptions(c *cobra.Command, opts *CaptureOptions) error {
	if path, err := c.Flags().GetString("config"); err == nil {
		opts.Config = path
	}
	return config.LoadConfig(opts, c)
}

func printFrame(w io.Writer, f capture.Frame) {
	fmt.Fprintf(w, "seq=%d index=%d bytes=%d planes=%d ts=%s clock=%s flags=%s\n",
		f.Meta.Sequence,
		f.Meta.Index,
		f.Meta.TotalBytes(),
		len(f.Planes),
		f.Meta.Timestamp,
		f.Meta.Clock(),
		f.Meta.Flags)
}
