//go:build linux

// Package capture runs a capture session: it opens a device, streams
// buffers off it until told to stop and reports what happened through
// metrics, events and a status snapshot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smazurov/videobuf/internal/events"
	"github.com/smazurov/videobuf/internal/logging"
	"github.com/smazurov/videobuf/internal/metrics"
	"github.com/smazurov/videobuf/pkg/linuxav/hotplug"
	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
)

const defaultPollTimeout = 200 * time.Millisecond

// Config selects the device and how it is streamed.
type Config struct {
	Device        string
	Width         uint32
	Height        uint32
	PixelFormat   string // FourCC such as "YUYV"; empty keeps the current format
	Buffers       int
	Memory        string // "mmap" or "dmabuf"
	Frames        uint64 // stop after this many frames; 0 runs until canceled
	PollTimeout   time.Duration
	DeferredStart bool
}

// Frame is one dequeued buffer. Planes alias driver memory and are only
// valid until the frame handler returns.
type Frame struct {
	Meta   v4l2.Metadata
	Planes [][]byte
}

// Session streams one device. It runs once.
type Session struct {
	id     string
	cfg    Config
	bus    *events.Bus
	logger *slog.Logger
	dump   io.Writer
	frameH func(Frame)

	open  func(Config, *slog.Logger, v4l2.Observer) (source, error)
	watch func(ctx context.Context, device string, onRemove func(hotplug.Event)) error

	mu     sync.RWMutex
	status Status
	ran    bool
}

// Option configures a Session.
type Option func(*Session)

// WithBus publishes session events on bus.
func WithBus(bus *events.Bus) Option {
	return func(s *Session) { s.bus = bus }
}

// WithDump writes the payload of every plane of every frame to w.
func WithDump(w io.Writer) Option {
	return func(s *Session) { s.dump = w }
}

// WithFrameHandler calls fn for every frame, after the dump.
func WithFrameHandler(fn func(Frame)) Option {
	return func(s *Session) { s.frameH = fn }
}

// WithLogger replaces the "capture" module logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession returns an idle session for cfg.
func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.Buffers <= 0 {
		cfg.Buffers = 4
	}

	id := uuid.NewString()
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: logging.GetLogger("capture"),
		open:   openDevice,
		watch:  watchRemoval,
		status: Status{ID: id, Device: cfg.Device, State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", id, "device", cfg.Device)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("capture: session already run")

// Run opens the device and streams until ctx is done, the frame limit is
// reached, the device is removed or an error occurs. Cancellation is not an
// error. Removal returns an error matching v4l2.ErrDeviceRemoved.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.ran = true
	s.mu.Unlock()

	obs := metrics.NewStreamObserver(s.cfg.Device, s.onDrop)
	src, err := s.open(s.cfg, s.logger, obs)
	if err != nil {
		s.finish(ReasonError, err)
		return fmt.Errorf("failed to open %s: %w", s.cfg.Device, err)
	}

	si := src.info()
	s.started(si)
	defer metrics.Delete(s.cfg.Device, si.typ.String())

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)

	g.Go(func() error {
		err := s.watch(watchCtx, s.cfg.Device, func(e hotplug.Event) {
			src.markRemoved()
			s.bus.Publish(events.DeviceRemovedEvent{
				DevicePath: s.cfg.Device,
				DevName:    e.DevName,
				Timestamp:  time.Now().Format(time.RFC3339),
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			// The loop still notices removal through ENODEV.
			s.logger.Warn("Removal watcher failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		defer stopWatch()
		return s.loop(gctx, src)
	})

	err = g.Wait()
	if cerr := src.close(); cerr != nil {
		s.logger.Warn("Failed to close stream", "error", cerr)
	}

	switch {
	case err == nil:
		s.finish(ReasonCompleted, nil)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.finish(ReasonCanceled, nil)
		return nil
	case v4l2.IsDeviceRemoved(err):
		s.finish(ReasonRemoved, err)
		return fmt.Errorf("device %s removed: %w", s.cfg.Device, err)
	default:
		s.finish(ReasonError, err)
		return err
	}
}

func (s *Session) loop(ctx context.Context, src source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, err := src.wait(s.cfg.PollTimeout)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		frame, err := src.next()
		if err != nil {
			return err
		}
		if err := s.handle(frame); err != nil {
			return err
		}

		if s.cfg.Frames > 0 && s.Status().Frames >= s.cfg.Frames {
			return nil
		}
	}
}

func (s *Session) handle(frame Frame) error {
	var n uint64
	for _, p := range frame.Planes {
		n += uint64(len(p))
		if s.dump == nil {
			continue
		}
		if _, err := s.dump.Write(p); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", frame.Meta.Sequence, err)
		}
	}
	if frame.Meta.Errored() {
		s.logger.Debug("Frame flagged corrupted", "sequence", frame.Meta.Sequence, "index", frame.Meta.Index)
	}

	s.mu.Lock()
	s.status.Frames++
	s.status.Bytes += n
	s.status.Sequence = frame.Meta.Sequence
	s.mu.Unlock()

	if s.frameH != nil {
		s.frameH(frame)
	}
	return nil
}

func (s *Session) onDrop(sequence, missed uint32) {
	s.mu.Lock()
	s.status.Dropped += uint64(missed)
	s.mu.Unlock()

	s.logger.Debug("Frames dropped", "sequence", sequence, "missed", missed)
	s.bus.Publish(events.FrameDroppedEvent{
		SessionID:  s.id,
		DevicePath: s.cfg.Device,
		Sequence:   sequence,
		Missed:     missed,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

func (s *Session) started(si streamInfo) {
	now := time.Now()
	s.mu.Lock()
	s.status.State = StateStreaming
	s.status.BufType = si.typ.String()
	s.status.Format = si.format.String()
	s.status.Memory = si.memory.String()
	s.status.Slots = si.slots
	s.status.StartedAt = now
	s.mu.Unlock()

	s.logger.Info("Capture started", "format", si.format.String(), "memory", si.memory.String(), "slots", si.slots)
	s.bus.Publish(events.StreamStartedEvent{
		SessionID:  s.id,
		DevicePath: s.cfg.Device,
		Format:     si.format.String(),
		Memory:     si.memory.String(),
		Slots:      si.slots,
		Timestamp:  now.Format(time.RFC3339),
	})
}

func (s *Session) finish(reason string, err error) {
	now := time.Now()
	s.mu.Lock()
	s.status.State = StateStopped
	s.status.StoppedAt = now
	s.status.StopReason = reason
	if err != nil {
		s.status.Error = err.Error()
	}
	frames := s.status.Frames
	s.mu.Unlock()

	ev := events.StreamStoppedEvent{
		SessionID:  s.id,
		DevicePath: s.cfg.Device,
		Frames:     frames,
		Reason:     reason,
		Timestamp:  now.Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
		s.logger.Warn("Capture stopped", "reason", reason, "frames", frames, "error", err)
	} else {
		s.logger.Info("Capture stopped", "reason", reason, "frames", frames)
	}
	s.bus.Publish(ev)
}

func watchRemoval(ctx context.Context, device string, onRemove func(hotplug.Event)) error {
	return hotplug.NewRemovalWatcher(device, onRemove).Run(ctx)
}
