//go:build linux

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/videobuf/internal/api"
	"github.com/smazurov/videobuf/internal/capture"
	"github.com/smazurov/videobuf/internal/config"
	"github.com/smazurov/videobuf/internal/events"
	"github.com/smazurov/videobuf/internal/logging"
	"github.com/smazurov/videobuf/internal/metrics/exporters"
	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
)

const shutdownTimeout = 5 * time.Second

// ServeConfig configures the long-running service.
type ServeConfig struct {
	Addr         string
	AuthUsername string
	AuthPassword string
	ConfigPath   string // watched for [logging] changes when it exists
	DumpPath     string // raw frame bytes are appended here when set
	Capture      capture.Config
}

// Service runs one capture session next to the HTTP API.
type Service struct {
	cfg     ServeConfig
	bus     *events.Bus
	session *capture.Session
	server  *api.Server
	logger  *slog.Logger

	mu            sync.Mutex
	cancelSession context.CancelFunc
	stopRequested bool
}

// NewService wires the session, event bus and API server for cfg.
func NewService(cfg ServeConfig, bus *events.Bus) *Service {
	s := &Service{
		cfg:    cfg,
		bus:    bus,
		logger: logging.GetLogger("main"),
	}
	s.server = api.NewServer(&api.Options{
		AuthUsername:      cfg.AuthUsername,
		AuthPassword:      cfg.AuthPassword,
		Session:           s,
		Devices:           api.NewV4L2Lister(),
		PrometheusHandler: exporters.HTTPHandler(),
	})
	return s
}

// Status returns the session snapshot, or an idle one before Run.
func (s *Service) Status() capture.Status {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return capture.Status{Device: s.cfg.Capture.Device, State: capture.StateIdle}
	}
	return session.Status()
}

// Stop ends the capture session. The API keeps serving its final status.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	if s.cancelSession != nil {
		s.cancelSession()
	}
}

// Run serves until ctx is done, the device is removed or the session or
// server fails.
func (s *Service) Run(ctx context.Context) error {
	opts := []capture.Option{capture.WithBus(s.bus)}
	if s.cfg.DumpPath != "" {
		f, err := os.OpenFile(s.cfg.DumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open dump file: %w", err)
		}
		defer f.Close()
		opts = append(opts, capture.WithDump(f))
	}

	g, gctx := errgroup.WithContext(ctx)
	sessionCtx, cancelSession := context.WithCancel(gctx)
	defer cancelSession()

	session := capture.NewSession(s.cfg.Capture, opts...)
	s.mu.Lock()
	s.session = session
	s.cancelSession = cancelSession
	if s.stopRequested {
		cancelSession()
	}
	s.mu.Unlock()

	removed := make(chan any, 1)
	unsubRemoved := events.SubscribeToChannel[events.DeviceRemovedEvent](s.bus, removed)
	defer unsubRemoved()
	defer logEvents(s.bus, s.logger)()

	if stopWatcher := s.watchConfig(); stopWatcher != nil {
		defer stopWatcher()
	}

	g.Go(func() error {
		return s.server.Start(s.cfg.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Stop(shutdownCtx)
	})
	g.Go(func() error {
		return session.Run(sessionCtx)
	})
	g.Go(func() error {
		select {
		case ev := <-removed:
			e := ev.(events.DeviceRemovedEvent)
			return fmt.Errorf("%s: %w", e.DevicePath, v4l2.ErrDeviceRemoved)
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchConfig reloads log levels when the config file changes. It returns
// nil when there is nothing to watch.
func (s *Service) watchConfig() func() {
	if s.cfg.ConfigPath == "" {
		return nil
	}
	if _, err := os.Stat(s.cfg.ConfigPath); err != nil {
		return nil
	}

	w := config.NewConfigWatcher(s.cfg.ConfigPath, config.LoadLogging, logging.GetLogger("config"),
		config.WithErrorHandler[logging.Config](func(err error) {
			s.logger.Warn("Failed to reload config", "path", s.cfg.ConfigPath, "error", err)
		}))
	w.OnReload(func(cfg logging.Config) {
		logging.SetLevels(cfg)
		s.logger.Info("Logging levels reloaded", "level", cfg.Level)
	})
	if err := w.Start(); err != nil {
		s.logger.Warn("Failed to watch config file", "path", s.cfg.ConfigPath, "error", err)
		return nil
	}
	return func() {
		if err := w.Stop(); err != nil {
			s.logger.Debug("Config watcher stopped with error", "error", err)
		}
	}
}

// logEvents logs every bus event and returns a function that unsubscribes.
func logEvents(bus *events.Bus, logger *slog.Logger) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.StreamStartedEvent) {
			logger.Info("Stream started", "session", e.SessionID, "device", e.DevicePath,
				"format", e.Format, "memory", e.Memory, "slots", e.Slots)
		}),
		bus.Subscribe(func(e events.StreamStoppedEvent) {
			attrs := []any{"session", e.SessionID, "device", e.DevicePath, "frames", e.Frames, "reason", e.Reason}
			if e.Error != "" {
				logger.Warn("Stream stopped", append(attrs, "error", e.Error)...)
				return
			}
			logger.Info("Stream stopped", attrs...)
		}),
		bus.Subscribe(func(e events.DeviceRemovedEvent) {
			logger.Warn("Device removed", "device", e.DevicePath, "devname", e.DevName)
		}),
		bus.Subscribe(func(e events.FrameDroppedEvent) {
			logger.Debug("Frames dropped", "session", e.SessionID, "device", e.DevicePath,
				"sequence", e.Sequence, "missed", e.Missed)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
