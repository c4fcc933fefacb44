//go:build linux

package hotplug

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// source is the event feed behind a RemovalWatcher.
type source interface {
	AddSubsystemFilter(subsystem string)
	Run(ctx context.Context, events chan<- Event) error
	Close() error
}

// RemovalWatcher reports when one video device node goes away.
type RemovalWatcher struct {
	devicePath string
	devName    string
	onRemove   func(Event)
	open       func() (source, error)
	logger     *slog.Logger
}

// NewRemovalWatcher returns a watcher for devicePath. Symlinks such as
// /dev/v4l/by-id/... are resolved to the node they point to.
func NewRemovalWatcher(devicePath string, onRemove func(Event)) *RemovalWatcher {
	resolved := devicePath
	if p, err := filepath.EvalSymlinks(devicePath); err == nil {
		resolved = p
	}
	return &RemovalWatcher{
		devicePath: devicePath,
		devName:    filepath.Base(resolved),
		onRemove:   onRemove,
		open: func() (source, error) {
			return NewMonitor()
		},
		logger: slog.Default().With("component", "linuxav"),
	}
}

// DevName returns the node name the watcher matches against.
func (w *RemovalWatcher) DevName() string {
	return w.devName
}

// Run blocks until the device is removed, calling onRemove once, or until
// ctx is done. It returns nil after a removal.
func (w *RemovalWatcher) Run(ctx context.Context) error {
	mon, err := w.open()
	if err != nil {
		return fmt.Errorf("failed to open uevent monitor: %w", err)
	}
	defer func() { _ = mon.Close() }()
	mon.AddSubsystemFilter(SubsystemVideo4Linux)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- mon.Run(runCtx, events)
	}()

	for event := range events {
		if event.Action != ActionRemove || !MatchesDevice(event, w.devName) {
			continue
		}
		w.logger.Info("Video device removed", "device", w.devicePath, "kobj", event.KObj)
		if w.onRemove != nil {
			w.onRemove(event)
		}
		cancel()
		<-errCh
		return nil
	}

	return <-errCh
}

// MatchesDevice reports whether event concerns the video node devName
// ("video0" or "/dev/video0").
func MatchesDevice(event Event, devName string) bool {
	name := filepath.Base(devName)
	if name == "" || name == "." || name == "/" {
		return false
	}
	if event.DevName != "" {
		return filepath.Base(event.DevName) == name
	}
	return strings.HasSuffix(event.KObj, "/video4linux/"+name)
}
