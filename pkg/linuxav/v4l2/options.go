//go:build linux

package v4l2

import (
	"log/slog"
	"time"
)

// Observer receives buffer lifecycle notifications from arenas and streams.
// Calls are made synchronously on the goroutine driving the stream.
type Observer interface {
	SlotsAllocated(typ BufType, requested, granted uint32)
	FrameDequeued(typ BufType, meta Metadata, wait time.Duration)
	StreamStateChanged(typ BufType, streaming bool)
	// SlotsHeld reports the number of slots the application holds, 0 or 1.
	SlotsHeld(typ BufType, held int)
}

type nopObserver struct{}

func (nopObserver) SlotsAllocated(BufType, uint32, uint32)         {}
func (nopObserver) FrameDequeued(BufType, Metadata, time.Duration) {}
func (nopObserver) StreamStateChanged(BufType, bool)               {}
func (nopObserver) SlotsHeld(BufType, int)                         {}

type options struct {
	memory   Memory
	logger   *slog.Logger
	observer Observer
	deferred bool
}

// Option configures an Arena or stream.
type Option func(*options)

func defaultOptions() options {
	return options{
		memory:   MemoryMmap,
		logger:   slog.Default().With("component", "linuxav"),
		observer: nopObserver{},
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMemory selects the backing strategy. The default is MemoryMmap.
func WithMemory(m Memory) Option {
	return func(o *options) {
		o.memory = m
	}
}

// WithLogger sets the logger used for teardown and streaming diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithDeferredStart postpones queueing and stream-on until the first Next.
func WithDeferredStart() Option {
	return func(o *options) {
		o.deferred = true
	}
}
