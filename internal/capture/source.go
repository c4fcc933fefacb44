//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/videobuf/pkg/linuxav/v4l2"
)

// source is the stream behind a Session.
type source interface {
	// wait blocks until a buffer can be dequeued or timeout passes.
	wait(timeout time.Duration) (bool, error)
	// next re-queues the previous frame and dequeues the following one.
	next() (Frame, error)
	markRemoved()
	info() streamInfo
	close() error
}

type streamInfo struct {
	typ    v4l2.BufType
	format v4l2.Format
	memory v4l2.Memory
	slots  int
}

// deviceSource adapts a single- or multi-planar v4l2 stream.
type deviceSource struct {
	h      *v4l2.Handle
	single *v4l2.Stream
	multi  *v4l2.MPlaneStream
	si     streamInfo
	planes [][]byte
}

// openDevice opens cfg.Device, applies the requested format and starts a
// stream of the planarity the device supports.
func openDevice(cfg Config, logger *slog.Logger, obs v4l2.Observer) (source, error) {
	mem, err := v4l2.ParseMemory(cfg.Memory)
	if err != nil {
		return nil, err
	}

	h, err := v4l2.Open(cfg.Device)
	if err != nil {
		return nil, err
	}
	src, err := startStream(h, cfg, mem, logger, obs)
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	return src, nil
}

func startStream(h *v4l2.Handle, cfg Config, mem v4l2.Memory, logger *slog.Logger, obs v4l2.Observer) (*deviceSource, error) {
	caps, err := v4l2.QueryCapabilities(h)
	if err != nil {
		return nil, err
	}
	if !caps.HasCapability(v4l2.CapStreaming) {
		return nil, fmt.Errorf("%s (%s) does not support streaming I/O", h.Path(), caps.Card)
	}
	typ, ok := caps.CaptureType()
	if !ok {
		return nil, fmt.Errorf("%s (%s) is not a capture device", h.Path(), caps.Card)
	}

	format, err := negotiate(h, typ, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Format negotiated", "device", h.Path(), "format", format.String(), "size", format.SizeImage())

	opts := []v4l2.Option{
		v4l2.WithMemory(mem),
		v4l2.WithLogger(logger),
		v4l2.WithObserver(obs),
	}
	if cfg.DeferredStart {
		opts = append(opts, v4l2.WithDeferredStart())
	}

	src := &deviceSource{h: h}
	if typ.IsMultiPlanar() {
		src.multi, err = v4l2.NewMPlaneStream(h, typ, cfg.Buffers, opts...)
	} else {
		src.single, err = v4l2.NewStream(h, typ, cfg.Buffers, opts...)
	}
	if err != nil {
		return nil, err
	}

	arena := src.arena()
	src.si = streamInfo{typ: typ, format: arena.Format(), memory: arena.Memory(), slots: arena.Len()}
	return src, nil
}

// negotiate applies the configured size and pixel format. Zero values keep
// what the device currently has.
func negotiate(h *v4l2.Handle, typ v4l2.BufType, cfg Config) (v4l2.Format, error) {
	current, err := v4l2.GetFormat(h, typ)
	if err != nil {
		return v4l2.Format{}, err
	}
	if cfg.Width == 0 && cfg.Height == 0 && cfg.PixelFormat == "" {
		return current, nil
	}

	want := current
	if cfg.Width != 0 {
		want.Width = cfg.Width
	}
	if cfg.Height != 0 {
		want.Height = cfg.Height
	}
	if cfg.PixelFormat != "" {
		if want.PixelFormat, err = v4l2.FourCC(cfg.PixelFormat); err != nil {
			return v4l2.Format{}, err
		}
	}
	// Let the driver recompute plane sizes.
	for i := range want.Planes {
		want.Planes[i] = v4l2.PlaneFormat{}
	}

	got, err := v4l2.SetFormat(h, want)
	if err != nil {
		return v4l2.Format{}, fmt.Errorf("failed to set format %s: %w", want, err)
	}
	if got.PixelFormat != want.PixelFormat {
		return got, fmt.Errorf("device does not support %s, it chose %s", v4l2.FormatFourCC(want.PixelFormat), v4l2.FormatFourCC(got.PixelFormat))
	}
	return got, nil
}

func (s *deviceSource) arena() *v4l2.Arena {
	if s.multi != nil {
		return s.multi.Arena()
	}
	return s.single.Arena()
}

func (s *deviceSource) streaming() bool {
	if s.multi != nil {
		return s.multi.Streaming()
	}
	return s.single.Streaming()
}

func (s *deviceSource) wait(timeout time.Duration) (bool, error) {
	if !s.h.Alive() {
		return false, v4l2.ErrDeviceRemoved
	}
	// A deferred stream is started by the first next.
	if !s.streaming() {
		return true, nil
	}
	return s.h.WaitReadable(timeout)
}

func (s *deviceSource) next() (Frame, error) {
	if s.multi != nil {
		views, meta, err := s.multi.Next()
		if err != nil {
			return Frame{}, err
		}
		s.planes = s.planes[:0]
		for _, v := range views {
			s.planes = append(s.planes, v.Bytes())
		}
		return Frame{Meta: meta, Planes: s.planes}, nil
	}

	buf, meta, err := s.single.Next()
	if err != nil {
		return Frame{}, err
	}
	s.planes = append(s.planes[:0], buf.Bytes())
	return Frame{Meta: meta, Planes: s.planes}, nil
}

func (s *deviceSource) markRemoved() { s.h.MarkRemoved() }

func (s *deviceSource) info() streamInfo { return s.si }

// close releases the stream and the session's handle reference.
func (s *deviceSource) close() error {
	var err error
	if s.multi != nil {
		err = s.multi.Close()
	} else {
		err = s.single.Close()
	}
	if cerr := s.h.Close(); cerr != nil && !errors.Is(cerr, v4l2.ErrClosed) {
		err = errors.Join(err, cerr)
	}
	return err
}
