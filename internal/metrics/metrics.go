// Package metrics provides Prometheus metrics for capture sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "videobuf"

var labels = []string{"device", "type"}

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Buffers dequeued",
	}, labels)

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Payload bytes dequeued, summed over planes",
	}, labels)

	errorFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "error_frames_total",
		Help:      "Buffers the driver flagged as corrupted",
	}, labels)

	droppedFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "dropped_frames_total",
		Help:      "Frames missing from the driver sequence numbering",
	}, labels)

	slotsAllocated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "slots",
		Help:      "Buffers granted by the driver",
	}, labels)

	slotsRequested = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "slots_requested",
		Help:      "Buffers requested from the driver",
	}, labels)

	slotsHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "arena",
		Name:      "slots_held",
		Help:      "Buffers held by the application",
	}, labels)

	streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "streaming",
		Help:      "1 while the queue is streaming",
	}, labels)

	dequeueWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "dequeue_wait_seconds",
		Help:      "Time spent in Next waiting for a filled buffer",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, labels)

	// Local cache for API access.
	statsCache   = make(map[key]*StreamStats)
	statsCacheMu sync.RWMutex
)

type key struct {
	device string
	typ    string
}

// StreamStats holds the current values for one device and buffer type.
type StreamStats struct {
	Frames       uint64
	Bytes        uint64
	ErrorFrames  uint64
	Dropped      uint64
	Slots        uint32
	Held         int
	Streaming    bool
	LastSequence uint32
	LastFrame    time.Time
}

// RecordFrame counts one dequeued buffer.
func RecordFrame(device, typ string, bytes uint64, errored bool, wait time.Duration, sequence uint32) {
	framesTotal.WithLabelValues(device, typ).Inc()
	bytesTotal.WithLabelValues(device, typ).Add(float64(bytes))
	if errored {
		errorFramesTotal.WithLabelValues(device, typ).Inc()
	}
	dequeueWait.WithLabelValues(device, typ).Observe(wait.Seconds())

	updateCache(device, typ, func(s *StreamStats) {
		s.Frames++
		s.Bytes += bytes
		if errored {
			s.ErrorFrames++
		}
		s.LastSequence = sequence
		s.LastFrame = time.Now()
	})
}

// RecordDropped adds missed frames.
func RecordDropped(device, typ string, missed uint32) {
	droppedFramesTotal.WithLabelValues(device, typ).Add(float64(missed))
	updateCache(device, typ, func(s *StreamStats) { s.Dropped += uint64(missed) })
}

// SetSlots records an allocation result.
func SetSlots(device, typ string, requested, granted uint32) {
	slotsRequested.WithLabelValues(device, typ).Set(float64(requested))
	slotsAllocated.WithLabelValues(device, typ).Set(float64(granted))
	updateCache(device, typ, func(s *StreamStats) { s.Slots = granted })
}

// SetHeld records how many slots the application holds.
func SetHeld(device, typ string, held int) {
	slotsHeld.WithLabelValues(device, typ).Set(float64(held))
	updateCache(device, typ, func(s *StreamStats) { s.Held = held })
}

// SetStreaming records the stream state.
func SetStreaming(device, typ string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	streaming.WithLabelValues(device, typ).Set(v)
	updateCache(device, typ, func(s *StreamStats) { s.Streaming = on })
}

// Delete removes all metrics for a device and buffer type.
func Delete(device, typ string) {
	for _, c := range []*prometheus.CounterVec{framesTotal, bytesTotal, errorFramesTotal, droppedFramesTotal} {
		c.DeleteLabelValues(device, typ)
	}
	for _, g := range []*prometheus.GaugeVec{slotsAllocated, slotsRequested, slotsHeld, streaming} {
		g.DeleteLabelValues(device, typ)
	}
	dequeueWait.DeleteLabelValues(device, typ)

	statsCacheMu.Lock()
	delete(statsCache, key{device, typ})
	statsCacheMu.Unlock()
}

// Get returns a copy of the current values, or nil if nothing was recorded.
func Get(device, typ string) *StreamStats {
	statsCacheMu.RLock()
	defer statsCacheMu.RUnlock()
	if s, ok := statsCache[key{device, typ}]; ok {
		dup := *s
		return &dup
	}
	return nil
}

func updateCache(device, typ string, update func(*StreamStats)) {
	statsCacheMu.Lock()
	defer statsCacheMu.Unlock()
	k := key{device, typ}
	s, ok := statsCache[k]
	if !ok {
		s = &StreamStats{}
		statsCache[k] = s
	}
	update(s)
}
