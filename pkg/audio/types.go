// Package audio provides the capture side of the transcription pipeline:
// the PCM frame type, capture sources (microphone and file replay), and the
// sample-format conversions needed to feed the upstream transcription
// service.
package audio

import (
	"context"
	"errors"
	"time"
)

// Frame is a single fixed-size chunk of PCM audio flowing through the
// pipeline. Frames are the atomic unit of transport between a [Source] and
// the upstream link.
type Frame struct {
	// Data is raw 16-bit signed little-endian PCM.
	Data []byte

	// SampleRate in Hz (16000 by default for the transcription service).
	SampleRate int

	// Channels is the channel count. Sources deliver mono frames.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// ErrDeviceUnavailable is returned by a [Source] when the configured capture
// device (or input file) cannot be opened. It is fatal to the pipeline.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// CaptureStats is a point-in-time snapshot of a source's counters. Counters
// are monotone within a single run and reset on each Start.
type CaptureStats struct {
	FramesCaptured uint64
	FramesDropped  uint64
	DeviceName     string
}

// Source produces PCM frames into a bounded queue. Implementations drop the
// frame (and count the drop) when the queue is full — capture never blocks
// on a slow consumer.
type Source interface {
	// Start begins capture and blocks until Stop is called, ctx is
	// cancelled, or capture fails. A source that cannot open its device
	// returns an error wrapping [ErrDeviceUnavailable] without producing
	// any frames.
	Start(ctx context.Context) error

	// Stop requests capture termination. Safe to call multiple times and
	// from any goroutine; Start returns shortly after.
	Stop()

	// Running reports whether the source is actively capturing.
	Running() bool

	// Stats returns a snapshot of the capture counters.
	Stats() CaptureStats
}

// Device describes one capture device visible to the host.
type Device struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}
