package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileSourceConfig configures a [FileSource].
type FileSourceConfig struct {
	// Path is the WAV file to replay. Required.
	Path string

	// SampleRate is the pipeline sample rate in Hz. Frames are resampled to
	// this rate when the file differs. Defaults to 16000 if zero.
	SampleRate int

	// ChunkSize is the number of samples per emitted frame. Defaults to
	// 4096 if zero.
	ChunkSize int
}

// FileSource replays a 16-bit PCM WAV file into the audio queue at
// wall-clock rate, as if it were a live capture device. Stereo input is
// downmixed to mono and mismatched sample rates are resampled, so the
// emitted frames always match the configured pipeline format.
//
// FileSource implements [Source].
type FileSource struct {
	cfg FileSourceConfig
	out chan<- Frame

	running  atomic.Bool
	captured atomic.Uint64
	dropped  atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
}

// NewFileSource creates a FileSource that writes frames to out. The file is
// not opened until Start.
func NewFileSource(cfg FileSourceConfig, out chan<- Frame) *FileSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	return &FileSource{
		cfg:  cfg,
		out:  out,
		done: make(chan struct{}),
	}
}

// Start opens the WAV file and replays it chunk by chunk until the file is
// exhausted, Stop is called, or ctx is cancelled. Each chunk is paced at its
// real-time duration so the downstream link sees a live-rate stream.
func (s *FileSource) Start(ctx context.Context) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrDeviceUnavailable, s.cfg.Path, err)
	}
	defer f.Close()

	format, dataLen, err := decodeWAVHeader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	slog.Info("file capture started",
		"path", s.cfg.Path,
		"file_rate", format.SampleRate,
		"file_channels", format.Channels,
		"target_rate", s.cfg.SampleRate,
	)

	s.running.Store(true)
	defer s.running.Store(false)

	// Read chunks sized in the file's native format so that one chunk maps
	// to exactly ChunkSize output samples after downmix and resample.
	srcSamples := s.cfg.ChunkSize * format.SampleRate / s.cfg.SampleRate
	if srcSamples <= 0 {
		srcSamples = s.cfg.ChunkSize
	}
	readSize := srcSamples * format.Channels * 2
	chunkDur := time.Duration(s.cfg.ChunkSize) * time.Second / time.Duration(s.cfg.SampleRate)

	ticker := time.NewTicker(chunkDur)
	defer ticker.Stop()

	var elapsed time.Duration
	remaining := dataLen
	buf := make([]byte, readSize)

	for remaining > 0 {
		n := readSize
		if n > remaining {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return fmt.Errorf("audio: read %q: %w", s.cfg.Path, err)
		}
		remaining -= n

		pcm := buf[:n]
		if format.Channels == 2 {
			pcm = StereoToMono(pcm)
		}
		pcm = ResampleMono16(pcm, format.SampleRate, s.cfg.SampleRate)

		frame := Frame{
			Data:       append([]byte(nil), pcm...),
			SampleRate: s.cfg.SampleRate,
			Channels:   1,
			Timestamp:  elapsed,
		}
		elapsed += chunkDur

		select {
		case s.out <- frame:
			s.captured.Add(1)
		default:
			s.dropped.Add(1)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
		}
	}

	slog.Info("end of audio file reached",
		"path", s.cfg.Path,
		"frames", s.captured.Load(),
	)
	return nil
}

// Stop requests replay termination. Safe to call multiple times.
func (s *FileSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Running reports whether the source is actively replaying.
func (s *FileSource) Running() bool { return s.running.Load() }

// Stats returns a snapshot of the capture counters.
func (s *FileSource) Stats() CaptureStats {
	return CaptureStats{
		FramesCaptured: s.captured.Load(),
		FramesDropped:  s.dropped.Load(),
		DeviceName:     "file:" + filepath.Base(s.cfg.Path),
	}
}

var _ Source = (*FileSource)(nil)
