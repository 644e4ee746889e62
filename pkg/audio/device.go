package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// DeviceSourceConfig configures a [DeviceSource].
type DeviceSourceConfig struct {
	// DeviceIndex selects a capture device by enumeration index. Negative
	// means "unset"; DeviceName is consulted next, then the host default.
	DeviceIndex int

	// DeviceName selects a capture device whose name contains this value
	// (case-insensitive). Ignored when DeviceIndex is set.
	DeviceName string

	// SampleRate in Hz. Defaults to 16000 if zero.
	SampleRate int

	// Channels requested from the device. Defaults to 1.
	Channels int

	// ChunkSize is the number of mono samples per emitted frame. Defaults
	// to 4096 if zero.
	ChunkSize int
}

// DeviceSource captures int16 PCM from a local input device via the
// miniaudio backend. The device callback accumulates samples into
// fixed-size frames and offers each frame to the queue without blocking;
// frames that do not fit are dropped and counted.
//
// DeviceSource implements [Source].
type DeviceSource struct {
	cfg DeviceSourceConfig
	out chan<- Frame

	running  atomic.Bool
	captured atomic.Uint64
	dropped  atomic.Uint64

	mu         sync.Mutex
	deviceName string

	done     chan struct{}
	stopOnce sync.Once
}

// NewDeviceSource creates a DeviceSource that writes frames to out. No
// device handle is acquired until Start.
func NewDeviceSource(cfg DeviceSourceConfig, out chan<- Frame) *DeviceSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	return &DeviceSource{
		cfg:  cfg,
		out:  out,
		done: make(chan struct{}),
	}
}

// Start opens the capture device and blocks until Stop is called, ctx is
// cancelled, or the backend fails. The device handle is released on every
// exit path.
func (s *DeviceSource) Start(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: init audio backend: %v", ErrDeviceUnavailable, err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	info, err := selectDevice(mctx, s.cfg.DeviceIndex, s.cfg.DeviceName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(s.cfg.Channels)
	devCfg.SampleRate = uint32(s.cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1
	if info != nil {
		devCfg.Capture.DeviceID = info.ID.Pointer()
		s.mu.Lock()
		s.deviceName = info.Name()
		s.mu.Unlock()
	} else {
		s.mu.Lock()
		s.deviceName = "default"
		s.mu.Unlock()
	}

	frameBytes := s.cfg.ChunkSize * s.cfg.Channels * 2
	var (
		bufMu   sync.Mutex
		pending []byte
		elapsed time.Duration
	)
	chunkDur := time.Duration(s.cfg.ChunkSize) * time.Second / time.Duration(s.cfg.SampleRate)

	onData := func(_, input []byte, _ uint32) {
		if !s.running.Load() {
			return
		}
		bufMu.Lock()
		pending = append(pending, input...)
		for len(pending) >= frameBytes {
			data := append([]byte(nil), pending[:frameBytes]...)
			pending = pending[frameBytes:]
			if s.cfg.Channels == 2 {
				data = StereoToMono(data)
			}
			frame := Frame{
				Data:       data,
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
		}
		bufMu.Unlock()
	}

	device, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		return fmt.Errorf("%w: open capture device: %v", ErrDeviceUnavailable, err)
	}
	defer device.Uninit()

	s.running.Store(true)
	defer s.running.Store(false)

	if err := device.Start(); err != nil {
		return fmt.Errorf("%w: start capture device: %v", ErrDeviceUnavailable, err)
	}

	slog.Info("audio capture started",
		"device", s.DeviceName(),
		"sample_rate", s.cfg.SampleRate,
		"chunk_size", s.cfg.ChunkSize,
	)

	select {
	case <-ctx.Done():
		_ = device.Stop()
		return ctx.Err()
	case <-s.done:
		_ = device.Stop()
		slog.Info("audio capture stopped", "frames", s.captured.Load())
		return nil
	}
}

// Stop requests capture termination. Safe to call multiple times.
func (s *DeviceSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Running reports whether the source is actively capturing.
func (s *DeviceSource) Running() bool { return s.running.Load() }

// DeviceName returns the resolved capture device name, or "" before Start.
func (s *DeviceSource) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceName
}

// Stats returns a snapshot of the capture counters.
func (s *DeviceSource) Stats() CaptureStats {
	return CaptureStats{
		FramesCaptured: s.captured.Load(),
		FramesDropped:  s.dropped.Load(),
		DeviceName:     s.DeviceName(),
	}
}

// selectDevice resolves the configured device selection against the
// enumerated capture devices. A nil result means "use the host default".
func selectDevice(mctx *malgo.AllocatedContext, index int, name string) (*malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}

	if index >= 0 {
		if index >= len(infos) {
			return nil, fmt.Errorf("device index %d out of range (%d devices)", index, len(infos))
		}
		return &infos[index], nil
	}

	if name != "" {
		want := strings.ToLower(name)
		for i := range infos {
			if strings.Contains(strings.ToLower(infos[i].Name()), want) {
				slog.Info("selected capture device by name", "device", infos[i].Name())
				return &infos[i], nil
			}
		}
		return nil, fmt.Errorf("no capture device matching %q", name)
	}

	return nil, nil
}

// ListDevices enumerates the capture devices visible to the host.
func ListDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("audio: init audio backend: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate capture devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

var _ Source = (*DeviceSource)(nil)
