// Package mock provides test doubles for the audio package.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cliolabs/clio/pkg/audio"
)

// Source is a scriptable audio.Source for tests. Configure Frames to have
// them pushed into the queue on Start; configure StartErr to simulate a
// device failure.
type Source struct {
	// Frames are pushed to the output queue in order when Start runs.
	Frames []audio.Frame

	// StartErr, when non-nil, is returned by Start immediately without
	// producing frames.
	StartErr error

	// Name is reported in Stats.DeviceName.
	Name string

	// Block, when true, keeps Start running after all frames are emitted
	// until Stop or context cancellation.
	Block bool

	out chan<- audio.Frame

	running  atomic.Bool
	captured atomic.Uint64
	dropped  atomic.Uint64

	done     chan struct{}
	initOnce sync.Once
	stopOnce sync.Once

	mu         sync.Mutex
	StartCalls int
	StopCalls  int
}

// Bind attaches the output queue. Must be called before Start.
func (s *Source) Bind(out chan<- audio.Frame) { s.out = out }

func (s *Source) init() {
	s.initOnce.Do(func() {
		s.done = make(chan struct{})
	})
}

func (s *Source) Start(ctx context.Context) error {
	s.init()
	s.mu.Lock()
	s.StartCalls++
	s.mu.Unlock()

	if s.StartErr != nil {
		return s.StartErr
	}

	s.running.Store(true)
	defer s.running.Store(false)

	for _, f := range s.Frames {
		select {
		case s.out <- f:
			s.captured.Add(1)
		default:
			s.dropped.Add(1)
		}
	}

	if !s.Block {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return nil
	}
}

func (s *Source) Stop() {
	s.init()
	s.mu.Lock()
	s.StopCalls++
	s.mu.Unlock()
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Source) Running() bool { return s.running.Load() }

func (s *Source) Stats() audio.CaptureStats {
	name := s.Name
	if name == "" {
		name = "mock"
	}
	return audio.CaptureStats{
		FramesCaptured: s.captured.Load(),
		FramesDropped:  s.dropped.Load(),
		DeviceName:     name,
	}
}

var _ audio.Source = (*Source)(nil)
