package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeWAVFile(t *testing.T, sampleRate, channels, samples int) string {
	t.Helper()
	pcm := make([]byte, 0, samples*channels*2)
	for i := 0; i < samples*channels; i++ {
		pcm = append(pcm, pcm16(int16(i%1000))...)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, buildWAV(t, sampleRate, channels, pcm), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSourceReplaysFile(t *testing.T) {
	const chunk = 160 // 10ms at 16kHz keeps the test fast
	path := writeWAVFile(t, 16000, 1, chunk*3)

	out := make(chan Frame, 16)
	src := NewFileSource(FileSourceConfig{Path: path, SampleRate: 16000, ChunkSize: chunk}, out)

	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(context.Background()) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not finish")
	}

	close(out)
	var frames []Frame
	for f := range out {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.SampleRate != 16000 {
			t.Errorf("frame %d SampleRate = %d, want 16000", i, f.SampleRate)
		}
		if f.Channels != 1 {
			t.Errorf("frame %d Channels = %d, want 1", i, f.Channels)
		}
		if len(f.Data) != chunk*2 {
			t.Errorf("frame %d len = %d, want %d", i, len(f.Data), chunk*2)
		}
	}
	if frames[1].Timestamp <= frames[0].Timestamp {
		t.Error("timestamps should be strictly increasing")
	}

	stats := src.Stats()
	if stats.FramesCaptured != 3 {
		t.Errorf("FramesCaptured = %d, want 3", stats.FramesCaptured)
	}
	if stats.DeviceName != "file:clip.wav" {
		t.Errorf("DeviceName = %q, want file:clip.wav", stats.DeviceName)
	}
}

func TestFileSourceDownmixesAndResamples(t *testing.T) {
	const chunk = 80
	// 8kHz stereo input; the source must emit mono 16kHz frames.
	path := writeWAVFile(t, 8000, 2, chunk/2*3)

	out := make(chan Frame, 16)
	src := NewFileSource(FileSourceConfig{Path: path, SampleRate: 16000, ChunkSize: chunk}, out)

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	close(out)
	for f := range out {
		if f.Channels != 1 {
			t.Fatalf("Channels = %d, want 1", f.Channels)
		}
		if f.SampleRate != 16000 {
			t.Fatalf("SampleRate = %d, want 16000", f.SampleRate)
		}
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	out := make(chan Frame, 1)
	src := NewFileSource(FileSourceConfig{Path: "/does/not/exist.wav"}, out)
	err := src.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Start() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestFileSourceStop(t *testing.T) {
	const chunk = 160
	path := writeWAVFile(t, 16000, 1, chunk*50)

	out := make(chan Frame, 4)
	src := NewFileSource(FileSourceConfig{Path: path, SampleRate: 16000, ChunkSize: chunk}, out)

	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(context.Background()) }()

	// Let replay begin, then stop it mid-file.
	time.Sleep(30 * time.Millisecond)
	src.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start() after Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
	if src.Running() {
		t.Error("Running() = true after Start returned")
	}
	src.Stop() // second Stop must not panic
}

func TestFileSourceContextCancel(t *testing.T) {
	const chunk = 160
	path := writeWAVFile(t, 16000, 1, chunk*50)

	out := make(chan Frame, 4)
	src := NewFileSource(FileSourceConfig{Path: path, SampleRate: 16000, ChunkSize: chunk}, out)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
