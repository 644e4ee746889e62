package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestInt16ToFloat32LE(t *testing.T) {
	in := pcm16(0, 16384, -16384, 32767, -32768)
	out := Int16ToFloat32LE(in)
	if len(out) != len(in)*2 {
		t.Fatalf("output length = %d, want %d", len(out), len(in)*2)
	}

	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0, -1}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[i*4:]))
		if diff := math.Abs(float64(got - w)); diff > 1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got, w)
		}
	}
}

func TestInt16ToFloat32LERange(t *testing.T) {
	in := make([]byte, 0, 512)
	for s := int32(-32768); s < 32768; s += 256 {
		in = append(in, pcm16(int16(s))...)
	}
	out := Int16ToFloat32LE(in)
	for i := 0; i < len(out); i += 4 {
		f := math.Float32frombits(binary.LittleEndian.Uint32(out[i:]))
		if f < -1 || f > 1 {
			t.Fatalf("sample %d = %v, outside [-1, 1]", i/4, f)
		}
	}
}

func TestStereoToMono(t *testing.T) {
	in := pcm16(100, 300, -100, 100, 32767, 32767)
	got := StereoToMono(in)
	want := pcm16(200, 0, 32767)
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Run("same rate is identity", func(t *testing.T) {
		in := pcm16(1, 2, 3, 4)
		got := ResampleMono16(in, 16000, 16000)
		if string(got) != string(in) {
			t.Error("resample at same rate should return input unchanged")
		}
	})

	t.Run("downsample halves length", func(t *testing.T) {
		in := make([]byte, 0, 200)
		for i := 0; i < 100; i++ {
			in = append(in, pcm16(int16(i))...)
		}
		got := ResampleMono16(in, 32000, 16000)
		if len(got) != 100 {
			t.Errorf("downsampled length = %d bytes, want 100", len(got))
		}
	})

	t.Run("upsample doubles length", func(t *testing.T) {
		in := make([]byte, 0, 100)
		for i := 0; i < 50; i++ {
			in = append(in, pcm16(int16(i*100))...)
		}
		got := ResampleMono16(in, 8000, 16000)
		if len(got) != 200 {
			t.Errorf("upsampled length = %d bytes, want 200", len(got))
		}
	})
}
