package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildWAV assembles a minimal RIFF/WAVE byte stream around raw 16-bit PCM.
func buildWAV(t *testing.T, sampleRate, channels int, pcm []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	dataLen := len(pcm)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}

func TestDecodeWAVHeader(t *testing.T) {
	pcm := pcm16(1, 2, 3, 4)
	wav := buildWAV(t, 16000, 1, pcm)

	r := bytes.NewReader(wav)
	format, dataLen, err := decodeWAVHeader(r)
	if err != nil {
		t.Fatalf("decodeWAVHeader() error = %v", err)
	}
	if format.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", format.SampleRate)
	}
	if format.Channels != 1 {
		t.Errorf("Channels = %d, want 1", format.Channels)
	}
	if dataLen != len(pcm) {
		t.Errorf("dataLen = %d, want %d", dataLen, len(pcm))
	}

	// Reader should now sit at the PCM payload.
	rest := make([]byte, dataLen)
	if _, err := r.Read(rest); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if !bytes.Equal(rest, pcm) {
		t.Error("payload after header does not match written PCM")
	}
}

func TestDecodeWAVHeaderSkipsUnknownChunks(t *testing.T) {
	pcm := pcm16(7, 8)
	wav := buildWAV(t, 8000, 2, pcm)

	// Splice a LIST chunk between fmt and data.
	list := []byte("LIST")
	list = binary.LittleEndian.AppendUint32(list, 5)
	list = append(list, 'I', 'N', 'F', 'O', 'x', 0) // odd size, padded

	dataIdx := bytes.Index(wav, []byte("data"))
	spliced := append(append(append([]byte(nil), wav[:dataIdx]...), list...), wav[dataIdx:]...)

	format, dataLen, err := decodeWAVHeader(bytes.NewReader(spliced))
	if err != nil {
		t.Fatalf("decodeWAVHeader() error = %v", err)
	}
	if format.SampleRate != 8000 || format.Channels != 2 {
		t.Errorf("format = %+v, want 8000 Hz stereo", format)
	}
	if dataLen != len(pcm) {
		t.Errorf("dataLen = %d, want %d", dataLen, len(pcm))
	}
}

func TestDecodeWAVHeaderRejects(t *testing.T) {
	t.Run("not RIFF", func(t *testing.T) {
		_, _, err := decodeWAVHeader(bytes.NewReader([]byte("OggS\x00\x00\x00\x00\x00\x00\x00\x00")))
		if !errors.Is(err, errNotWAV) {
			t.Errorf("error = %v, want errNotWAV", err)
		}
	})

	t.Run("truncated fmt chunk", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteString("RIFF")
		binary.Write(&buf, binary.LittleEndian, uint32(4+8+14))
		buf.WriteString("WAVE")
		buf.WriteString("fmt ")
		binary.Write(&buf, binary.LittleEndian, uint32(14)) // too short for PCM
		binary.Write(&buf, binary.LittleEndian, uint16(1))
		binary.Write(&buf, binary.LittleEndian, uint16(1))
		binary.Write(&buf, binary.LittleEndian, uint32(16000))
		binary.Write(&buf, binary.LittleEndian, uint32(32000))
		binary.Write(&buf, binary.LittleEndian, uint16(2))

		_, _, err := decodeWAVHeader(bytes.NewReader(buf.Bytes()))
		if err == nil {
			t.Error("decodeWAVHeader() accepted a 14-byte fmt chunk")
		}
	})

	t.Run("non-PCM format code", func(t *testing.T) {
		wav := buildWAV(t, 16000, 1, pcm16(0))
		fmtIdx := bytes.Index(wav, []byte("fmt "))
		wav[fmtIdx+8] = 3 // IEEE float
		_, _, err := decodeWAVHeader(bytes.NewReader(wav))
		if err == nil {
			t.Error("decodeWAVHeader() accepted non-PCM format")
		}
	})
}
