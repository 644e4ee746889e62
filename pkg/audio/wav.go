package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// wavFormat holds the fields of a RIFF/WAV fmt chunk that the file source
// cares about.
type wavFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

var errNotWAV = errors.New("audio: not a RIFF/WAVE file")

// decodeWAVHeader reads the RIFF header and chunk list from r, returning the
// format of the first "fmt " chunk and positioning r at the start of the
// "data" chunk payload. dataLen is the byte length of the PCM payload.
// Only uncompressed 16-bit PCM is supported.
func decodeWAVHeader(r io.Reader) (f wavFormat, dataLen int, err error) {
	var riff [12]byte
	if _, err = io.ReadFull(r, riff[:]); err != nil {
		return f, 0, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return f, 0, errNotWAV
	}

	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err = io.ReadFull(r, hdr[:]); err != nil {
			return f, 0, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return f, 0, fmt.Errorf("audio: fmt chunk too short: %d bytes", size)
			}
			buf := make([]byte, size)
			if _, err = io.ReadFull(r, buf); err != nil {
				return f, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(buf[0:2])
			if format != 1 { // PCM
				return f, 0, fmt.Errorf("audio: unsupported WAV format code %d (want PCM)", format)
			}
			f.Channels = int(binary.LittleEndian.Uint16(buf[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(buf[4:8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(buf[14:16]))
			if f.BitsPerSample != 16 {
				return f, 0, fmt.Errorf("audio: unsupported WAV bit depth %d (want 16)", f.BitsPerSample)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return f, 0, errors.New("audio: WAV data chunk before fmt chunk")
			}
			return f, size, nil

		default:
			// Skip unknown chunks (LIST, fact, ...). Chunk sizes are padded
			// to even byte counts.
			skip := int64(size + size%2)
			if _, err = io.CopyN(io.Discard, r, skip); err != nil {
				return f, 0, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
