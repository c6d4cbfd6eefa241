package audio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wavFormat holds the fields of a WAV "fmt " chunk we care about
type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// readWAVHeader reads RIFF/fmt/data chunks from r and leaves the
// reader positioned at the start of the PCM data. Only 16-bit PCM is
// accepted; other encodings belong to the browser's media stack.
func readWAVHeader(r io.Reader) (wavFormat, error) {
	var format wavFormat

	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return format, fmt.Errorf("failed to read RIFF descriptor: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return format, fmt.Errorf("not a WAV file")
	}

	// Walk chunks until the data chunk; skip anything else (LIST, fact)
	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			return format, fmt.Errorf("failed to read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return format, fmt.Errorf("fmt chunk too small: %d bytes", chunkSize)
			}
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return format, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			format.AudioFormat = binary.LittleEndian.Uint16(body[0:2])
			format.Channels = binary.LittleEndian.Uint16(body[2:4])
			format.SampleRate = binary.LittleEndian.Uint32(body[4:8])
			format.BitsPerSample = binary.LittleEndian.Uint16(body[14:16])

		case "data":
			if format.SampleRate == 0 {
				return format, fmt.Errorf("data chunk before fmt chunk")
			}
			if format.AudioFormat != 1 || format.BitsPerSample != 16 {
				return format, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d",
					format.AudioFormat, format.BitsPerSample)
			}
			format.DataSize = chunkSize
			return format, nil

		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return format, fmt.Errorf("failed to skip %s chunk: %w", chunkID, err)
			}
		}
	}
}
