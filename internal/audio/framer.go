package audio

import (
	"bytes"
	"fmt"
)

// Framer slices an incoming PCM16 byte stream into fixed-duration
// frames suitable for the outbound media track.
type Framer struct {
	sampleRate int
	channels   int
	frameMs    int
	buffer     *bytes.Buffer
	frameBytes int
}

// NewFramer creates a framer for the given PCM parameters
func NewFramer(sampleRate, channels, frameMs int) *Framer {
	// PCM16 carries 2 bytes per sample per channel
	bytesPerMs := (sampleRate * channels * 2) / 1000
	return &Framer{
		sampleRate: sampleRate,
		channels:   channels,
		frameMs:    frameMs,
		buffer:     bytes.NewBuffer(nil),
		frameBytes: frameMs * bytesPerMs,
	}
}

// Write appends PCM data to the framer's buffer
func (f *Framer) Write(data []byte) error {
	if _, err := f.buffer.Write(data); err != nil {
		return fmt.Errorf("failed to buffer audio data: %w", err)
	}
	return nil
}

// Next returns the next complete frame, or false if not enough data
// has been buffered yet.
func (f *Framer) Next() ([]byte, bool) {
	if f.buffer.Len() < f.frameBytes {
		return nil, false
	}
	frame := make([]byte, f.frameBytes)
	n, _ := f.buffer.Read(frame)
	return frame[:n], true
}

// Flush returns whatever partial frame remains and resets the buffer
func (f *Framer) Flush() []byte {
	if f.buffer.Len() == 0 {
		return nil
	}
	frame := make([]byte, f.buffer.Len())
	f.buffer.Read(frame)
	return frame
}

// FrameBytes returns the size of a complete frame in bytes
func (f *Framer) FrameBytes() int {
	return f.frameBytes
}
