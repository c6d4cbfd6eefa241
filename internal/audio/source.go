// Package audio provides the local capture source feeding the peer
// connection's outbound track and the spectrum sampler behind the
// bar-chart visualizer.
package audio

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Source delivers raw PCM16 frames of fixed duration. Implementations
// are owned by the connection manager, which acquires one when voice
// starts and closes it when voice stops.
type Source interface {
	// ReadFrame returns the next PCM frame. io.EOF signals exhaustion.
	ReadFrame() ([]byte, error)
	// SampleRate returns the source sample rate in Hz
	SampleRate() int
	// Channels returns the channel count
	Channels() int
	// FrameDuration returns the duration covered by one frame
	FrameDuration() time.Duration
	// Close releases the underlying capture resource
	Close() error
}

// Acquirer creates sources on demand. The connection manager holds one
// and calls Acquire/Close around the voice-active window.
type Acquirer interface {
	Acquire(ctx context.Context) (Source, error)
}

// CaptureSpec describes the preferred capture parameters. 24 kHz mono
// is what the remote API expects for pcm16 input.
type CaptureSpec struct {
	SampleRate      int
	Channels        int
	FrameDurationMs int
}

// DefaultCaptureSpec returns the capture parameters preferred by the
// remote API.
func DefaultCaptureSpec() CaptureSpec {
	return CaptureSpec{SampleRate: 24000, Channels: 1, FrameDurationMs: 20}
}

// FileAcquirer acquires PCM from a WAV file. It stands in for a real
// capture device in headless deployments and tests; the frame pacing
// is handled by the caller's send loop.
type FileAcquirer struct {
	Path string
	Spec CaptureSpec
}

// Acquire opens the WAV file and wraps it as a frame source
func (a *FileAcquirer) Acquire(ctx context.Context) (Source, error) {
	if a.Path == "" {
		return nil, fmt.Errorf("no audio input file configured")
	}
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio input %s: %w", a.Path, err)
	}

	format, err := readWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse WAV input %s: %w", a.Path, err)
	}

	spec := a.Spec
	if spec.SampleRate == 0 {
		spec = DefaultCaptureSpec()
	}

	return newFileSource(f, format, spec.FrameDurationMs), nil
}

// fileSource frames PCM data read from an open WAV file
type fileSource struct {
	file    *os.File
	format  wavFormat
	framer  *Framer
	frameMs int
	readBuf []byte
}

func newFileSource(f *os.File, format wavFormat, frameMs int) *fileSource {
	if frameMs <= 0 {
		frameMs = 20
	}
	return &fileSource{
		file:    f,
		format:  format,
		framer:  NewFramer(int(format.SampleRate), int(format.Channels), frameMs),
		frameMs: frameMs,
		readBuf: make([]byte, 4096),
	}
}

func (s *fileSource) ReadFrame() ([]byte, error) {
	for {
		if frame, ok := s.framer.Next(); ok {
			return frame, nil
		}
		n, err := s.file.Read(s.readBuf)
		if n > 0 {
			if werr := s.framer.Write(s.readBuf[:n]); werr != nil {
				return nil, werr
			}
			continue
		}
		if err != nil {
			// Flush whatever remains as a short final frame
			if frame := s.framer.Flush(); len(frame) > 0 {
				return frame, nil
			}
			return nil, err
		}
	}
}

func (s *fileSource) SampleRate() int { return int(s.format.SampleRate) }
func (s *fileSource) Channels() int   { return int(s.format.Channels) }

func (s *fileSource) FrameDuration() time.Duration {
	return time.Duration(s.frameMs) * time.Millisecond
}

func (s *fileSource) Close() error { return s.file.Close() }
