package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func TestFramer(t *testing.T) {
	// 24kHz mono PCM16: 48 bytes per ms, 960 bytes per 20ms frame
	f := NewFramer(24000, 1, 20)
	if f.FrameBytes() != 960 {
		t.Fatalf("expected 960-byte frames, got %d", f.FrameBytes())
	}

	if _, ok := f.Next(); ok {
		t.Error("empty framer should not yield a frame")
	}

	if err := f.Write(make([]byte, 500)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if _, ok := f.Next(); ok {
		t.Error("partial data should not yield a frame")
	}

	if err := f.Write(make([]byte, 1500)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	frame, ok := f.Next()
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if len(frame) != 960 {
		t.Errorf("expected frame of 960 bytes, got %d", len(frame))
	}

	// 2000 - 960 = 1040: one more full frame, then 80 bytes left
	if _, ok := f.Next(); !ok {
		t.Fatal("expected a second complete frame")
	}
	if tail := f.Flush(); len(tail) != 80 {
		t.Errorf("expected 80-byte tail, got %d", len(tail))
	}
}

func makeWAV(sampleRate, channels int, pcm []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
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
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestReadWAVHeader(t *testing.T) {
	pcm := make([]byte, 128)
	r := bytes.NewReader(makeWAV(24000, 1, pcm))

	format, err := readWAVHeader(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format.SampleRate != 24000 {
		t.Errorf("expected 24000 Hz, got %d", format.SampleRate)
	}
	if format.Channels != 1 {
		t.Errorf("expected mono, got %d channels", format.Channels)
	}
	if format.DataSize != 128 {
		t.Errorf("expected data size 128, got %d", format.DataSize)
	}
	// Reader must now be positioned at PCM data
	if remaining := r.Len(); remaining != 128 {
		t.Errorf("expected 128 bytes of PCM remaining, got %d", remaining)
	}
}

func TestReadWAVHeader_RejectsNonPCM(t *testing.T) {
	wav := makeWAV(24000, 1, nil)
	wav[20] = 3 // IEEE float encoding
	if _, err := readWAVHeader(bytes.NewReader(wav)); err == nil {
		t.Error("expected error for non-PCM encoding")
	}
}

func TestReadWAVHeader_RejectsGarbage(t *testing.T) {
	if _, err := readWAVHeader(bytes.NewReader([]byte("OggS this is not wav"))); err == nil {
		t.Error("expected error for non-WAV input")
	}
}

func TestSpectrum(t *testing.T) {
	s := NewSpectrum(24)

	idle := s.Sample()
	if len(idle) != 24 {
		t.Fatalf("expected 24 bins, got %d", len(idle))
	}
	for i, v := range idle {
		if v != 0 {
			t.Errorf("idle bin %d should be 0, got %v", i, v)
		}
	}

	// A loud sine should light up at least one bin
	frame := make([]byte, 960)
	for i := 0; i < len(frame)/2; i++ {
		v := int16(20000 * math.Sin(2*math.Pi*float64(i)/32))
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
	}
	s.Feed(frame)

	active := s.Sample()
	var peak float64
	for _, v := range active {
		if v < 0 || v > 1 {
			t.Errorf("bin magnitude out of range: %v", v)
		}
		if v > peak {
			peak = v
		}
	}
	if peak == 0 {
		t.Error("expected non-zero magnitude for a loud tone")
	}

	s.Reset()
	for i, v := range s.Sample() {
		if v != 0 {
			t.Errorf("bin %d should be 0 after reset, got %v", i, v)
		}
	}
}
