package audio

import (
	"encoding/binary"
	"math"
	"sync"
)

// Spectrum derives a fixed number of magnitude bins from the most
// recent PCM frame. The output drives the cosmetic bar visualizer, so
// a coarse single-frame DFT is plenty; nothing downstream depends on
// its accuracy.
type Spectrum struct {
	mu    sync.Mutex
	bins  int
	frame []int16
}

// NewSpectrum creates a sampler with the given bin count
func NewSpectrum(bins int) *Spectrum {
	if bins <= 0 {
		bins = 24
	}
	return &Spectrum{bins: bins}
}

// Feed records the latest PCM16 little-endian frame
func (s *Spectrum) Feed(pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	s.mu.Lock()
	s.frame = samples
	s.mu.Unlock()
}

// Sample computes magnitudes for each bin from the most recent frame,
// normalized to [0,1]. Before any frame arrives it returns all zeros,
// which renders as an idle visualizer.
func (s *Spectrum) Sample() []float64 {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()

	out := make([]float64, s.bins)
	n := len(frame)
	if n == 0 {
		return out
	}

	// One DFT bin per display bar, spread across the lower half of the
	// spectrum where voice energy lives.
	for b := 0; b < s.bins; b++ {
		k := 1 + b*(n/4)/s.bins
		var re, im float64
		for i, sample := range frame {
			angle := 2 * math.Pi * float64(k) * float64(i) / float64(n)
			v := float64(sample) / 32768.0
			re += v * math.Cos(angle)
			im -= v * math.Sin(angle)
		}
		out[b] = math.Min(1, 2*math.Hypot(re, im)/float64(n)*float64(s.bins))
	}
	return out
}

// Reset clears the recorded frame, returning the sampler to idle
func (s *Spectrum) Reset() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}
