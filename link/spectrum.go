package link

import (
	"math/cmplx"

	"github.com/golang/glog"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// DefaultSpectrumWindow is the number of signal readings per origin that
// are decomposed into frequency bins.
const DefaultSpectrumWindow = 16

// MaxSpectrumOrigins bounds the number of origins with a window.
// Randomized client addresses would otherwise grow it without limit.
const MaxSpectrumOrigins = 4096

// Spectrum derives frequency bin energies from a sliding window of signal
// readings kept per origin. The window mean is removed before the transform
// so a steady signal carries no energy. When more than MaxSpectrumOrigins
// origins are tracked, the least recently heard half is forgotten. Not safe
// for concurrent use.
type Spectrum struct {
	size    int
	limit   int
	fft     *fourier.FFT
	windows map[Addr]*window
	// tick counts readings; window.seen holds the tick of the last one.
	tick uint64
}

type window struct {
	readings []float64
	seen     uint64
}

func NewSpectrum(size int) *Spectrum {
	if size < 2 {
		size = DefaultSpectrumWindow
	}
	return &Spectrum{
		size:    size,
		limit:   MaxSpectrumOrigins,
		fft:     fourier.NewFFT(size),
		windows: map[Addr]*window{},
	}
}

// Origins returns the number of origins with a window.
func (s *Spectrum) Origins() int {
	return len(s.windows)
}

// Add records a reading for origin. Once the origin's window is full, it
// returns the magnitude of each bin scaled by the window length.
func (s *Spectrum) Add(origin Addr, signal int) Optional[[]float64] {
	s.tick++
	win, ok := s.windows[origin]
	if !ok {
		if len(s.windows) >= s.limit {
			s.evict()
		}
		win = &window{}
		s.windows[origin] = win
	}
	win.seen = s.tick
	w := append(win.readings, float64(signal))
	if len(w) > s.size {
		w = w[len(w)-s.size:]
	}
	win.readings = w
	if len(w) < s.size {
		return None[[]float64]()
	}

	mean := stat.Mean(w, nil)
	centered := make([]float64, len(w))
	for i, v := range w {
		centered[i] = v - mean
	}
	coeffs := s.fft.Coefficients(nil, centered)
	bins := make([]float64, len(coeffs))
	for i, c := range coeffs {
		bins[i] = cmplx.Abs(c) / float64(s.size)
	}
	return Some(bins)
}

// evict drops every origin not heard within the last limit/2 readings.
// Seen ticks are distinct, so at most half the windows survive.
func (s *Spectrum) evict() {
	keep := uint64(max(s.limit/2, 1))
	dropped := 0
	for origin, win := range s.windows {
		if s.tick-win.seen >= keep {
			delete(s.windows, origin)
			dropped++
		}
	}
	glog.V(1).Infof("spectrum: forgot %d idle origins, %d remain", dropped, len(s.windows))
}
