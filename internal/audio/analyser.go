package audio

import (
	"math"
	"sync"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.7
	DefaultMinDB     = -100.0
	DefaultMaxDB     = -30.0
)

// Analyser is a read-only tap over an audio stream. It keeps the most recent
// FFTSize samples and exposes byte time-domain and byte frequency snapshots
// scaled the way browser analyser nodes scale them: time-domain bytes are
// centered on 128, frequency bytes map MinDB..MaxDB onto 0..255.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	ring   []float64
	pos    int
	window []float64
	prev   []float64
	closed bool
}

func NewAnalyser(fftSize int) *Analyser {
	if fftSize <= 0 || fftSize&(fftSize-1) != 0 {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		fftSize:   fftSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDB,
		maxDB:     DefaultMaxDB,
		ring:      make([]float64, fftSize),
		window:    blackman(fftSize),
		prev:      make([]float64, fftSize/2),
	}
}

func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount is half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Write feeds PCM16 samples into the tap. Writes after Close are dropped.
func (a *Analyser) Write(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = Float(s)
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteTimeDomainData fills dst with the latest samples, oldest first.
func (a *Analyser) ByteTimeDomainData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := min(len(dst), a.fftSize)
	start := (a.pos + a.fftSize - n) % a.fftSize
	for i := 0; i < n; i++ {
		v := 128 * (1 + a.ring[(start+i)%a.fftSize])
		dst[i] = clampByte(v)
	}
}

// ByteFrequencyData fills dst with smoothed magnitudes per bin.
func (a *Analyser) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.fftSize
	bins := n / 2
	frame := make([]float64, n)
	for i := 0; i < n; i++ {
		frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	scale := 255 / (a.maxDB - a.minDB)
	for k := 0; k < bins; k++ {
		var re, im float64
		for i, x := range frame {
			angle := 2 * math.Pi * float64(k*i) / float64(n)
			re += x * math.Cos(angle)
			im -= x * math.Sin(angle)
		}
		mag := math.Hypot(re, im) / float64(n)
		a.prev[k] = a.smoothing*a.prev[k] + (1-a.smoothing)*mag
		if k >= len(dst) {
			continue
		}
		db := math.Inf(-1)
		if a.prev[k] > 0 {
			db = 20 * math.Log10(a.prev[k])
		}
		dst[k] = clampByte(scale * (db - a.minDB))
	}
}

// Close detaches the tap; it keeps answering with its last state.
func (a *Analyser) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func (a *Analyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := 0.5*(1-alpha), 0.5, 0.5*alpha
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func clampByte(v float64) byte {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v)
	}
}
