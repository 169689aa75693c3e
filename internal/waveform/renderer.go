// Package waveform renders the live mirrored bar spectrum and the synthetic
// "thinking" ripple.
package waveform

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	BarWidth     = 3.0
	BarGap       = 2.0
	MinBarHeight = 2.0

	// Bins read from each analyser; bars sample the lower half.
	FrequencyBins = 128
	sampledBins   = 64

	// SpeakingThreshold is the mic bin sum that ends thinking mode.
	SpeakingThreshold = 1000

	spreadSpeed   = 40.0 // bars per second
	waveSpeed     = 3.0
	waveFrequency = 0.3
	waveAmplitude = 0.4
)

// Spectra supplies the analyser taps. Absent taps must read as silence.
type Spectra interface {
	ReadSpectra(mic, agent []byte) (hasMic, hasAgent bool)
}

// ThinkingFlag is the shared thinking state; the renderer may clear it.
type ThinkingFlag interface {
	State() (bool, time.Time)
	Clear()
}

// Frame is one rendered frame. Bars holds half-bar heights from the center
// outwards; the other half mirrors it.
type Frame struct {
	Width     float64
	Height    float64
	MaxHeight float64
	Thinking  bool
	Bars      []float64
}

type Sink interface {
	Draw(Frame) error
}

type Options struct {
	Width    float64
	Height   float64
	Interval time.Duration
	Logger   *slog.Logger
}

type Renderer struct {
	spectra  Spectra
	thinking ThinkingFlag
	sink     Sink
	width    float64
	height   float64
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mic   []byte
	agent []byte

	mu    sync.Mutex
	frame sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

func NewRenderer(spectra Spectra, thinking ThinkingFlag, sink Sink, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = 400
	}
	if opts.Height <= 0 {
		opts.Height = 80
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second / 60
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Renderer{
		spectra:  spectra,
		thinking: thinking,
		sink:     sink,
		width:    opts.Width,
		height:   opts.Height,
		interval: opts.Interval,
		now:      time.Now,
		logger:   opts.Logger,
		mic:      make([]byte, FrequencyBins),
		agent:    make([]byte, FrequencyBins),
	}
}

// HalfBars is the number of bars on each side of the center.
func HalfBars(width float64) int {
	return int(math.Floor((width / 2) / (BarWidth + BarGap)))
}

// Start begins drawing once per interval. Starting a running renderer is a
// no-op.
func (r *Renderer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)
}

// Stop halts drawing and waits for the current frame to finish.
func (r *Renderer) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	if c, ok := r.sink.(interface{ Clear() }); ok {
		c.Clear()
	}
}

func (r *Renderer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}

func (r *Renderer) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.draw()
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (r *Renderer) draw() {
	f := r.Frame()
	if err := r.sink.Draw(f); err != nil {
		r.logger.Debug("waveform frame dropped", "err", err)
	}
}

// Frame samples the taps and computes one frame. While thinking, live mic
// energy above SpeakingThreshold clears the thinking flag first.
func (r *Renderer) Frame() Frame {
	r.frame.Lock()
	defer r.frame.Unlock()

	hasMic, _ := r.spectra.ReadSpectra(r.mic, r.agent)
	thinking, since := r.thinking.State()
	if thinking && hasMic && sum(r.mic) > SpeakingThreshold {
		r.thinking.Clear()
		thinking = false
	}

	halfBars := HalfBars(r.width)
	maxHeight := r.height/2 - 4
	f := Frame{
		Width:     r.width,
		Height:    r.height,
		MaxHeight: maxHeight,
		Thinking:  thinking,
		Bars:      make([]float64, halfBars),
	}
	elapsed := r.now().Sub(since).Seconds()
	for i := range f.Bars {
		if thinking {
			f.Bars[i] = rippleHeight(i, elapsed, maxHeight)
			continue
		}
		idx := int(math.Floor(float64(i) / float64(halfBars) * sampledBins))
		v := max(r.mic[idx], r.agent[idx])
		f.Bars[i] = max(MinBarHeight, float64(v)/255*maxHeight)
	}
	return f
}

// rippleHeight is the outward-propagating thinking wave. Bars the wave has
// not reached yet stay at the floor.
func rippleHeight(i int, elapsed, maxHeight float64) float64 {
	if float64(i) > elapsed*spreadSpeed {
		return MinBarHeight
	}
	phase := elapsed*waveSpeed - float64(i)*waveFrequency
	wave := math.Sin(phase)*0.5 + 0.5
	return MinBarHeight + wave*maxHeight*waveAmplitude
}

func sum(b []byte) int {
	total := 0
	for _, v := range b {
		total += int(v)
	}
	return total
}
