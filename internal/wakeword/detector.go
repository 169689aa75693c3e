// Package wakeword listens continuously for a spoken phrase and fires a
// trigger when it is heard while armed.
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/agnivade/levenshtein"

	"github.com/ent0n29/taskmaster/internal/observability"
	"github.com/ent0n29/taskmaster/internal/speech"
)

// Engine is a continuous recognizer. Every Start produces a run that ends
// with a speech.EventEnd.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan speech.Event
}

type Options struct {
	Phrase string
	// MaxEdits allows fuzzy matches within this Levenshtein distance. Zero
	// means exact containment.
	MaxEdits    int
	ErrorBudget int
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Detector struct {
	engine   Engine
	trigger  func()
	phrase   string
	maxEdits int
	budget   int
	metrics  *observability.Metrics
	logger   *slog.Logger

	startMu sync.Mutex

	mu          sync.Mutex
	listening   bool
	armed       bool
	buffer      string
	audioErrors int
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewDetector(engine Engine, trigger func(), opts Options) *Detector {
	phrase := normalize(opts.Phrase)
	if phrase == "" {
		phrase = "master"
	}
	if opts.ErrorBudget <= 0 {
		opts.ErrorBudget = 3
	}
	if opts.MaxEdits < 0 {
		opts.MaxEdits = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if trigger == nil {
		trigger = func() {}
	}
	return &Detector{
		engine:   engine,
		trigger:  trigger,
		phrase:   phrase,
		maxEdits: opts.MaxEdits,
		budget:   opts.ErrorBudget,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		armed:    true,
	}
}

// Start begins listening. It is a no-op while already listening and revives a
// detector that was suspended by repeated capture errors.
func (d *Detector) Start(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	d.mu.Lock()
	if d.listening {
		d.mu.Unlock()
		return nil
	}
	d.audioErrors = 0
	d.buffer = ""
	d.mu.Unlock()

	if err := d.engine.Start(ctx); err != nil && !errors.Is(err, speech.ErrAlreadyStarted) {
		d.logger.Warn("wakeword failed to start", "err", err)
		return fmt.Errorf("start wakeword recognition: %w", err)
	}

	d.mu.Lock()
	d.listening = true
	if d.done == nil {
		runCtx, cancel := context.WithCancel(ctx)
		d.cancel = cancel
		d.done = make(chan struct{})
		go d.run(runCtx, d.done)
	}
	d.mu.Unlock()
	d.logger.Info("wakeword listening", "phrase", d.phrase)
	return nil
}

// Stop ends listening. The engine's final end event does not restart it.
func (d *Detector) Stop() error {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	d.mu.Lock()
	d.listening = false
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	err := d.engine.Stop()
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

// Arm re-enables triggering. Recognition keeps running while disarmed so the
// agent's own voice is simply ignored.
func (d *Detector) Arm() {
	d.mu.Lock()
	d.armed = true
	d.mu.Unlock()
}

func (d *Detector) Disarm() {
	d.mu.Lock()
	d.armed = false
	d.mu.Unlock()
}

func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

func (d *Detector) run(ctx context.Context, done chan struct{}) {
	defer func() {
		d.mu.Lock()
		if d.done == done {
			d.listening = false
			d.cancel, d.done = nil, nil
		}
		d.mu.Unlock()
		close(done)
	}()
	events := d.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Detector) handle(ctx context.Context, ev speech.Event) {
	switch ev.Type {
	case speech.EventStart:
		d.logger.Debug("wakeword recognition started")
	case speech.EventAudioStart:
		d.mu.Lock()
		d.audioErrors = 0
		d.mu.Unlock()
	case speech.EventResult:
		d.handleResult(ev)
	case speech.EventError:
		d.handleError(ev.Error)
	case speech.EventEnd:
		d.mu.Lock()
		restart := d.listening && d.audioErrors < d.budget
		d.mu.Unlock()
		if !restart {
			return
		}
		if err := d.engine.Start(ctx); err != nil && !errors.Is(err, speech.ErrAlreadyStarted) {
			d.logger.Warn("wakeword failed to restart", "err", err)
			d.mu.Lock()
			d.listening = false
			d.mu.Unlock()
		}
	}
}

func (d *Detector) handleResult(ev speech.Event) {
	incoming := ev.Transcript()

	d.mu.Lock()
	if d.buffer == "" || strings.HasPrefix(strings.ToLower(incoming), strings.ToLower(d.buffer)) {
		d.buffer = incoming
	}
	fire := false
	for i := 0; i < ev.FinalCount(); i++ {
		heard := d.buffer
		d.buffer = ""
		d.logger.Debug("wakeword heard", "text", heard)
		if d.armed && d.matches(heard) {
			d.armed = false
			fire = true
		}
	}
	d.mu.Unlock()

	if fire {
		d.logger.Info("wakeword detected", "phrase", d.phrase)
		d.metrics.ObserveWakeword()
		go d.trigger()
	}
}

func (d *Detector) handleError(code string) {
	if code == speech.ErrorNoSpeech {
		return
	}
	d.logger.Info("wakeword recognition error", "code", code)
	d.metrics.ObserveRecognitionError(code)
	if code != speech.ErrorAudioCapture {
		return
	}
	d.mu.Lock()
	d.audioErrors++
	if d.audioErrors >= d.budget {
		d.listening = false
		d.logger.Error("wakeword microphone capture failed repeatedly", "errors", d.audioErrors)
	}
	d.mu.Unlock()
}

func (d *Detector) matches(text string) bool {
	heard := normalize(text)
	if heard == "" {
		return false
	}
	if strings.Contains(heard, d.phrase) {
		return true
	}
	if d.maxEdits == 0 {
		return false
	}
	return fuzzyContains([]rune(heard), d.phrase, d.maxEdits)
}

// fuzzyContains reports whether some window of heard is within maxEdits of
// phrase.
func fuzzyContains(heard []rune, phrase string, maxEdits int) bool {
	n := len([]rune(phrase))
	minLen := max(1, n-maxEdits)
	maxLen := n + maxEdits
	for size := minLen; size <= maxLen; size++ {
		if size > len(heard) {
			break
		}
		for start := 0; start+size <= len(heard); start++ {
			if levenshtein.ComputeDistance(string(heard[start:start+size]), phrase) <= maxEdits {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
