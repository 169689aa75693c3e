package wakeword

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/taskmaster/internal/speech"
)

type fakeEngine struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
	events   chan speech.Event
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan speech.Event)}
}

func (f *fakeEngine) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeEngine) Events() <-chan speech.Event { return f.events }

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

// send delivers ev and then a start marker; the marker is only received once
// ev has been fully handled.
func (f *fakeEngine) send(t *testing.T, ev speech.Event) {
	t.Helper()
	for _, e := range []speech.Event{ev, {Type: speech.EventStart}} {
		select {
		case f.events <- e:
		case <-time.After(2 * time.Second):
			t.Fatalf("detector did not consume %s", e.Type)
		}
	}
}

func interim(text string) speech.Event {
	return speech.Event{Type: speech.EventResult, Segments: []speech.Segment{{Transcript: text}}}
}

func final(text string) speech.Event {
	return speech.Event{Type: speech.EventResult, Segments: []speech.Segment{{Transcript: text, Final: true}}}
}

func failure(code string) speech.Event {
	return speech.Event{Type: speech.EventError, Error: code}
}

func startDetector(t *testing.T, opts Options) (*Detector, *fakeEngine, *atomic.Int32) {
	t.Helper()
	engine := newFakeEngine()
	var fired atomic.Int32
	d := NewDetector(engine, func() { fired.Add(1) }, opts)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = d.Stop() })
	return d, engine, &fired
}

func waitFired(t *testing.T, fired *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() != want {
		if time.Now().After(deadline) {
			t.Fatalf("triggers = %d, want %d", fired.Load(), want)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTaskMasterTriggersOnceUntilRearmed(t *testing.T) {
	d, engine, fired := startDetector(t, Options{Phrase: "master"})

	engine.send(t, interim("hey task"))
	engine.send(t, final("Hey Task Master"))
	waitFired(t, fired, 1)
	if d.Armed() {
		t.Fatalf("detector still armed after a match")
	}

	engine.send(t, final("master"))
	if got := fired.Load(); got != 1 {
		t.Fatalf("disarmed detector fired: triggers = %d", got)
	}

	d.Arm()
	engine.send(t, final("okay master"))
	waitFired(t, fired, 2)
	if !d.Listening() {
		t.Fatalf("recognition stopped after a match")
	}
}

func TestMatchIgnoresWhitespaceAndCase(t *testing.T) {
	_, engine, fired := startDetector(t, Options{Phrase: "Task Master"})
	engine.send(t, final("open taskmaster please"))
	waitFired(t, fired, 1)
}

func TestBufferKeepsEarlierTextWhenNotExtended(t *testing.T) {
	_, engine, fired := startDetector(t, Options{Phrase: "master"})

	engine.send(t, interim("hello"))
	// Not a prefix extension of "hello", so the buffer keeps "hello".
	engine.send(t, final("goodbye master"))
	if got := fired.Load(); got != 0 {
		t.Fatalf("triggers = %d, want 0", got)
	}

	// The final result cleared the buffer; the next one replaces it.
	engine.send(t, final("master"))
	waitFired(t, fired, 1)
}

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		name     string
		maxEdits int
		heard    string
		want     bool
	}{
		{name: "exact", maxEdits: 0, heard: "hey master", want: true},
		{name: "typo rejected when exact", maxEdits: 0, heard: "hey mastor", want: false},
		{name: "typo accepted", maxEdits: 1, heard: "hey mastor", want: true},
		{name: "too far", maxEdits: 1, heard: "hey potato", want: false},
		{name: "empty", maxEdits: 2, heard: "   ", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(newFakeEngine(), nil, Options{Phrase: "master", MaxEdits: tt.maxEdits})
			if got := d.matches(tt.heard); got != tt.want {
				t.Fatalf("matches(%q) = %v, want %v", tt.heard, got, tt.want)
			}
		})
	}
}

func TestEndRestartsWhileListening(t *testing.T) {
	_, engine, _ := startDetector(t, Options{})
	engine.send(t, failure(speech.ErrorNoSpeech))
	engine.send(t, speech.Event{Type: speech.EventEnd})
	if got := engine.startCount(); got != 2 {
		t.Fatalf("starts = %d, want 2", got)
	}
}

func TestAudioCaptureErrorsSuspend(t *testing.T) {
	d, engine, _ := startDetector(t, Options{ErrorBudget: 3})

	engine.send(t, failure(speech.ErrorAudioCapture))
	engine.send(t, failure(speech.ErrorAudioCapture))
	engine.send(t, speech.Event{Type: speech.EventAudioStart})
	engine.send(t, failure(speech.ErrorAudioCapture))
	engine.send(t, failure(speech.ErrorAudioCapture))
	if !d.Listening() {
		t.Fatalf("audio start should reset the error count")
	}
	engine.send(t, failure(speech.ErrorAudioCapture))
	if d.Listening() {
		t.Fatalf("detector still listening after 3 consecutive capture errors")
	}
	engine.send(t, speech.Event{Type: speech.EventEnd})
	if got := engine.startCount(); got != 1 {
		t.Fatalf("starts = %d, want 1 (no restart while suspended)", got)
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() after suspension error = %v", err)
	}
	if !d.Listening() || engine.startCount() != 2 {
		t.Fatalf("Start() did not revive the detector")
	}
}

func TestStopPreventsRestart(t *testing.T) {
	engine := newFakeEngine()
	d := NewDetector(engine, nil, Options{})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := d.Start(context.Background()); err != nil || engine.startCount() != 1 {
		t.Fatalf("second Start() = %v, starts = %d", err, engine.startCount())
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if d.Listening() {
		t.Fatalf("Listening() = true after Stop")
	}
	select {
	case engine.events <- speech.Event{Type: speech.EventEnd}:
		t.Fatalf("stopped detector still consumes events")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStartFailure(t *testing.T) {
	engine := newFakeEngine()
	engine.startErr = errors.New("no recognizer")
	d := NewDetector(engine, nil, Options{})
	if err := d.Start(context.Background()); err == nil {
		t.Fatalf("Start() error = nil, want failure")
	}
	if d.Listening() {
		t.Fatalf("Listening() = true after failed start")
	}
}
