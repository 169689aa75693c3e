package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskmaster/internal/audio"
)

var ErrAlreadyStarted = errors.New("recognition already started")

// FrameSource supplies microphone frames to the recognizer.
type FrameSource interface {
	Subscribe(buffer int) (<-chan []int16, func())
	SampleRate() int
}

// Engine is a continuous recognizer backed by a websocket recognition
// service. Each Start opens one recognition run that ends with EventEnd.
type Engine struct {
	url    string
	lang   string
	source FrameSource
	dialer websocket.Dialer
	logger *slog.Logger

	events chan Event

	mu      sync.Mutex
	run     *recognitionRun
	started bool
}

type recognitionRun struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	unsub     func()
	closeOnce sync.Once
}

func NewEngine(rawURL, lang string, source FrameSource, logger *slog.Logger) *Engine {
	if strings.TrimSpace(lang) == "" {
		lang = "en-US"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		url:    strings.TrimSpace(rawURL),
		lang:   lang,
		source: source,
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
		events: make(chan Event, 128),
	}
}

func (e *Engine) Events() <-chan Event { return e.events }

// Start opens a recognition run. It fails while a run is active.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.mu.Unlock()

	run, err := e.open(ctx)
	if err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.run = run
	e.mu.Unlock()

	e.emit(Event{Type: EventStart})
	go e.readLoop(run)
	go e.writeLoop(run)
	return nil
}

// Stop ends the active run; the engine still reports EventEnd for it.
func (e *Engine) Stop() error {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return nil
	}
	_ = run.writeJSON(map[string]any{"type": "stop"})
	run.close()
	return nil
}

func (e *Engine) open(ctx context.Context) (*recognitionRun, error) {
	u, err := url.Parse(e.url)
	if err != nil || e.url == "" {
		return nil, fmt.Errorf("recognition url %q is invalid", e.url)
	}
	conn, _, err := e.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial recognition websocket: %w", err)
	}
	run := &recognitionRun{conn: conn, unsub: func() {}}
	sampleRate := 16000
	if e.source != nil {
		sampleRate = e.source.SampleRate()
	}
	if err := run.writeJSON(map[string]any{
		"type":        "start",
		"lang":        e.lang,
		"continuous":  true,
		"interim":     true,
		"sample_rate": sampleRate,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("start recognition: %w", err)
	}
	return run, nil
}

func (e *Engine) readLoop(run *recognitionRun) {
	defer func() {
		run.close()
		e.mu.Lock()
		if e.run == run {
			e.run = nil
			e.started = false
		}
		e.mu.Unlock()
		e.emit(Event{Type: EventEnd})
	}()

	for {
		_, data, err := run.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			e.logger.Debug("recognition message ignored", "err", err)
			continue
		}
		switch ev.Type {
		case EventAudioStart, EventResult, EventError:
			e.emit(ev)
		case EventEnd:
			return
		}
	}
}

func (e *Engine) writeLoop(run *recognitionRun) {
	if e.source == nil {
		return
	}
	frames, unsub := e.source.Subscribe(32)
	run.writeMu.Lock()
	run.unsub = unsub
	run.writeMu.Unlock()
	defer unsub()

	rate := e.source.SampleRate()
	for frame := range frames {
		if err := run.writeJSON(map[string]any{
			"type":         "audio",
			"pcm16_base64": audio.EncodePCM16Base64(frame),
			"sample_rate":  rate,
		}); err != nil {
			return
		}
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("recognition event dropped", "type", ev.Type)
	}
}

func (r *recognitionRun) writeJSON(v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return r.conn.WriteJSON(v)
}

func (r *recognitionRun) close() {
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		unsub := r.unsub
		r.writeMu.Unlock()
		unsub()
		_ = r.conn.Close()
	})
}
