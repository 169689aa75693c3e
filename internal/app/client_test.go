package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/config"
	"github.com/ent0n29/taskmaster/internal/micprobe"
	"github.com/ent0n29/taskmaster/internal/protocol"
	"github.com/ent0n29/taskmaster/internal/session"
	"github.com/ent0n29/taskmaster/internal/speech"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeSource hands every subscriber one loud frame.
type fakeSource struct {
	startErr error
	starts   atomic.Int32
}

func (s *fakeSource) Start(context.Context) error {
	s.starts.Add(1)
	return s.startErr
}

func (s *fakeSource) Subscribe(int) (<-chan []int16, func()) {
	ch := make(chan []int16, 1)
	ch <- []int16{12000, -12000, 12000, -12000}
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (s *fakeSource) SampleRate() int { return 16000 }

type fakePlayer struct {
	mu       sync.Mutex
	unlocked int
	played   []audio.Cue
}

func (p *fakePlayer) Unlock() error {
	p.mu.Lock()
	p.unlocked++
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Play(_ context.Context, cue audio.Cue) error {
	p.mu.Lock()
	p.played = append(p.played, cue)
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) count(cue audio.Cue) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.played {
		if c == cue {
			n++
		}
	}
	return n
}

type fakeEngine struct {
	events chan speech.Event
}

func (e *fakeEngine) Start(context.Context) error  { return nil }
func (e *fakeEngine) Stop() error                  { return nil }
func (e *fakeEngine) Events() <-chan speech.Event { return e.events }

// backend serves the token endpoint and a media room on one test server.
type backend struct {
	tokens    atomic.Int32
	published atomic.Int32
	left      atomic.Int32
	url       string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/livekit", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["agentConfig"] == nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		b.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"token":     "tok",
			"url":       "ws" + strings.TrimPrefix(b.url, "http"),
			"room_name": "agent-room-1",
		})
	})
	mux.HandleFunc("/rtc", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(protocol.RoomConnected{Type: protocol.TypeRoomConnected, Room: "agent-room-1", Identity: "user-1"})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseClientMessage(data)
			if err != nil {
				continue
			}
			switch msg.(type) {
			case protocol.PublishTrack:
				b.published.Add(1)
			case protocol.Leave:
				b.left.Add(1)
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	b.url = srv.URL
	return b
}

func testConfig(serverURL string) config.Config {
	return config.Config{
		ServerURL:           serverURL,
		FrameRate:           200,
		MutedFlatFrames:     5,
		InactivityTimeout:   time.Minute,
		HandoffDelay:        5 * time.Millisecond,
		Wakeword:            "master",
		WakewordErrorBudget: 3,
	}
}

var fastStage = StageTimings{Shrink: time.Millisecond, Stretch: time.Millisecond, ReverseStep: time.Millisecond, ReverseSteps: 1}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestActivateThenToggleSession(t *testing.T) {
	b := newBackend(t)
	out := &lockedBuffer{}
	player := &fakePlayer{}
	c := New(testConfig(b.url), Deps{Source: &fakeSource{}, Sounds: player, StageTimings: fastStage, Out: out})
	defer c.Close()

	if err := c.Toggle(context.Background()); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("Toggle() before activation error = %v, want ErrNotActivated", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result, err := c.Activate(ctx)
	if result != micprobe.Revealed || err != nil {
		t.Fatalf("Activate() = %v, %v", result, err)
	}
	if player.unlocked != 1 {
		t.Fatalf("player unlocked %d times, want 1", player.unlocked)
	}
	if c.Detector() != nil {
		t.Fatalf("detector created without a recognition engine")
	}
	if !strings.Contains(out.String(), "Press Enter") {
		t.Fatalf("ready hint missing from %q", out.String())
	}
	waitFor(t, "preload token", func() bool { return b.tokens.Load() == 1 })

	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() connect error = %v", err)
	}
	if got := c.Connector().State(); got != session.Connected {
		t.Fatalf("state = %s, want connected", got)
	}
	waitFor(t, "microphone publish", func() bool { return b.published.Load() == 1 })
	waitFor(t, "stage hand-off", func() bool { return c.Stage().Phase() == PhaseHidden })
	if player.count(audio.CueAcknowledgement) != 1 {
		t.Fatalf("acknowledgement played %d times", player.count(audio.CueAcknowledgement))
	}
	if b.tokens.Load() != 1 {
		t.Fatalf("connect minted %d tokens, want the preloaded one", b.tokens.Load())
	}

	if err := c.Toggle(ctx); err != nil {
		t.Fatalf("Toggle() disconnect error = %v", err)
	}
	if got := c.Connector().State(); got != session.Preloading {
		t.Fatalf("state after stop = %s, want preloading", got)
	}
	if c.Stage().Phase() != PhaseResting {
		t.Fatalf("stage phase = %s, want resting", c.Stage().Phase())
	}
	waitFor(t, "room leave", func() bool { return b.left.Load() == 1 })
	waitFor(t, "turning off cue", func() bool { return player.count(audio.CueTurningOff) == 1 })
	waitFor(t, "next preload", func() bool { return b.tokens.Load() == 2 })

	c.Close()
	if got := c.Connector().State(); got != session.Idle {
		t.Fatalf("state after Close = %s, want idle", got)
	}
	time.Sleep(20 * time.Millisecond)
	if b.tokens.Load() != 2 {
		t.Fatalf("Close() requested another token; total %d", b.tokens.Load())
	}
}

func TestActivateDeniedKeepsFeaturesHidden(t *testing.T) {
	out := &lockedBuffer{}
	player := &fakePlayer{}
	source := &fakeSource{startErr: audio.ErrPermissionDenied}
	c := New(testConfig("http://127.0.0.1:1"), Deps{Source: source, Sounds: player, Out: out})
	defer c.Close()

	result, err := c.Activate(context.Background())
	if result != micprobe.Denied || !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("Activate() = %v, %v, want denied", result, err)
	}
	if !strings.Contains(out.String(), "denied") {
		t.Fatalf("denied hint missing from %q", out.String())
	}
	if player.unlocked != 0 || c.Connector().State() != session.Idle {
		t.Fatalf("denied activation unlocked=%d state=%s", player.unlocked, c.Connector().State())
	}
	if err := c.Toggle(context.Background()); !errors.Is(err, ErrNotActivated) {
		t.Fatalf("Toggle() error = %v, want ErrNotActivated", err)
	}
}

func TestWakewordStartsSession(t *testing.T) {
	b := newBackend(t)
	engine := &fakeEngine{events: make(chan speech.Event)}
	cfg := testConfig(b.url)
	cfg.WakewordEnabled = true
	out := &lockedBuffer{}
	c := New(cfg, Deps{Source: &fakeSource{}, Sounds: &fakePlayer{}, Engine: engine, StageTimings: fastStage, Out: out})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if result, err := c.Activate(ctx); result != micprobe.Revealed {
		t.Fatalf("Activate() = %v, %v", result, err)
	}
	if !c.Detector().Listening() || !strings.Contains(out.String(), `Say "master"`) {
		t.Fatalf("wakeword not listening after activation; output %q", out.String())
	}

	engine.events <- speech.Event{Type: speech.EventResult, Segments: []speech.Segment{{Transcript: "task master", Final: true}}}
	waitFor(t, "wakeword session", func() bool { return c.Connector().State() == session.Connected })
	if c.Detector().Armed() {
		t.Fatalf("detector still armed during a session")
	}

	c.Close()
	if c.Connector().State().Active() {
		t.Fatalf("Close() left state %s", c.Connector().State())
	}
	if !c.Detector().Armed() || c.Detector().Listening() {
		t.Fatalf("after Close armed=%v listening=%v", c.Detector().Armed(), c.Detector().Listening())
	}
}

func TestRunTogglesOnInput(t *testing.T) {
	b := newBackend(t)
	c := New(testConfig(b.url), Deps{Source: &fakeSource{}, Sounds: &fakePlayer{}, StageTimings: fastStage, Out: &lockedBuffer{}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Run(ctx, strings.NewReader("\n\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	waitFor(t, "microphone publish", func() bool { return b.published.Load() == 1 })
	waitFor(t, "room leave", func() bool { return b.left.Load() == 1 })
}
