package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/protocol"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

func (l *eventLog) count(ev string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == ev {
			n++
		}
	}
	return n
}

func (l *eventLog) index(ev string) int {
	return slices.Index(l.snapshot(), ev)
}

func (l *eventLog) lastIndex(ev string) int {
	events := l.snapshot()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i] == ev {
			return i
		}
	}
	return -1
}

type fakeTrack struct {
	sid, kind, source, participant string

	// gate, when set, holds Attach until closed.
	gate      chan struct{}
	attaching atomic.Bool

	mu       sync.Mutex
	sink     func([]int16)
	detached bool
}

func (t *fakeTrack) SID() string         { return t.sid }
func (t *fakeTrack) Kind() string        { return t.kind }
func (t *fakeTrack) Source() string      { return t.source }
func (t *fakeTrack) Participant() string { return t.participant }

func (t *fakeTrack) Attach(sink func([]int16)) func() {
	t.attaching.Store(true)
	if t.gate != nil {
		<-t.gate
	}
	t.mu.Lock()
	t.sink = sink
	t.detached = false
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.detached = true
		t.sink = nil
		t.mu.Unlock()
	}
}

func (t *fakeTrack) push(samples []int16) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink(samples)
	}
}

func (t *fakeTrack) isDetached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detached
}

type fakeRoom struct {
	name string
	log  *eventLog

	mu          sync.Mutex
	cb          RoomCallbacks
	text        map[string]func(TextStream)
	rpc         map[string]RPCHandler
	connectErr  error
	connects    int
	disconnects int
	connected   bool
	micGate     chan struct{}
	mic         *fakeTrack
}

func (r *fakeRoom) Name() string { return r.name }

func (r *fakeRoom) SetCallbacks(cb RoomCallbacks) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

func (r *fakeRoom) RegisterTextStreamHandler(topic string, h func(TextStream)) {
	r.mu.Lock()
	r.text[topic] = h
	r.mu.Unlock()
}

func (r *fakeRoom) RegisterRPCMethod(method string, h RPCHandler) {
	r.mu.Lock()
	r.rpc[method] = h
	r.mu.Unlock()
}

func (r *fakeRoom) Connect(_ context.Context, url, token string) error {
	r.mu.Lock()
	r.connects++
	err := r.connectErr
	if err == nil {
		r.connected = true
	}
	cb := r.cb
	r.mu.Unlock()
	r.log.add("room.connect")
	if err != nil {
		return err
	}
	if cb.OnConnected != nil {
		cb.OnConnected()
	}
	return nil
}

func (r *fakeRoom) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	if !enabled {
		return nil
	}
	r.mu.Lock()
	track := &fakeTrack{sid: "TR_mic", kind: protocol.KindAudio, source: protocol.SourceMicrophone, participant: "user-1", gate: r.micGate}
	r.mic = track
	cb := r.cb
	r.mu.Unlock()
	if cb.OnLocalTrackPublished != nil {
		cb.OnLocalTrackPublished(track)
	}
	return nil
}

func (r *fakeRoom) MicrophoneTrack() (Track, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mic == nil {
		return nil, false
	}
	return r.mic, true
}

// Disconnect reports the disconnect back through the callbacks, the way a
// real room does for local disconnects.
func (r *fakeRoom) Disconnect() error {
	r.mu.Lock()
	r.disconnects++
	wasConnected := r.connected
	r.connected = false
	cb := r.cb
	r.mu.Unlock()
	r.log.add("room.disconnect")
	if wasConnected && cb.OnDisconnected != nil {
		cb.OnDisconnected("client_initiated")
	}
	return nil
}

func (r *fakeRoom) micTrack() *fakeTrack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mic
}

func (r *fakeRoom) callbacks() RoomCallbacks {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cb
}

func (r *fakeRoom) textHandler(topic string) func(TextStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text[topic]
}

func (r *fakeRoom) rpcHandler(method string) RPCHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rpc[method]
}

func (r *fakeRoom) counts() (connects, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, r.disconnects
}

type fakeTokens struct {
	mu   sync.Mutex
	err  error
	gate chan struct{}
	cfgs []agent.Config
}

func (f *fakeTokens) FetchToken(ctx context.Context, cfg agent.Config) (Credentials, error) {
	f.mu.Lock()
	f.cfgs = append(f.cfgs, cfg)
	gate, err := f.gate, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: "jwt", URL: "wss://media.example.com", RoomName: "agent-room-test"}, nil
}

func (f *fakeTokens) configs() []agent.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.cfgs)
}

type fakeStage struct {
	log        *eventLog
	shrinkGate chan struct{}
}

func (s *fakeStage) Shrink(ctx context.Context) error {
	s.log.add("shrink")
	if s.shrinkGate != nil {
		select {
		case <-s.shrinkGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (s *fakeStage) Stretch(context.Context) error {
	time.Sleep(5 * time.Millisecond)
	s.log.add("stretch")
	return nil
}

func (s *fakeStage) HandOff() { s.log.add("handoff") }
func (s *fakeStage) Revert()  { s.log.add("revert") }

func (s *fakeStage) Reverse(context.Context) error {
	s.log.add("reverse")
	time.Sleep(15 * time.Millisecond)
	s.log.add("reverse.done")
	return nil
}

type fakeSounds struct {
	log     *eventLog
	ackGate chan struct{}
}

func (s *fakeSounds) Play(ctx context.Context, cue audio.Cue) error {
	if cue == audio.CueAcknowledgement && s.ackGate != nil {
		select {
		case <-s.ackGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.log.add("sound:" + string(cue))
	return nil
}

type fakeRenderer struct {
	starts, stops atomic.Int32
}

func (r *fakeRenderer) Start() { r.starts.Add(1) }
func (r *fakeRenderer) Stop()  { r.stops.Add(1) }

type fakeWakeword struct {
	log   *eventLog
	armed atomic.Bool
	// onArm runs synchronously inside Arm, like a detector that matches the
	// moment it starts listening.
	onArm func()
}

func (w *fakeWakeword) Arm() {
	w.armed.Store(true)
	w.log.add("arm")
	if w.onArm != nil {
		w.onArm()
	}
}

func (w *fakeWakeword) Disarm() {
	w.armed.Store(false)
	w.log.add("disarm")
}

type harness struct {
	log      *eventLog
	tokens   *fakeTokens
	stage    *fakeStage
	sounds   *fakeSounds
	renderer *fakeRenderer
	wakeword *fakeWakeword
	conn     *Connector

	mu    sync.Mutex
	rooms []*fakeRoom
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	log := &eventLog{}
	h := &harness{
		log:      log,
		tokens:   &fakeTokens{},
		stage:    &fakeStage{log: log},
		sounds:   &fakeSounds{log: log},
		renderer: &fakeRenderer{},
		wakeword: &fakeWakeword{log: log},
	}
	h.wakeword.armed.Store(true)
	if timeout <= 0 {
		timeout = time.Minute
	}
	h.conn = NewConnector(Config{
		Builder:           agent.NewBuilder("http://localhost:8080", true),
		Rooms:             h.newRoom,
		Tokens:            h.tokens,
		Stage:             h.stage,
		Sounds:            h.sounds,
		Renderer:          h.renderer,
		Wakeword:          h.wakeword,
		InactivityTimeout: timeout,
		HandoffDelay:      10 * time.Millisecond,
	})
	t.Cleanup(func() { h.conn.Watchdog().Clear() })
	return h
}

func (h *harness) newRoom() Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := &fakeRoom{
		name: fmt.Sprintf("agent-room-%d", len(h.rooms)),
		log:  h.log,
		text: make(map[string]func(TextStream)),
		rpc:  make(map[string]RPCHandler),
	}
	h.rooms = append(h.rooms, r)
	return r
}

func (h *harness) room(i int) *fakeRoom {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[i]
}

func (h *harness) totalConnects() int {
	h.mu.Lock()
	rooms := slices.Clone(h.rooms)
	h.mu.Unlock()
	total := 0
	for _, r := range rooms {
		c, _ := r.counts()
		total += c
	}
	return total
}

func (h *harness) connect(t *testing.T) *fakeRoom {
	t.Helper()
	if err := h.conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.conn.State(); got != Connected {
		t.Fatalf("State() = %s, want connected", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		if c, _ := r.counts(); c > 0 {
			return r
		}
	}
	t.Fatalf("no room was connected")
	return nil
}

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

var errBoom = errors.New("boom")
