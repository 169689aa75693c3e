// Package session owns the voice session lifecycle: preload, connect,
// teardown, and everything that lives for exactly one connected session.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/observability"
)

// Teardown reasons.
const (
	ReasonUser       = "user"
	ReasonInactivity = "inactivity"
	ReasonRPC        = "stop_conversation"
	ReasonRemote     = "room_disconnected"
	ReasonFailed     = "connect_failed"
	ReasonShutdown   = "shutdown"
)

type Config struct {
	Builder  *agent.Builder
	Rooms    RoomFactory
	Tokens   TokenSource
	Stage    Stage
	Sounds   SoundPlayer
	Renderer Renderer
	Wakeword Wakeword
	Graph    *Graph
	Thinking *Thinking

	InactivityTimeout time.Duration
	HandoffDelay      time.Duration

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

type pending struct {
	cfg   agent.Config
	room  Room
	done  chan struct{}
	creds Credentials
	err   error
}

func (p *pending) wait(ctx context.Context) (Credentials, error) {
	select {
	case <-p.done:
		return p.creds, p.err
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

// Connector is the single owner of the current session. Construct one per
// process and share it by reference.
type Connector struct {
	builder      *agent.Builder
	rooms        RoomFactory
	tokens       TokenSource
	stage        Stage
	sounds       SoundPlayer
	renderer     Renderer
	wakeword     Wakeword
	graph        *Graph
	thinking     *Thinking
	watchdog     *Watchdog
	handoffDelay time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger

	mu           sync.Mutex
	state        State
	gen          uint64
	shut         bool
	agentStreams uint64
	preload      *pending
	room         Room
	lastActivity time.Time
	connectStart time.Time
}

func NewConnector(cfg Config) *Connector {
	if cfg.Stage == nil {
		cfg.Stage = nopStage{}
	}
	if cfg.Sounds == nil {
		cfg.Sounds = nopSounds{}
	}
	if cfg.Renderer == nil {
		cfg.Renderer = nopRenderer{}
	}
	if cfg.Wakeword == nil {
		cfg.Wakeword = nopWakeword{}
	}
	if cfg.Graph == nil {
		cfg.Graph = NewGraph(audio.DefaultFFTSize)
	}
	if cfg.Thinking == nil {
		cfg.Thinking = NewThinking()
	}
	if cfg.HandoffDelay <= 0 {
		cfg.HandoffDelay = 300 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Connector{
		builder:      cfg.Builder,
		rooms:        cfg.Rooms,
		tokens:       cfg.Tokens,
		stage:        cfg.Stage,
		sounds:       cfg.Sounds,
		renderer:     cfg.Renderer,
		wakeword:     cfg.Wakeword,
		graph:        cfg.Graph,
		thinking:     cfg.Thinking,
		handoffDelay: cfg.HandoffDelay,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	c.watchdog = NewWatchdog(cfg.InactivityTimeout, func() {
		c.logger.Info("inactivity timeout reached, disconnecting")
		c.Disconnect(context.Background(), ReasonInactivity)
	})
	return c
}

func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connector) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Connector) Graph() *Graph { return c.graph }

func (c *Connector) Thinking() *Thinking { return c.thinking }

func (c *Connector) Watchdog() *Watchdog { return c.watchdog }

// Preload builds a fresh agent config and room and starts the token exchange
// without waiting for it. Only the latest preload is used by Connect.
func (c *Connector) Preload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shut {
		return ErrShutdown
	}
	if c.state.Active() {
		return ErrSessionActive
	}
	c.preloadLocked(ctx)
	return nil
}

func (c *Connector) preloadLocked(ctx context.Context) *pending {
	p := &pending{
		cfg:  c.builder.Build(),
		room: c.rooms(),
		done: make(chan struct{}),
	}
	c.preload = p
	c.transitionLocked(Preloading)

	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		defer close(p.done)
		p.creds, p.err = c.tokens.FetchToken(fetchCtx, p.cfg)
		if p.err != nil {
			c.logger.Warn("session token exchange failed", "err", p.err)
		}
	}()
	return p
}

// Connect runs one connection attempt. It is a no-op while a session is
// already connecting, connected or tearing down.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.shut {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.state != Idle && c.state != Preloading {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", "state", state.String())
		return nil
	}
	p := c.preload
	if p == nil {
		p = c.preloadLocked(ctx)
	}
	c.preload = nil
	c.gen++
	gen := c.gen
	// Teardown closes the graph before leaving Disconnecting, so this epoch
	// belongs to the attempt until its own teardown.
	epoch := c.graph.Epoch()
	c.connectStart = time.Now()
	c.transitionLocked(Connecting)
	c.mu.Unlock()

	c.wakeword.Disarm()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.stage.Shrink(gctx); err != nil {
			return fmt.Errorf("shrink: %w", err)
		}
		if err := c.stage.Stretch(gctx); err != nil {
			return fmt.Errorf("stretch: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := c.sounds.Play(gctx, audio.CueAcknowledgement); err != nil {
			c.logger.Warn("acknowledgement sound failed", "err", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.fail(gen, p.room, fmt.Errorf("%w: stage transition: %v", ErrConnect, err))
	}

	creds, err := p.wait(ctx)
	if err != nil {
		return c.fail(gen, p.room, fmt.Errorf("%w: %v", ErrTokenExchange, err))
	}

	c.mu.Lock()
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		_ = p.room.Disconnect()
		return ErrAborted
	}
	c.room = p.room
	c.mu.Unlock()

	room := p.room
	c.wire(room, gen, epoch)

	if err := room.Connect(ctx, creds.URL, creds.Token); err != nil {
		return c.fail(gen, room, fmt.Errorf("%w: %v", ErrConnect, err))
	}
	if err := room.SetMicrophoneEnabled(ctx, true); err != nil {
		return c.fail(gen, room, fmt.Errorf("%w: enable microphone: %v", ErrConnect, err))
	}
	if !c.current(gen) {
		return ErrAborted
	}
	// The local track may have been published before the callback was wired.
	if track, ok := room.MicrophoneTrack(); ok && !c.graph.HasMic() {
		c.graph.SetMic(epoch, track)
	}
	c.logger.Info("session ready", "room", creds.RoomName)
	return nil
}

// fail abandons attempt gen unless a teardown already took it over.
func (c *Connector) fail(gen uint64, room Room, err error) error {
	c.mu.Lock()
	if c.gen == gen && c.state == Connected {
		// The room acknowledged before the attempt finished; tear it down the
		// normal way.
		c.mu.Unlock()
		c.logger.Warn("connection attempt abandoned", "err", err)
		c.Disconnect(context.Background(), ReasonFailed)
		return err
	}
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		if room != nil {
			_ = room.Disconnect()
		}
		return ErrAborted
	}
	c.gen++
	c.room = nil
	c.transitionLocked(Disconnecting)
	c.mu.Unlock()

	c.logger.Warn("connection attempt abandoned", "err", err)
	c.metrics.ObserveConnect("failed", 0)
	if room != nil {
		_ = room.Disconnect()
	}
	c.watchdog.Clear()
	c.renderer.Stop()
	c.graph.Close()
	c.stage.Revert()

	c.mu.Lock()
	c.transitionLocked(Idle)
	c.mu.Unlock()
	c.wakeword.Arm()
	return err
}

// Shutdown ends any session for good. Nothing is preloaded afterwards, a
// pending preload is dropped, and later Connect and Preload calls fail with
// ErrShutdown.
func (c *Connector) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.shut = true
	c.mu.Unlock()

	c.Disconnect(ctx, ReasonShutdown)

	c.mu.Lock()
	p := c.preload
	c.preload = nil
	if c.state == Preloading {
		c.transitionLocked(Idle)
	}
	c.mu.Unlock()
	if p != nil {
		_ = p.room.Disconnect()
	}
}

// Disconnect tears the session down and preloads the next one unless the
// connector is shut down. Exactly one caller runs the teardown; concurrent and
// repeated calls return immediately. The wakeword is re-armed only after the
// reverse animation completes.
func (c *Connector) Disconnect(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.state != Connecting && c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.gen++
	room := c.room
	c.room = nil
	c.transitionLocked(Disconnecting)
	c.mu.Unlock()

	c.logger.Info("session stopping", "reason", reason)
	c.metrics.ObserveTeardown(reason)

	if room != nil {
		if err := room.Disconnect(); err != nil {
			c.logger.Warn("room disconnect failed", "err", err)
		}
	}
	c.watchdog.Clear()
	c.renderer.Stop()
	c.graph.Close()
	c.thinking.Clear()
	c.builder.ClearFreshUser()

	soundCtx := context.WithoutCancel(ctx)
	go func() {
		if err := c.sounds.Play(soundCtx, audio.CueTurningOff); err != nil {
			c.logger.Warn("turning off sound failed", "err", err)
		}
	}()

	if err := c.stage.Reverse(ctx); err != nil {
		c.logger.Warn("reverse animation interrupted", "err", err)
	}

	// Idle before arming, so a wakeword heard the moment it is armed can
	// start the next session.
	c.mu.Lock()
	c.transitionLocked(Idle)
	if !c.shut {
		c.preloadLocked(ctx)
	}
	c.mu.Unlock()
	c.wakeword.Arm()
	c.logger.Info("session stopped", "reason", reason)
}

func (c *Connector) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && (c.state == Connecting || c.state == Connected)
}

func (c *Connector) onConnected(room Room, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.transitionLocked(Connected)
	c.lastActivity = time.Now()
	started := c.connectStart
	c.mu.Unlock()

	c.logger.Info("room connected", "room", room.Name())
	c.metrics.ObserveConnect("connected", time.Since(started))
	c.watchdog.Reset()
	c.renderer.Start()
	time.AfterFunc(c.handoffDelay, func() {
		c.mu.Lock()
		ok := c.gen == gen && c.state == Connected
		c.mu.Unlock()
		if ok {
			c.stage.HandOff()
		}
	})
}

// touch records user activity and restarts the inactivity timer.
func (c *Connector) touch(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != Connected {
		c.mu.Unlock()
		return
	}
	c.lastActivity = time.Now()
	c.mu.Unlock()
	c.watchdog.Reset()
}

func (c *Connector) transitionLocked(to State) {
	if !c.state.CanTransition(to) {
		c.logger.Error("session transition refused", "from", c.state.String(), "to", to.String(), "err", ErrInvalidTransition)
		return
	}
	c.state = to
	c.metrics.ObserveTransition(to.String())
}
