// Package app wires the voice client: microphone activation, wakeword,
// session connector, sound cues and the terminal waveform.
package app

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/config"
	"github.com/ent0n29/taskmaster/internal/micprobe"
	"github.com/ent0n29/taskmaster/internal/observability"
	"github.com/ent0n29/taskmaster/internal/protocol"
	"github.com/ent0n29/taskmaster/internal/room"
	"github.com/ent0n29/taskmaster/internal/session"
	"github.com/ent0n29/taskmaster/internal/speech"
	"github.com/ent0n29/taskmaster/internal/wakeword"
	"github.com/ent0n29/taskmaster/internal/waveform"
)

var ErrNotActivated = errors.New("voice features not activated")

// Player plays cues and can be warmed up ahead of the first session.
type Player interface {
	session.SoundPlayer
	Unlock() error
}

// Deps overrides the default collaborators. Zero values use the real
// microphone, room transport, token endpoint and player.
type Deps struct {
	Source       CaptureSource
	Rooms        session.RoomFactory
	Tokens       session.TokenSource
	Sounds       Player
	Engine       wakeword.Engine
	StageTimings StageTimings
	Out          io.Writer
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

type Client struct {
	cfg       config.Config
	logger    *slog.Logger
	source    CaptureSource
	sounds    Player
	hints     *TerminalHints
	verifier  *micprobe.Verifier
	stage     *TimedStage
	renderer  *waveform.Renderer
	detector  *wakeword.Detector
	connector *session.Connector

	mu       sync.Mutex
	revealed bool
	ctx      context.Context
}

func New(cfg config.Config, deps Deps) *Client {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := deps.Out
	if out == nil {
		out = os.Stdout
	}
	source := deps.Source
	if source == nil {
		source = audio.NewCommandSource(cfg.MicCommand, protocol.DefaultAudioSampleRate, logger.With("component", "mic"))
	}
	rooms := deps.Rooms
	if rooms == nil {
		roomLogger := logger.With("component", "room")
		rooms = func() session.Room { return room.New(source, roomLogger) }
	}
	tokens := deps.Tokens
	if tokens == nil {
		tokens = room.NewTokenClient(cfg.ServerURL, nil)
	}
	sounds := deps.Sounds
	if sounds == nil {
		sounds = NewExecPlayer(cfg.PlayerCommand, logger.With("component", "sound"))
	}
	engine := deps.Engine
	if engine == nil && cfg.WakewordEnabled && cfg.STTURL != "" {
		engine = speech.NewEngine(cfg.STTURL, "en-US", source, logger.With("component", "speech"))
	}

	origin := cfg.PublicOrigin
	if origin == "" {
		origin = cfg.ServerURL
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		source: source,
		sounds: sounds,
		hints:  NewTerminalHints(out),
		ctx:    context.Background(),
	}
	c.verifier = micprobe.NewVerifier(newMicDevice(source), c.hints, cfg.MutedFlatFrames, cfg.FrameInterval(), logger.With("component", "micprobe"))
	c.stage = NewTimedStage(deps.StageTimings, nil, logger.With("component", "stage"))

	graph := session.NewGraph(audio.DefaultFFTSize)
	thinking := session.NewThinking()
	c.renderer = waveform.NewRenderer(graph, thinking, waveform.NewTextSink(out), waveform.Options{
		Interval: cfg.FrameInterval(),
		Logger:   logger.With("component", "waveform"),
	})

	var ww session.Wakeword
	if engine != nil && cfg.WakewordEnabled {
		c.detector = wakeword.NewDetector(engine, c.onWakeword, wakeword.Options{
			Phrase:      cfg.Wakeword,
			MaxEdits:    cfg.WakewordMaxEdits,
			ErrorBudget: cfg.WakewordErrorBudget,
			Metrics:     deps.Metrics,
			Logger:      logger.With("component", "wakeword"),
		})
		ww = c.detector
	}

	c.connector = session.NewConnector(session.Config{
		Builder:           agent.NewBuilder(origin, cfg.FreshUser),
		Rooms:             rooms,
		Tokens:            tokens,
		Stage:             c.stage,
		Sounds:            sounds,
		Renderer:          c.renderer,
		Wakeword:          ww,
		Graph:             graph,
		Thinking:          thinking,
		InactivityTimeout: cfg.InactivityTimeout,
		HandoffDelay:      cfg.HandoffDelay,
		Metrics:           deps.Metrics,
		Logger:            logger.With("component", "session"),
	})
	return c
}

func (c *Client) Connector() *session.Connector { return c.connector }

func (c *Client) Stage() *TimedStage { return c.stage }

// Detector is nil when no wakeword engine is configured.
func (c *Client) Detector() *wakeword.Detector { return c.detector }

// Activate verifies the microphone, then warms the player, preloads the first
// session and starts the wakeword. ctx bounds the verification and every
// session the wakeword starts later.
func (c *Client) Activate(ctx context.Context) (micprobe.Result, error) {
	result, err := c.verifier.Activate(ctx)
	switch result {
	case micprobe.Revealed:
	case micprobe.Denied:
		c.hints.ShowDenied()
		return result, err
	default:
		return result, err
	}

	c.mu.Lock()
	c.revealed = true
	c.ctx = ctx
	c.mu.Unlock()

	if err := c.sounds.Unlock(); err != nil {
		c.logger.Warn("sound cues unavailable", "err", err)
	}
	if err := c.connector.Preload(ctx); err != nil {
		c.logger.Warn("session preload skipped", "err", err)
	}

	phrase := ""
	if c.detector != nil {
		if err := c.detector.Start(ctx); err != nil {
			c.logger.Warn("wakeword unavailable", "err", err)
		} else {
			phrase = c.cfg.Wakeword
		}
	}
	c.hints.ShowReady(phrase)
	return result, nil
}

// Toggle starts a session when idle and ends the current one otherwise.
func (c *Client) Toggle(ctx context.Context) error {
	c.mu.Lock()
	revealed := c.revealed
	c.mu.Unlock()
	if !revealed {
		return ErrNotActivated
	}
	if c.connector.State().Active() {
		c.connector.Disconnect(ctx, session.ReasonUser)
		return nil
	}
	return c.connector.Connect(ctx)
}

func (c *Client) onWakeword() {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	c.logger.Info("wakeword heard, connecting")
	if err := c.connector.Connect(ctx); err != nil {
		c.logger.Warn("wakeword connect failed", "err", err)
	}
}

// Run activates the client and toggles the session on every input line until
// ctx is done or input ends.
func (c *Client) Run(ctx context.Context, input io.Reader) error {
	defer c.Close()

	result, err := c.Activate(ctx)
	if result != micprobe.Revealed {
		return err
	}

	lines := make(chan struct{})
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Toggle(ctx); err != nil {
				c.logger.Warn("session toggle failed", "err", err)
			}
		}
	}
}

// Close ends any session without preloading another, then stops listening
// and capture.
func (c *Client) Close() {
	if c.detector != nil {
		_ = c.detector.Stop()
	}
	c.connector.Shutdown(context.Background())
	c.renderer.Stop()
	if s, ok := c.source.(interface{ Stop() error }); ok {
		_ = s.Stop()
	}
}
