package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/ent0n29/taskmaster/internal/audio"
)

var ErrNoPlayer = errors.New("no audio player configured")

// ExecPlayer plays cues by piping a WAV file into an external player's stdin.
type ExecPlayer struct {
	argv   []string
	logger *slog.Logger

	mu       sync.Mutex
	unlocked bool
	cache    map[audio.Cue][]byte
}

func NewExecPlayer(command string, logger *slog.Logger) *ExecPlayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlayer{
		argv:   strings.Fields(command),
		logger: logger,
		cache:  make(map[audio.Cue][]byte),
	}
}

// Unlock resolves the player binary and renders every cue once so later
// plays start without delay.
func (p *ExecPlayer) Unlock() error {
	if len(p.argv) == 0 {
		return ErrNoPlayer
	}
	if _, err := exec.LookPath(p.argv[0]); err != nil {
		return fmt.Errorf("%w: %v", ErrNoPlayer, err)
	}
	for _, cue := range []audio.Cue{audio.CueAcknowledgement, audio.CueTurningOff, audio.CueTaskAck} {
		if _, err := p.wav(cue); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.unlocked = true
	p.mu.Unlock()
	return nil
}

func (p *ExecPlayer) Unlocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unlocked
}

// Play blocks until the player exits or ctx is cancelled.
func (p *ExecPlayer) Play(ctx context.Context, cue audio.Cue) error {
	if len(p.argv) == 0 {
		return ErrNoPlayer
	}
	data, err := p.wav(cue)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play %s: %w (%s)", cue, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (p *ExecPlayer) wav(cue audio.Cue) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.cache[cue]; ok {
		return data, nil
	}
	data, err := audio.CueWAV(cue)
	if err != nil {
		return nil, err
	}
	p.cache[cue] = data
	return data, nil
}
