package audio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("microphone unavailable")
)

// CommandSource captures microphone audio from an external recorder that
// writes raw PCM16LE mono to stdout, and fans frames out to subscribers.
type CommandSource struct {
	argv         []string
	sampleRate   int
	frameSamples int
	logger       *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	subs    map[int]chan []int16
	nextSub int
	done    chan struct{}
}

func NewCommandSource(command string, sampleRate int, logger *slog.Logger) *CommandSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSource{
		argv:         strings.Fields(command),
		sampleRate:   sampleRate,
		frameSamples: sampleRate / 50,
		logger:       logger,
		subs:         make(map[int]chan []int16),
	}
}

func (s *CommandSource) SampleRate() int { return s.sampleRate }

// Start launches the recorder. Starting a running source is a no-op.
func (s *CommandSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}
	if len(s.argv) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrNoDevice)
	}
	path, err := exec.LookPath(s.argv[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}

	cmd := exec.CommandContext(ctx, path, s.argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EACCES) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	s.cmd = cmd
	s.done = make(chan struct{})
	done := s.done

	go func() {
		defer close(done)
		s.pump(stdout)
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			s.logger.Warn("capture command exited", "err", err, "stderr", strings.TrimSpace(stderr.String()))
		}
		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd = nil
		}
		s.mu.Unlock()
	}()
	return nil
}

// Stop kills the recorder and waits for the pump to drain.
func (s *CommandSource) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.cmd = nil
	s.mu.Unlock()
	if cmd == nil {
		return nil
	}
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	return nil
}

func (s *CommandSource) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// Subscribe returns a frame channel and its cancel func. Slow subscribers
// lose frames instead of stalling capture.
func (s *CommandSource) Subscribe(buffer int) (<-chan []int16, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan []int16, buffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

func (s *CommandSource) pump(r io.Reader) {
	br := bufio.NewReaderSize(r, s.frameSamples*4)
	buf := make([]byte, s.frameSamples*2)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			return
		}
		frame, err := BytesToPCM16(buf)
		if err != nil {
			return
		}
		s.mu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- frame:
			default:
			}
		}
		s.mu.Unlock()
	}
}
