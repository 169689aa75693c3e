package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/micprobe"
)

func TestTimedStagePhases(t *testing.T) {
	var mu sync.Mutex
	var phases []Phase
	s := NewTimedStage(StageTimings{Shrink: 10 * time.Millisecond, Stretch: 10 * time.Millisecond, ReverseStep: 5 * time.Millisecond, ReverseSteps: 3}, func(p Phase) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	start := time.Now()
	if err := s.Shrink(ctx); err != nil {
		t.Fatalf("Shrink() error = %v", err)
	}
	if err := s.Stretch(ctx); err != nil {
		t.Fatalf("Stretch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("shrink+stretch took %v, want >= 20ms", elapsed)
	}
	s.HandOff()
	s.HandOff()

	start = time.Now()
	if err := s.Reverse(ctx); err != nil {
		t.Fatalf("Reverse() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("reverse took %v, want >= 15ms", elapsed)
	}

	want := []Phase{PhaseShrunk, PhaseStretched, PhaseHidden, PhaseReversing, PhaseResting}
	mu.Lock()
	defer mu.Unlock()
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

func TestTimedStageCancelled(t *testing.T) {
	s := NewTimedStage(StageTimings{Shrink: time.Hour, Stretch: time.Hour, ReverseStep: time.Hour, ReverseSteps: 1}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Shrink(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Shrink() error = %v, want context.Canceled", err)
	}
	if err := s.Reverse(ctx); !errors.Is(err, context.Canceled) || s.Phase() != PhaseResting {
		t.Fatalf("Reverse() error = %v phase = %s", err, s.Phase())
	}
	s.Revert()
	if s.Phase() != PhaseResting {
		t.Fatalf("Revert() phase = %s", s.Phase())
	}
}

func TestExecPlayerPipesWAV(t *testing.T) {
	if _, err := exec.LookPath("tee"); err != nil {
		t.Skip("tee not available")
	}
	path := filepath.Join(t.TempDir(), "cue.wav")
	p := NewExecPlayer("tee "+path, nil)
	if err := p.Unlock(); err != nil || !p.Unlocked() {
		t.Fatalf("Unlock() error = %v", err)
	}
	if err := p.Play(context.Background(), audio.CueAcknowledgement); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cue: %v", err)
	}
	want, _ := audio.CueWAV(audio.CueAcknowledgement)
	if !bytes.Equal(data, want) || !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("player received %d bytes, want the %d byte cue", len(data), len(want))
	}
	if err := p.Play(context.Background(), audio.Cue("fanfare")); err == nil {
		t.Fatalf("Play(unknown cue) succeeded")
	}
}

func TestExecPlayerUnconfigured(t *testing.T) {
	if err := NewExecPlayer("", nil).Unlock(); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Unlock() error = %v, want ErrNoPlayer", err)
	}
	if err := NewExecPlayer("definitely-not-a-player-binary", nil).Unlock(); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("Unlock() error = %v, want ErrNoPlayer", err)
	}
}

func TestTerminalHintsPrintOnce(t *testing.T) {
	out := &lockedBuffer{}
	h := NewTerminalHints(out)
	h.ShowMuted()
	h.ShowMuted()
	if n := strings.Count(out.String(), "muted"); n != 1 {
		t.Fatalf("muted hint printed %d times", n)
	}
	h.HideHints()
	h.ShowMuted()
	if n := strings.Count(out.String(), "muted"); n != 2 {
		t.Fatalf("muted hint printed %d times after hide", n)
	}
}

func TestMicDeviceProbeReadsSource(t *testing.T) {
	d := newMicDevice(&fakeSource{})
	probe, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	buf := make([]byte, audio.DefaultFFTSize)
	waitFor(t, "live samples", func() bool {
		probe.ByteTimeDomainData(buf)
		for _, b := range buf {
			if b != 128 {
				return true
			}
		}
		return false
	})
	if err := probe.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = newMicDevice(&fakeSource{startErr: micprobe.ErrPermissionDenied}).Open(context.Background())
	if !errors.Is(err, micprobe.ErrPermissionDenied) {
		t.Fatalf("Open() error = %v, want permission denied", err)
	}
}
