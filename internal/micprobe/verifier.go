// Package micprobe verifies that the microphone produces a live signal before
// the voice features are revealed.
package micprobe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ent0n29/taskmaster/internal/audio"
)

type Result string

const (
	Revealed Result = "revealed"
	Denied   Result = "denied"
	Error    Result = "error"
)

// ErrPermissionDenied is terminal: the verifier does not retry.
var ErrPermissionDenied = audio.ErrPermissionDenied

// Probe is an open microphone stream with an analyser attached.
type Probe interface {
	ByteTimeDomainData(dst []byte)
	Close() error
}

type Device interface {
	Open(ctx context.Context) (Probe, error)
}

// Hints is the user-facing feedback surface.
type Hints interface {
	ShowMuted()
	HideHints()
}

type Verifier struct {
	device        Device
	hints         Hints
	flatFrames    int
	frameInterval time.Duration
	fftSize       int
	logger        *slog.Logger
}

func NewVerifier(device Device, hints Hints, flatFrames int, frameInterval time.Duration, logger *slog.Logger) *Verifier {
	if flatFrames <= 0 {
		flatFrames = 60
	}
	if frameInterval <= 0 {
		frameInterval = time.Second / 60
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		device:        device,
		hints:         hints,
		flatFrames:    flatFrames,
		frameInterval: frameInterval,
		fftSize:       audio.DefaultFFTSize,
		logger:        logger,
	}
}

// Activate opens the microphone and samples it every frame until any sample
// deviates from the 128 midpoint. A run of flat frames shows the muted hint
// once and keeps waiting. Only ctx cancellation stops the wait.
func (v *Verifier) Activate(ctx context.Context) (Result, error) {
	probe, err := v.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			v.logger.Info("microphone permission denied")
			return Denied, err
		}
		v.logger.Warn("microphone open failed", "err", err)
		return Error, err
	}
	defer func() {
		_ = probe.Close()
		v.hints.HideHints()
	}()

	buf := make([]byte, v.fftSize)
	flat := 0
	mutedShown := false
	ticker := time.NewTicker(v.frameInterval)
	defer ticker.Stop()

	for {
		probe.ByteTimeDomainData(buf)
		if maxDeviation(buf) > 0 {
			v.logger.Info("microphone verified", "flat_frames", flat)
			return Revealed, nil
		}
		flat++
		if !mutedShown && flat >= v.flatFrames {
			mutedShown = true
			v.logger.Info("microphone looks muted", "flat_frames", flat)
			v.hints.ShowMuted()
		}

		select {
		case <-ctx.Done():
			return Error, fmt.Errorf("microphone verification: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func maxDeviation(buf []byte) int {
	maxDev := 0
	for _, b := range buf {
		d := int(b) - 128
		if d < 0 {
			d = -d
		}
		if d > maxDev {
			maxDev = d
		}
	}
	return maxDev
}
