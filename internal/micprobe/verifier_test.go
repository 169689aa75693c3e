package micprobe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type scriptedProbe struct {
	mu       sync.Mutex
	flatFor  int
	frames   int
	closed   bool
	deviated byte
}

func (p *scriptedProbe) ByteTimeDomainData(dst []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames++
	for i := range dst {
		dst[i] = 128
	}
	if p.flatFor >= 0 && p.frames > p.flatFor {
		dst[len(dst)/2] = p.deviated
	}
}

func (p *scriptedProbe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeDevice struct {
	probe *scriptedProbe
	err   error
	opens int
}

func (d *fakeDevice) Open(context.Context) (Probe, error) {
	d.opens++
	if d.err != nil {
		return nil, d.err
	}
	return d.probe, nil
}

type recordingHints struct {
	mu     sync.Mutex
	muted  int
	hidden int
}

func (h *recordingHints) ShowMuted() {
	h.mu.Lock()
	h.muted++
	h.mu.Unlock()
}

func (h *recordingHints) HideHints() {
	h.mu.Lock()
	h.hidden++
	h.mu.Unlock()
}

func TestActivateDenied(t *testing.T) {
	dev := &fakeDevice{err: fmt.Errorf("open: %w", ErrPermissionDenied)}
	hints := &recordingHints{}
	v := NewVerifier(dev, hints, 60, time.Millisecond, nil)

	res, err := v.Activate(context.Background())
	if res != Denied || !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Activate() = %v, %v; want Denied", res, err)
	}
	if dev.opens != 1 {
		t.Fatalf("opens = %d, want 1 (no retry)", dev.opens)
	}
	if hints.muted != 0 {
		t.Fatalf("muted hint shown on denial")
	}
}

func TestActivateOtherErrorReportsError(t *testing.T) {
	v := NewVerifier(&fakeDevice{err: errors.New("no device")}, &recordingHints{}, 60, time.Millisecond, nil)
	if res, err := v.Activate(context.Background()); res != Error || err == nil {
		t.Fatalf("Activate() = %v, %v; want Error", res, err)
	}
}

func TestActivateMutedThenRevealed(t *testing.T) {
	probe := &scriptedProbe{flatFor: 90, deviated: 129}
	hints := &recordingHints{}
	v := NewVerifier(&fakeDevice{probe: probe}, hints, 60, time.Millisecond, nil)

	res, err := v.Activate(context.Background())
	if err != nil || res != Revealed {
		t.Fatalf("Activate() = %v, %v; want Revealed", res, err)
	}
	if hints.muted != 1 {
		t.Fatalf("muted hint shown %d times, want exactly 1", hints.muted)
	}
	if hints.hidden != 1 || !probe.closed {
		t.Fatalf("teardown: hidden=%d closed=%v", hints.hidden, probe.closed)
	}
	if probe.frames != 91 {
		t.Fatalf("frames sampled = %d, want 91", probe.frames)
	}
}

func TestActivateRevealsImmediatelyOnNoise(t *testing.T) {
	probe := &scriptedProbe{flatFor: 0, deviated: 127}
	hints := &recordingHints{}
	v := NewVerifier(&fakeDevice{probe: probe}, hints, 60, time.Millisecond, nil)

	if res, _ := v.Activate(context.Background()); res != Revealed {
		t.Fatalf("Activate() = %v, want Revealed", res)
	}
	if hints.muted != 0 || probe.frames != 1 {
		t.Fatalf("muted=%d frames=%d", hints.muted, probe.frames)
	}
}

func TestActivateWaitsUntilCancelled(t *testing.T) {
	probe := &scriptedProbe{flatFor: -1}
	hints := &recordingHints{}
	v := NewVerifier(&fakeDevice{probe: probe}, hints, 5, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := v.Activate(ctx)
	if res != Error || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Activate() = %v, %v; want Error with deadline", res, err)
	}
	if hints.muted != 1 {
		t.Fatalf("muted hint shown %d times, want 1", hints.muted)
	}
	if !probe.closed {
		t.Fatalf("probe not closed after cancel")
	}
}
