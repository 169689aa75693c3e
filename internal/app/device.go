package app

import (
	"context"

	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/micprobe"
)

// CaptureSource is a shared microphone stream.
type CaptureSource interface {
	Start(ctx context.Context) error
	Subscribe(buffer int) (<-chan []int16, func())
	SampleRate() int
}

// micDevice opens analyser probes over the shared capture source. Closing a
// probe leaves the source running for the wakeword and the room.
type micDevice struct {
	source  CaptureSource
	fftSize int
}

func newMicDevice(source CaptureSource) *micDevice {
	return &micDevice{source: source, fftSize: audio.DefaultFFTSize}
}

func (d *micDevice) Open(ctx context.Context) (micprobe.Probe, error) {
	if err := d.source.Start(ctx); err != nil {
		return nil, err
	}
	frames, cancel := d.source.Subscribe(16)
	p := &probe{Analyser: audio.NewAnalyser(d.fftSize), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(p.done)
		for frame := range frames {
			p.Write(frame)
		}
	}()
	return p, nil
}

type probe struct {
	*audio.Analyser
	cancel func()
	done   chan struct{}
}

func (p *probe) Close() error {
	p.cancel()
	<-p.done
	p.Analyser.Close()
	return nil
}
