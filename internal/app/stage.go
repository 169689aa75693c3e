package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Phase is the visible state of the activation affordance.
type Phase string

const (
	PhaseResting   Phase = "resting"
	PhaseShrunk    Phase = "shrunk"
	PhaseStretched Phase = "stretched"
	PhaseHidden    Phase = "hidden"
	PhaseReversing Phase = "reversing"
)

// StageTimings are the animation durations. Reverse runs ReverseStep once
// per reversed keyframe.
type StageTimings struct {
	Shrink       time.Duration
	Stretch      time.Duration
	ReverseStep  time.Duration
	ReverseSteps int
}

var DefaultStageTimings = StageTimings{
	Shrink:       230 * time.Millisecond,
	Stretch:      300 * time.Millisecond,
	ReverseStep:  300 * time.Millisecond,
	ReverseSteps: 3,
}

// TimedStage plays the activation animation as timed phase changes and
// reports each phase to OnPhase.
type TimedStage struct {
	timings StageTimings
	onPhase func(Phase)
	logger  *slog.Logger

	mu    sync.Mutex
	phase Phase
}

func NewTimedStage(timings StageTimings, onPhase func(Phase), logger *slog.Logger) *TimedStage {
	if timings == (StageTimings{}) {
		timings = DefaultStageTimings
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimedStage{timings: timings, onPhase: onPhase, logger: logger, phase: PhaseResting}
}

func (s *TimedStage) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *TimedStage) Shrink(ctx context.Context) error {
	s.set(PhaseShrunk)
	return sleep(ctx, s.timings.Shrink)
}

func (s *TimedStage) Stretch(ctx context.Context) error {
	s.set(PhaseStretched)
	return sleep(ctx, s.timings.Stretch)
}

func (s *TimedStage) HandOff() { s.set(PhaseHidden) }

func (s *TimedStage) Revert() { s.set(PhaseResting) }

func (s *TimedStage) Reverse(ctx context.Context) error {
	s.set(PhaseReversing)
	for i := 0; i < s.timings.ReverseSteps; i++ {
		if err := sleep(ctx, s.timings.ReverseStep); err != nil {
			s.set(PhaseResting)
			return err
		}
	}
	s.set(PhaseResting)
	return nil
}

func (s *TimedStage) set(p Phase) {
	s.mu.Lock()
	changed := s.phase != p
	s.phase = p
	s.mu.Unlock()
	if !changed {
		return
	}
	s.logger.Debug("stage phase", "phase", p)
	if s.onPhase != nil {
		s.onPhase(p)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
