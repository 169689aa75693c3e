package session

import (
	"sync"
	"time"
)

// Thinking is the shared "waiting for the agent" flag. Both the transcription
// bridge and the renderer may clear it.
type Thinking struct {
	mu     sync.Mutex
	active bool
	since  time.Time
	now    func() time.Time
}

func NewThinking() *Thinking {
	return &Thinking{now: time.Now}
}

func (t *Thinking) Begin() {
	t.mu.Lock()
	t.active = true
	t.since = t.now()
	t.mu.Unlock()
}

func (t *Thinking) Clear() {
	t.mu.Lock()
	t.active = false
	t.mu.Unlock()
}

// State returns whether thinking is active and when it began.
func (t *Thinking) State() (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.since
}
