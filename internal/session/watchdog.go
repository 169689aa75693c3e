package session

import (
	"sync"
	"time"
)

// Watchdog is a single resettable inactivity timer. Each Reset starts a new
// generation; a timer from an older generation never fires.
type Watchdog struct {
	timeout time.Duration
	fire    func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

func NewWatchdog(timeout time.Duration, fire func()) *Watchdog {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &Watchdog{timeout: timeout, fire: fire}
}

func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Reset restarts the timer from the full timeout.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		if w.gen != gen || w.timer == nil {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.mu.Unlock()
		if w.fire != nil {
			w.fire()
		}
	})
}

func (w *Watchdog) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
}

func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}
