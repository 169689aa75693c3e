package access

import (
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNonceReused = errors.New("auth token already used")

// NonceGuard remembers single-use auth tokens for a window so a replayed
// session request is refused.
type NonceGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewNonceGuard(window time.Duration) *NonceGuard {
	if window <= 0 {
		window = time.Hour
	}
	return &NonceGuard{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Claim records nonce. Empty nonces are accepted and not recorded.
func (g *NonceGuard) Claim(nonce string) error {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return nil
	}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()
	for k, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[nonce]; ok {
		return ErrNonceReused
	}
	g.seen[nonce] = now
	return nil
}
