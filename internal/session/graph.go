package session

import (
	"sync"

	"github.com/ent0n29/taskmaster/internal/audio"
)

type tap struct {
	sid      string
	analyser *audio.Analyser
	detach   func()
}

func (t *tap) close() {
	t.detach()
	t.analyser.Close()
}

// Graph holds the optional mic and agent analyser taps of one session. Each
// tap is bound to at most one track; rebinding closes the previous tap.
//
// Taps are installed against an epoch. Close starts a new epoch, so a tap
// whose attach raced with Close is closed instead of installed.
type Graph struct {
	fftSize int

	mu    sync.Mutex
	epoch uint64
	mic   *tap
	agent *tap
}

func NewGraph(fftSize int) *Graph {
	if fftSize <= 0 {
		fftSize = audio.DefaultFFTSize
	}
	return &Graph{fftSize: fftSize}
}

func (g *Graph) newTap(track Track) *tap {
	a := audio.NewAnalyser(g.fftSize)
	return &tap{sid: track.SID(), analyser: a, detach: track.Attach(a.Write)}
}

// Epoch returns the current tap epoch.
func (g *Graph) Epoch() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.epoch
}

// SetMic binds the mic tap to track. It reports false, leaving nothing
// attached, when epoch has already been closed.
func (g *Graph) SetMic(epoch uint64, track Track) bool {
	return g.install(epoch, track, &g.mic)
}

// SetAgent binds the agent tap to track under the same rules as SetMic.
func (g *Graph) SetAgent(epoch uint64, track Track) bool {
	return g.install(epoch, track, &g.agent)
}

func (g *Graph) install(epoch uint64, track Track, slot **tap) bool {
	t := g.newTap(track)
	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		t.close()
		return false
	}
	old := *slot
	*slot = t
	g.mu.Unlock()
	if old != nil {
		old.close()
	}
	return true
}

// DropAgent closes the agent tap if epoch is still current.
func (g *Graph) DropAgent(epoch uint64) {
	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		return
	}
	old := g.agent
	g.agent = nil
	g.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (g *Graph) HasMic() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mic != nil
}

func (g *Graph) HasAgent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.agent != nil
}

// ReadSpectra fills mic and agent with byte frequency data. Absent taps read
// as silence.
func (g *Graph) ReadSpectra(mic, agent []byte) (hasMic, hasAgent bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hasMic = fill(g.mic, mic)
	hasAgent = fill(g.agent, agent)
	return hasMic, hasAgent
}

func fill(t *tap, dst []byte) bool {
	if t == nil {
		clear(dst)
		return false
	}
	t.analyser.ByteFrequencyData(dst)
	return true
}

// Close tears down both taps and ends the epoch.
func (g *Graph) Close() {
	g.mu.Lock()
	g.epoch++
	mic, agent := g.mic, g.agent
	g.mic, g.agent = nil, nil
	g.mu.Unlock()
	if mic != nil {
		mic.close()
	}
	if agent != nil {
		agent.close()
	}
}
