package room

import "sync"

// track is an audio track that fans decoded PCM frames out to attached sinks.
type track struct {
	sid         string
	kind        string
	source      string
	participant string
	sampleRate  int

	mu    sync.Mutex
	sinks map[int]func([]int16)
	next  int
}

func newTrack(sid, kind, source, participant string, sampleRate int) *track {
	return &track{
		sid:         sid,
		kind:        kind,
		source:      source,
		participant: participant,
		sampleRate:  sampleRate,
		sinks:       make(map[int]func([]int16)),
	}
}

func (t *track) SID() string         { return t.sid }
func (t *track) Kind() string        { return t.kind }
func (t *track) Source() string      { return t.source }
func (t *track) Participant() string { return t.participant }

func (t *track) Attach(sink func([]int16)) func() {
	t.mu.Lock()
	id := t.next
	t.next++
	t.sinks[id] = sink
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.sinks, id)
			t.mu.Unlock()
		})
	}
}

func (t *track) deliver(samples []int16) {
	t.mu.Lock()
	sinks := make([]func([]int16), 0, len(t.sinks))
	for _, s := range t.sinks {
		sinks = append(sinks, s)
	}
	t.mu.Unlock()
	for _, s := range sinks {
		s(samples)
	}
}
