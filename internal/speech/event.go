package speech

// EventType mirrors the lifecycle callbacks of a continuous recognizer.
type EventType string

const (
	EventStart      EventType = "start"
	EventAudioStart EventType = "audio_start"
	EventResult     EventType = "result"
	EventError      EventType = "error"
	EventEnd        EventType = "end"
)

// Recognition error codes.
const (
	ErrorNoSpeech     = "no-speech"
	ErrorAudioCapture = "audio-capture"
	ErrorNetwork      = "network"
	ErrorAborted      = "aborted"
)

// Segment is one recognition result. Final segments will not change again.
type Segment struct {
	Transcript string `json:"transcript"`
	Final      bool   `json:"final"`
}

// Event is one recognizer callback. For results, Segments holds only the
// results that changed, starting at the engine's result index.
type Event struct {
	Type     EventType `json:"type"`
	Segments []Segment `json:"results,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Transcript concatenates the segment transcripts.
func (e Event) Transcript() string {
	var s string
	for _, seg := range e.Segments {
		s += seg.Transcript
	}
	return s
}

// FinalCount is the number of final segments in the event.
func (e Event) FinalCount() int {
	n := 0
	for _, seg := range e.Segments {
		if seg.Final {
			n++
		}
	}
	return n
}
