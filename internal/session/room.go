package session

import (
	"context"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/audio"
)

// Track is a media track published in the room.
type Track interface {
	SID() string
	Kind() string
	Source() string
	Participant() string
	// Attach delivers decoded PCM frames to sink until detach is called.
	Attach(sink func([]int16)) (detach func())
}

// TextStream is one incoming text stream. Chunks is closed when the stream ends.
type TextStream struct {
	ID          string
	Topic       string
	Participant string
	Attributes  map[string]string
	Chunks      <-chan string
}

type RPCInvocation struct {
	RequestID      string
	CallerIdentity string
	Payload        string
}

type RPCHandler func(ctx context.Context, inv RPCInvocation) (string, error)

// RoomCallbacks receive room lifecycle events. Any field may be nil.
type RoomCallbacks struct {
	OnConnected           func()
	OnReconnecting        func()
	OnReconnected         func()
	OnDisconnected        func(reason string)
	OnTrackSubscribed     func(Track)
	OnTrackUnsubscribed   func(Track)
	OnLocalTrackPublished func(Track)
}

// Room is a real-time audio room handle. A room is connected at most once.
type Room interface {
	Name() string
	SetCallbacks(RoomCallbacks)
	RegisterTextStreamHandler(topic string, handler func(TextStream))
	RegisterRPCMethod(method string, handler RPCHandler)
	Connect(ctx context.Context, url, token string) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	MicrophoneTrack() (Track, bool)
	Disconnect() error
}

// RoomFactory creates a fresh, unconnected room.
type RoomFactory func() Room

// Credentials are the result of a session token exchange.
type Credentials struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	RoomName string `json:"room_name"`
}

type TokenSource interface {
	FetchToken(ctx context.Context, cfg agent.Config) (Credentials, error)
}

// Stage drives the activation affordance animation.
type Stage interface {
	Shrink(ctx context.Context) error
	Stretch(ctx context.Context) error
	// HandOff hides the affordance once the waveform is showing.
	HandOff()
	// Revert restores the resting affordance after a failed attempt.
	Revert()
	// Reverse runs the mirrored teardown animation and returns once it is done.
	Reverse(ctx context.Context) error
}

type SoundPlayer interface {
	Play(ctx context.Context, cue audio.Cue) error
}

type Renderer interface {
	Start()
	Stop()
}

// Wakeword is the arming surface of the wakeword detector.
type Wakeword interface {
	Arm()
	Disarm()
}

type nopStage struct{}

func (nopStage) Shrink(context.Context) error  { return nil }
func (nopStage) Stretch(context.Context) error { return nil }
func (nopStage) HandOff()                      {}
func (nopStage) Revert()                       {}
func (nopStage) Reverse(context.Context) error { return nil }

type nopSounds struct{}

func (nopSounds) Play(context.Context, audio.Cue) error { return nil }

type nopRenderer struct{}

func (nopRenderer) Start() {}
func (nopRenderer) Stop()  {}

type nopWakeword struct{}

func (nopWakeword) Arm()    {}
func (nopWakeword) Disarm() {}
