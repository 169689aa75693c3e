package session

import "errors"

type State int

const (
	Idle State = iota
	Preloading
	Connecting
	Connected
	Disconnecting
)

var (
	ErrSessionActive     = errors.New("session already active")
	ErrTokenExchange     = errors.New("session token exchange failed")
	ErrConnect           = errors.New("room connect failed")
	ErrAborted           = errors.New("connect attempt superseded by teardown")
	ErrShutdown          = errors.New("session connector shut down")
	ErrInvalidTransition = errors.New("invalid session state transition")
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preloading:
		return "preloading"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Active reports whether the state owns a room.
func (s State) Active() bool {
	return s == Connecting || s == Connected || s == Disconnecting
}

var transitions = map[State][]State{
	Idle:          {Preloading, Connecting},
	Preloading:    {Preloading, Connecting, Idle},
	Connecting:    {Connected, Disconnecting, Idle},
	Connected:     {Disconnecting},
	Disconnecting: {Idle},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
