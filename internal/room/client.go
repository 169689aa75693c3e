// Package room is the client side of the real-time audio room: a websocket
// transport speaking the protocol package's JSON messages.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskmaster/internal/audio"
	"github.com/ent0n29/taskmaster/internal/protocol"
	"github.com/ent0n29/taskmaster/internal/session"
)

var (
	ErrClosed           = errors.New("room closed")
	ErrAlreadyConnected = errors.New("room already connected")
	ErrNoMicrophone     = errors.New("no microphone source")
	ErrUnsupportedRPC   = errors.New("unsupported rpc method")
)

// MicSource supplies local microphone frames.
type MicSource interface {
	Subscribe(buffer int) (<-chan []int16, func())
	SampleRate() int
}

// Client implements session.Room. A Client connects at most once.
type Client struct {
	mic              MicSource
	dialer           websocket.Dialer
	handshakeTimeout time.Duration
	logger           *slog.Logger

	mu       sync.Mutex
	name     string
	identity string
	cb       session.RoomCallbacks
	text     map[string]func(session.TextStream)
	rpc      map[string]session.RPCHandler
	conn     *websocket.Conn
	outbound chan any
	closed   bool
	done     chan struct{}
	tracks   map[string]*track
	// streams are sent on and closed only by the read loop.
	streams map[string]chan string
	local    *track
	stopMic  func()
}

var _ session.Room = (*Client)(nil)

func New(mic MicSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		mic:              mic,
		dialer:           websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handshakeTimeout: 10 * time.Second,
		logger:           logger,
		text:             make(map[string]func(session.TextStream)),
		rpc:              make(map[string]session.RPCHandler),
		done:             make(chan struct{}),
		tracks:           make(map[string]*track),
		streams:          make(map[string]chan string),
	}
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) SetCallbacks(cb session.RoomCallbacks) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *Client) RegisterTextStreamHandler(topic string, handler func(session.TextStream)) {
	c.mu.Lock()
	c.text[topic] = handler
	c.mu.Unlock()
}

func (c *Client) RegisterRPCMethod(method string, handler session.RPCHandler) {
	c.mu.Lock()
	c.rpc[method] = handler
	c.mu.Unlock()
}

// Connect dials the room, waits for the room_connected handshake and then
// fires OnConnected.
func (c *Client) Connect(ctx context.Context, rawURL, token string) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.conn != nil:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	target, err := rtcURL(rawURL, token)
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial room: %w", err)
	}
	conn.SetReadLimit(2 << 20)

	joined, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.name = joined.Room
	c.identity = joined.Identity
	c.outbound = make(chan any, 256)
	outbound := c.outbound
	cb := c.cb
	c.mu.Unlock()

	go c.writeLoop(conn, outbound)
	if cb.OnConnected != nil {
		cb.OnConnected()
	}
	go c.readLoop(conn)
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (protocol.RoomConnected, error) {
	deadline := time.Now().Add(c.handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.RoomConnected{}, fmt.Errorf("room handshake: %w", err)
	}
	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		return protocol.RoomConnected{}, fmt.Errorf("room handshake: %w", err)
	}
	switch m := msg.(type) {
	case protocol.RoomConnected:
		return m, nil
	case protocol.ConnectionEvent:
		return protocol.RoomConnected{}, fmt.Errorf("room refused connection: %s", m.Reason)
	default:
		return protocol.RoomConnected{}, fmt.Errorf("room handshake: unexpected %T", msg)
	}
}

// SetMicrophoneEnabled publishes the local microphone and streams its frames.
func (c *Client) SetMicrophoneEnabled(_ context.Context, enabled bool) error {
	if !enabled {
		c.mu.Lock()
		stop := c.stopMic
		c.stopMic = nil
		c.local = nil
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		return nil
	}

	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.local != nil {
		c.mu.Unlock()
		return nil
	}
	if c.mic == nil {
		c.mu.Unlock()
		return ErrNoMicrophone
	}
	rate := c.mic.SampleRate()
	t := newTrack("TR_"+strings.ReplaceAll(uuid.NewString(), "-", "")[:12], protocol.KindAudio, protocol.SourceMicrophone, c.identity, rate)
	frames, stop := c.mic.Subscribe(64)
	c.local = t
	c.stopMic = stop
	cb := c.cb
	c.mu.Unlock()

	if err := c.send(protocol.PublishTrack{Type: protocol.TypePublishTrack, TrackSID: t.sid, Source: t.source, SampleRate: rate}); err != nil {
		stop()
		return err
	}
	go c.pumpMic(t, frames)
	if cb.OnLocalTrackPublished != nil {
		cb.OnLocalTrackPublished(t)
	}
	return nil
}

func (c *Client) MicrophoneTrack() (session.Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local == nil {
		return nil, false
	}
	return c.local, true
}

// Disconnect leaves the room. It is idempotent and does not fire
// OnDisconnected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.outbound != nil {
		select {
		case c.outbound <- protocol.Leave{Type: protocol.TypeLeave}:
		default:
		}
	}
	stop := c.shutdownLocked()
	c.mu.Unlock()
	stop()
	return nil
}

// shutdownLocked marks the client closed and returns the cleanup to run
// outside the lock.
func (c *Client) shutdownLocked() func() {
	c.closed = true
	close(c.done)
	if c.outbound != nil {
		close(c.outbound)
		c.outbound = nil
	}
	stopMic := c.stopMic
	c.stopMic = nil
	return func() {
		if stopMic != nil {
			stopMic()
		}
	}
}

func (c *Client) send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.outbound == nil {
		return ErrClosed
	}
	select {
	case c.outbound <- msg:
	default:
		c.logger.Debug("room outbound queue full, message dropped")
	}
	return nil
}

func (c *Client) writeLoop(conn *websocket.Conn, outbound <-chan any) {
	defer conn.Close()
	for msg := range outbound {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			c.logger.Warn("room write failed", "err", err)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (c *Client) readLoop(conn *websocket.Conn) {
	reason := "connection_lost"
	defer func() {
		c.mu.Lock()
		local := c.closed
		stop := func() {}
		if !local {
			stop = c.shutdownLocked()
		}
		cb := c.cb
		streams := c.streams
		c.streams = make(map[string]chan string)
		c.mu.Unlock()
		stop()
		_ = conn.Close()
		for _, ch := range streams {
			close(ch)
		}
		if !local && cb.OnDisconnected != nil {
			cb.OnDisconnected(reason)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseServerMessage(data)
		if err != nil {
			c.logger.Debug("room message ignored", "err", err)
			continue
		}
		if ev, ok := msg.(protocol.ConnectionEvent); ok && ev.Type == protocol.TypeDisconnected {
			if ev.Reason != "" {
				reason = ev.Reason
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg any) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ConnectionEvent:
		switch m.Type {
		case protocol.TypeReconnecting:
			if cb.OnReconnecting != nil {
				cb.OnReconnecting()
			}
		case protocol.TypeReconnected:
			if cb.OnReconnected != nil {
				cb.OnReconnected()
			}
		}
	case protocol.TrackSubscribed:
		t := newTrack(m.TrackSID, m.Kind, "", m.Participant, m.SampleRate)
		c.mu.Lock()
		c.tracks[m.TrackSID] = t
		c.mu.Unlock()
		if cb.OnTrackSubscribed != nil {
			cb.OnTrackSubscribed(t)
		}
	case protocol.TrackUnsubscribed:
		c.mu.Lock()
		t, ok := c.tracks[m.TrackSID]
		delete(c.tracks, m.TrackSID)
		c.mu.Unlock()
		if ok && cb.OnTrackUnsubscribed != nil {
			cb.OnTrackUnsubscribed(t)
		}
	case protocol.AudioFrame:
		c.mu.Lock()
		t, ok := c.tracks[m.TrackSID]
		c.mu.Unlock()
		if !ok {
			return
		}
		samples, err := audio.DecodePCM16Base64(m.PCM16Base64)
		if err != nil {
			c.logger.Debug("track audio ignored", "track", m.TrackSID, "err", err)
			return
		}
		t.deliver(samples)
	case protocol.TextStreamHeader:
		c.openStream(m)
	case protocol.TextStreamChunk:
		c.mu.Lock()
		ch, ok := c.streams[m.StreamID]
		c.mu.Unlock()
		if !ok {
			return
		}
		// A slow handler must not hold the read loop past Disconnect.
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case ch <- m.Text:
		case <-c.done:
		}
	case protocol.TextStreamEnd:
		c.mu.Lock()
		ch, ok := c.streams[m.StreamID]
		delete(c.streams, m.StreamID)
		c.mu.Unlock()
		if ok {
			close(ch)
		}
	case protocol.RPCRequest:
		go c.serveRPC(m)
	}
}

func (c *Client) openStream(h protocol.TextStreamHeader) {
	c.mu.Lock()
	handler, ok := c.text[h.Topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	ch := make(chan string, 64)
	c.streams[h.StreamID] = ch
	c.mu.Unlock()

	go handler(session.TextStream{
		ID:          h.StreamID,
		Topic:       h.Topic,
		Participant: h.Participant,
		Attributes:  h.Attributes,
		Chunks:      ch,
	})
}

func (c *Client) serveRPC(req protocol.RPCRequest) {
	c.mu.Lock()
	handler, ok := c.rpc[req.Method]
	c.mu.Unlock()

	resp := protocol.RPCResponse{Type: protocol.TypeRPCResponse, RequestID: req.RequestID}
	if !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrUnsupportedRPC, req.Method)
		_ = c.send(resp)
		return
	}

	timeout := time.Duration(req.ResponseTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = protocol.DefaultRPCResponseLimit * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	payload, err := handler(ctx, session.RPCInvocation{
		RequestID:      req.RequestID,
		CallerIdentity: req.Caller,
		Payload:        req.Payload,
	})
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Payload = payload
	}
	_ = c.send(resp)
}

func (c *Client) pumpMic(t *track, frames <-chan []int16) {
	seq := 0
	for frame := range frames {
		t.deliver(frame)
		seq++
		if err := c.send(protocol.AudioFrame{
			Type:        protocol.TypeMicAudio,
			TrackSID:    t.sid,
			Seq:         seq,
			PCM16Base64: audio.EncodePCM16Base64(frame),
			SampleRate:  t.sampleRate,
		}); err != nil {
			return
		}
	}
}

func rtcURL(rawURL, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid room url %q", rawURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rtc"
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
