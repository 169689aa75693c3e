package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies room websocket payload variants.
type MessageType string

const (
	TypeRoomConnected     MessageType = "room_connected"
	TypeReconnecting      MessageType = "reconnecting"
	TypeReconnected       MessageType = "reconnected"
	TypeDisconnected      MessageType = "disconnected"
	TypeTrackSubscribed   MessageType = "track_subscribed"
	TypeTrackUnsubscribed MessageType = "track_unsubscribed"
	TypeTrackAudio        MessageType = "track_audio"
	TypeTextStreamHeader  MessageType = "text_stream_header"
	TypeTextStreamChunk   MessageType = "text_stream_chunk"
	TypeTextStreamEnd     MessageType = "text_stream_end"
	TypeRPCRequest        MessageType = "rpc_request"

	TypePublishTrack MessageType = "publish_track"
	TypeMicAudio     MessageType = "mic_audio"
	TypeRPCResponse  MessageType = "rpc_response"
	TypeLeave        MessageType = "leave"
)

const (
	TranscriptionTopic      = "lk.transcription"
	TranscriptionFinalAttr  = "lk.transcription_final"
	SourceMicrophone        = "microphone"
	KindAudio               = "audio"
	DefaultAudioSampleRate  = 16000
	DefaultRPCResponseLimit = 15000
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type RoomConnected struct {
	Type     MessageType `json:"type"`
	Room     string      `json:"room"`
	Identity string      `json:"identity"`
}

// ConnectionEvent covers reconnecting, reconnected and disconnected.
type ConnectionEvent struct {
	Type   MessageType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

type TrackSubscribed struct {
	Type        MessageType `json:"type"`
	TrackSID    string      `json:"track_sid"`
	Participant string      `json:"participant"`
	Kind        string      `json:"kind"`
	SampleRate  int         `json:"sample_rate"`
}

type TrackUnsubscribed struct {
	Type        MessageType `json:"type"`
	TrackSID    string      `json:"track_sid"`
	Participant string      `json:"participant"`
}

// AudioFrame carries PCM16 little-endian mono samples, base64 encoded.
type AudioFrame struct {
	Type        MessageType `json:"type"`
	TrackSID    string      `json:"track_sid"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type TextStreamHeader struct {
	Type        MessageType       `json:"type"`
	StreamID    string            `json:"stream_id"`
	Topic       string            `json:"topic"`
	Participant string            `json:"participant"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type TextStreamChunk struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
	Text     string      `json:"text"`
}

type TextStreamEnd struct {
	Type     MessageType `json:"type"`
	StreamID string      `json:"stream_id"`
}

type RPCRequest struct {
	Type              MessageType `json:"type"`
	RequestID         string      `json:"request_id"`
	Method            string      `json:"method"`
	Caller            string      `json:"caller"`
	Payload           string      `json:"payload"`
	ResponseTimeoutMS int         `json:"response_timeout_ms,omitempty"`
}

type PublishTrack struct {
	Type       MessageType `json:"type"`
	TrackSID   string      `json:"track_sid"`
	Source     string      `json:"source"`
	SampleRate int         `json:"sample_rate"`
}

type RPCResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Payload   string      `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type Leave struct {
	Type MessageType `json:"type"`
}

func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeRoomConnected:
		return decode[RoomConnected](raw)
	case TypeReconnecting, TypeReconnected, TypeDisconnected:
		return decode[ConnectionEvent](raw)
	case TypeTrackSubscribed:
		msg, err := decode[TrackSubscribed](raw)
		if err == nil && msg.TrackSID == "" {
			return nil, errors.New("invalid track_subscribed")
		}
		return msg, err
	case TypeTrackUnsubscribed:
		return decode[TrackUnsubscribed](raw)
	case TypeTrackAudio:
		msg, err := decode[AudioFrame](raw)
		if err == nil && (msg.TrackSID == "" || msg.SampleRate <= 0) {
			return nil, errors.New("invalid track_audio")
		}
		return msg, err
	case TypeTextStreamHeader:
		msg, err := decode[TextStreamHeader](raw)
		if err == nil && msg.StreamID == "" {
			return nil, errors.New("invalid text_stream_header")
		}
		return msg, err
	case TypeTextStreamChunk:
		return decode[TextStreamChunk](raw)
	case TypeTextStreamEnd:
		return decode[TextStreamEnd](raw)
	case TypeRPCRequest:
		msg, err := decode[RPCRequest](raw)
		if err == nil && (msg.RequestID == "" || msg.Method == "") {
			return nil, errors.New("invalid rpc_request")
		}
		return msg, err
	default:
		return nil, ErrUnsupportedType
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePublishTrack:
		msg, err := decode[PublishTrack](raw)
		if err == nil && msg.TrackSID == "" {
			return nil, errors.New("invalid publish_track")
		}
		return msg, err
	case TypeMicAudio:
		msg, err := decode[AudioFrame](raw)
		if err == nil && (msg.TrackSID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0) {
			return nil, errors.New("invalid mic_audio")
		}
		return msg, err
	case TypeRPCResponse:
		msg, err := decode[RPCResponse](raw)
		if err == nil && msg.RequestID == "" {
			return nil, errors.New("invalid rpc_response")
		}
		return msg, err
	case TypeLeave:
		return decode[Leave](raw)
	default:
		return nil, ErrUnsupportedType
	}
}

func decode[T any](raw []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, err
	}
	return msg, nil
}
