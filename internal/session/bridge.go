package session

import (
	"context"
	"strings"

	"github.com/ent0n29/taskmaster/internal/agent"
	"github.com/ent0n29/taskmaster/internal/policy"
	"github.com/ent0n29/taskmaster/internal/protocol"
)

const userIdentityPrefix = "user-"

// wire registers room, transcription and RPC handlers for attempt gen, whose
// analyser taps belong to graph epoch.
func (c *Connector) wire(room Room, gen, epoch uint64) {
	room.SetCallbacks(RoomCallbacks{
		OnConnected: func() { c.onConnected(room, gen) },
		OnReconnecting: func() {
			c.logger.Info("room connection interrupted, reconnecting")
		},
		OnReconnected: func() {
			c.logger.Info("room reconnected")
		},
		OnDisconnected: func(reason string) {
			if !c.current(gen) {
				return
			}
			c.logger.Info("room disconnected", "reason", reason)
			c.Disconnect(context.Background(), ReasonRemote)
		},
		OnTrackSubscribed: func(t Track) {
			c.logger.Debug("track subscribed", "kind", t.Kind(), "participant", t.Participant())
			if t.Kind() == protocol.KindAudio && c.current(gen) {
				c.graph.SetAgent(epoch, t)
			}
		},
		OnTrackUnsubscribed: func(t Track) {
			c.logger.Debug("track unsubscribed", "kind", t.Kind(), "participant", t.Participant())
			if t.Kind() == protocol.KindAudio {
				c.graph.DropAgent(epoch)
			}
		},
		OnLocalTrackPublished: func(t Track) {
			c.logger.Debug("local track published", "source", t.Source())
			if t.Source() == protocol.SourceMicrophone && c.current(gen) {
				c.graph.SetMic(epoch, t)
			}
		},
	})

	room.RegisterTextStreamHandler(protocol.TranscriptionTopic, func(ts TextStream) {
		c.handleTranscription(ts, gen)
	})

	stopMethod := agent.RPCMethod(agent.ToolStopConversation)
	room.RegisterRPCMethod(stopMethod, func(_ context.Context, inv RPCInvocation) (string, error) {
		c.logger.Info("rpc received", "method", stopMethod, "caller", inv.CallerIdentity)
		go c.Disconnect(context.Background(), ReasonRPC)
		return `{"success":true}`, nil
	})
}

// handleTranscription clears thinking as soon as a non-user stream begins, and
// starts it once a user utterance is final unless the agent already started
// answering while it was streaming.
func (c *Connector) handleTranscription(ts TextStream, gen uint64) {
	isUser := strings.HasPrefix(ts.Participant, userIdentityPrefix)
	isFinal := ts.Attributes[protocol.TranscriptionFinalAttr] == "true"

	c.mu.Lock()
	if !isUser {
		c.agentStreams++
	}
	agentStreams := c.agentStreams
	c.mu.Unlock()
	if !isUser {
		c.thinking.Clear()
	}

	var text strings.Builder
	for chunk := range ts.Chunks {
		text.WriteString(chunk)
	}

	if !isUser || isFinal {
		c.logger.Info("transcription", "from", ts.Participant, "text", policy.Redact(text.String()), "final", isFinal)
	}
	if isUser && isFinal {
		if !c.current(gen) {
			return
		}
		c.mu.Lock()
		answered := c.agentStreams != agentStreams
		c.mu.Unlock()
		if !answered {
			c.thinking.Begin()
		}
		c.touch(gen)
	}
}
