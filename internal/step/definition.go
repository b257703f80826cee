// Package step implements the scripted behaviors attached to a mock
// connection. Each behavior exists twice: as a portable, serializable
// definition and as an executor bound to a live connection. The registry
// correlates the two through the behavior's type tag.
package step

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/arunbanswal/mockrtc/internal/dispatch"
)

// Type is the tag identifying one of the ten scripted behaviors.
type Type string

const (
	TypeWaitForDuration Type = "wait-for-duration"
	TypeWaitForChannel  Type = "wait-for-channel"
	TypeWaitForMessage  Type = "wait-for-message"
	TypeWaitForTrack    Type = "wait-for-track"
	TypeWaitForMedia    Type = "wait-for-media"
	TypeSendMessage     Type = "send-message"
	TypeCloseConnection Type = "close-connection"
	TypeEchoChannels    Type = "echo-channels"
	TypePeerProxy       Type = "peer-proxy"
	TypeDynamicProxy    Type = "dynamic-proxy"
)

// Definition is the portable, data-only description of one step. A
// definition carries no live connection references and survives
// serialization losslessly.
type Definition interface {
	Type() Type
}

// WaitForDurationDef completes after a fixed delay.
type WaitForDurationDef struct {
	DurationMs int `json:"durationMs"`
}

func (*WaitForDurationDef) Type() Type { return TypeWaitForDuration }

// WaitForChannelDef completes when a data channel matching the label filter
// is, or becomes, open on the remote side. An empty label matches any
// channel.
type WaitForChannelDef struct {
	ChannelLabel string `json:"channelLabel,omitempty"`
}

func (*WaitForChannelDef) Type() Type { return TypeWaitForChannel }

// WaitForMessageDef completes when the first message arrives on any channel
// matching the label filter.
type WaitForMessageDef struct {
	ChannelLabel string `json:"channelLabel,omitempty"`
}

func (*WaitForMessageDef) Type() Type { return TypeWaitForMessage }

// WaitForTrackDef completes when any remote media track is, or becomes,
// open.
type WaitForTrackDef struct{}

func (*WaitForTrackDef) Type() Type { return TypeWaitForTrack }

// WaitForMediaDef completes when the first media frame arrives on any
// track.
type WaitForMediaDef struct{}

func (*WaitForMediaDef) Type() Type { return TypeWaitForMedia }

// SendMessageDef writes a message to every channel matching the label
// filter. Exactly one of Message and Binary is set.
type SendMessageDef struct {
	ChannelLabel string `json:"channelLabel,omitempty"`
	Message      string `json:"message,omitempty"`
	Binary       []byte `json:"binary,omitempty"`
}

func (*SendMessageDef) Type() Type { return TypeSendMessage }

// CloseConnectionDef tears the connection down.
type CloseConnectionDef struct{}

func (*CloseConnectionDef) Type() Type { return TypeCloseConnection }

// EchoChannelsDef pipes every current and future channel and track back to
// itself until the connection closes.
type EchoChannelsDef struct{}

func (*EchoChannelsDef) Type() Type { return TypeEchoChannels }

// PeerProxyDef relays all traffic to a second, externally negotiated peer.
// The answer source is either a same-process function (answer) or a named
// dispatch endpoint served by whichever process holds the real peer.
type PeerProxyDef struct {
	AnswerEndpoint string `json:"answerEndpoint,omitempty"`

	answer dispatch.AnswerFunc
}

func (*PeerProxyDef) Type() Type { return TypePeerProxy }

// Register publishes the local answer function under a generated dispatch
// endpoint so the definition can cross a process boundary. No-op if the
// definition is already endpoint-backed.
func (d *PeerProxyDef) Register(reg dispatch.Registrar) func() {
	if d.answer == nil || d.AnswerEndpoint != "" {
		return func() {}
	}
	d.AnswerEndpoint = uuid.NewString()
	return reg.Register(d.AnswerEndpoint, d.answer)
}

// DynamicProxyDef relays traffic to a peer selected and answered entirely
// by the external-connection collaborator.
type DynamicProxyDef struct{}

func (*DynamicProxyDef) Type() Type { return TypeDynamicProxy }

// Answerer is a live peer handle able to answer an offer. Real peers held
// by a test client satisfy it.
type Answerer interface {
	CreateAnswer(ctx context.Context, offer string) (string, error)
}

// PeerProxyTo proxies to a live external peer handle.
func PeerProxyTo(peer Answerer) *PeerProxyDef {
	return &PeerProxyDef{answer: peer.CreateAnswer}
}

// Builder helpers. Scripts read as ordered definition lists:
//
//	defs := []step.Definition{
//		step.WaitForMessage("chat"),
//		step.SendText("chat", "Goodbye"),
//	}

// WaitForDuration builds a fixed-delay definition.
func WaitForDuration(d time.Duration) *WaitForDurationDef {
	return &WaitForDurationDef{DurationMs: int(d / time.Millisecond)}
}

// WaitForChannel waits for a remote channel; empty label matches any.
func WaitForChannel(label string) *WaitForChannelDef {
	return &WaitForChannelDef{ChannelLabel: label}
}

// WaitForMessage waits for the first message on matching channels.
func WaitForMessage(label string) *WaitForMessageDef {
	return &WaitForMessageDef{ChannelLabel: label}
}

// WaitForTrack waits for any remote media track.
func WaitForTrack() *WaitForTrackDef { return &WaitForTrackDef{} }

// WaitForMedia waits for the first media frame on any track.
func WaitForMedia() *WaitForMediaDef { return &WaitForMediaDef{} }

// SendText sends a text message to matching channels.
func SendText(label, text string) *SendMessageDef {
	return &SendMessageDef{ChannelLabel: label, Message: text}
}

// SendBinary sends a binary payload to matching channels.
func SendBinary(label string, data []byte) *SendMessageDef {
	return &SendMessageDef{ChannelLabel: label, Binary: data}
}

// CloseConnection tears the connection down.
func CloseConnection() *CloseConnectionDef { return &CloseConnectionDef{} }

// EchoChannels loops all traffic back until the connection closes.
func EchoChannels() *EchoChannelsDef { return &EchoChannelsDef{} }

// PeerProxyWithAnswer proxies to a peer answered by a same-process
// function.
func PeerProxyWithAnswer(fn dispatch.AnswerFunc) *PeerProxyDef {
	return &PeerProxyDef{answer: fn}
}

// PeerProxyVia proxies to a peer answered through the named dispatch
// endpoint, which may live in another process.
func PeerProxyVia(endpoint string) *PeerProxyDef {
	return &PeerProxyDef{AnswerEndpoint: endpoint}
}

// DynamicProxy proxies to a peer chosen by the external collaborator.
func DynamicProxy() *DynamicProxyDef { return &DynamicProxyDef{} }
