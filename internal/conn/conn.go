// Package conn defines the connection abstraction steps execute against: a
// live mock peer session exposing append-only channel and track collections
// plus a lifecycle signal. The collections are mutated only by the transport
// collaborator; steps read them through atomic snapshot-plus-subscribe
// watches.
package conn

import (
	"context"
	"errors"
)

// ErrClosed indicates the connection (or a stream on it) has been closed.
// Closure is the normal termination condition for waiting and perpetual
// steps, not a failure.
var ErrClosed = errors.New("connection closed")

// Message is one payload carried over a data channel.
type Message struct {
	Data   []byte
	Binary bool
}

// Text builds a UTF-8 text message.
func Text(s string) Message { return Message{Data: []byte(s)} }

// Binary builds a binary message.
func Binary(b []byte) Message { return Message{Data: b, Binary: true} }

// Channel is a bidirectional data stream belonging to a connection. Steps
// reference channels during execution but never own them.
type Channel interface {
	// Label returns the channel's label.
	Label() string

	// Remote reports whether the channel was opened by the remote peer.
	Remote() bool

	// Send writes a message to the channel. Returns ErrClosed if the
	// channel or its connection is closed.
	Send(Message) error

	// Subscribe registers a listener for incoming messages and returns a
	// cancel func. Listeners for one channel are invoked sequentially.
	Subscribe(func(Message)) (cancel func())

	// Pause stops delivery of incoming messages; messages arriving while
	// paused are buffered in order.
	Pause()

	// Resume restarts delivery, flushing any buffered messages to the
	// current listeners first.
	Resume()
}

// Track is a media stream belonging to a connection. Frames are opaque to
// the engine; the transport decides their encoding.
type Track interface {
	// ID returns the track identifier.
	ID() string

	// Kind returns the media kind, "audio" or "video".
	Kind() string

	// Remote reports whether the track was opened by the remote peer.
	Remote() bool

	// Write sends a media frame. Returns ErrClosed once closed.
	Write([]byte) error

	// Subscribe registers a listener for incoming frames.
	Subscribe(func([]byte)) (cancel func())

	// Pause and Resume behave as on Channel.
	Pause()
	Resume()
}

// Connection is one live mock peer session.
type Connection interface {
	// ID returns the peer identifier.
	ID() string

	// WatchChannels returns the channels already open, a stream of future
	// opens, and a stop func. The snapshot and the subscription are taken
	// under one lock, so no open is missed between them.
	WatchChannels() (existing []Channel, updates <-chan Channel, stop func())

	// WatchTracks is WatchChannels for media tracks.
	WatchTracks() (existing []Track, updates <-chan Track, stop func())

	// Done is closed when the connection closes.
	Done() <-chan struct{}

	// Close tears the connection down. Idempotent.
	Close() error
}

// ExternalConnection is a second, independently negotiated connection
// created by a proxy step to reach a real remote peer. It is exclusively
// owned by the step that created it.
type ExternalConnection interface {
	Connection

	// CreateOffer produces the local session description offer.
	CreateOffer(ctx context.Context) (string, error)

	// SetAnswer applies the remote answer, completing negotiation.
	SetAnswer(answer string) error

	// OpenChannel opens a locally initiated data channel.
	OpenChannel(label string) (Channel, error)

	// OpenTrack opens a locally initiated media track.
	OpenTrack(id, kind string) (Track, error)
}

// ExternalFactory creates external connections for proxy steps.
type ExternalFactory interface {
	// NewExternal creates an unnegotiated external connection. The caller
	// owns it and must Close it.
	NewExternal(ctx context.Context) (ExternalConnection, error)

	// ConnectDynamic creates and fully negotiates an external connection,
	// delegating peer selection and answering to the configured
	// collaborator.
	ConnectDynamic(ctx context.Context, local Connection) (ExternalConnection, error)
}
