// Package events defines the one-way observability feed emitted while
// scripted sessions execute.
package events

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Type identifies one kind of session event.
type Type string

const (
	PeerConnected              Type = "peer-connected"
	PeerDisconnected           Type = "peer-disconnected"
	ExternalPeerAttached       Type = "external-peer-attached"
	DataChannelOpened          Type = "data-channel-opened"
	DataChannelClosed          Type = "data-channel-closed"
	DataChannelMessageSent     Type = "data-channel-message-sent"
	DataChannelMessageReceived Type = "data-channel-message-received"
	MediaTrackOpened           Type = "media-track-opened"
	MediaTrackClosed           Type = "media-track-closed"
	MediaTrackStats            Type = "media-track-stats"
)

// Event is a single observation from a session. The engine only produces
// events; nothing in the engine consumes them.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	PeerID    string    `json:"peerId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label,omitempty"`
	TrackID   string    `json:"trackId,omitempty"`
	Direction string    `json:"direction,omitempty"` // "local" or "remote"
	Bytes     int       `json:"bytes,omitempty"`
	Address   string    `json:"address,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Reporter is the interface session components use to emit events.
type Reporter interface {
	Report(Event)
}

// NullReporter discards all events.
var NullReporter Reporter = nullReporter{}

type nullReporter struct{}

func (nullReporter) Report(Event) {}

// statsPerSecond bounds how often media-track-stats events are emitted
// per feed; stats are advisory and high-frequency at the source.
const statsPerSecond = 2

// Feed collects events and fans them out to subscribers. Thread-safe.
type Feed struct {
	ch      chan Event
	done    chan struct{}
	mu      sync.Mutex
	events  []Event
	subs    map[int]chan Event
	nextSub int
	stats   *rate.Limiter
	metrics *Metrics
	closed  bool
}

// NewFeed creates a Feed and starts its fan-out goroutine.
func NewFeed() *Feed {
	f := &Feed{
		ch:    make(chan Event, 1000),
		done:  make(chan struct{}),
		subs:  make(map[int]chan Event),
		stats: rate.NewLimiter(rate.Limit(statsPerSecond), statsPerSecond),
	}
	go f.run()
	return f
}

// SetMetrics attaches Prometheus counters to the feed.
func (f *Feed) SetMetrics(m *Metrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
}

func (f *Feed) run() {
	for event := range f.ch {
		f.mu.Lock()
		f.events = append(f.events, event)
		if f.metrics != nil {
			f.metrics.observe(event)
		}
		for _, sub := range f.subs {
			select {
			case sub <- event:
			default: // slow subscriber, drop
			}
		}
		f.mu.Unlock()
	}
	close(f.done)
}

// Report sends an event to the feed. Never blocks; events are dropped if
// the feed's buffer is full or the feed is closed. Media stats are rate
// limited. Reporters may outlive the feed during shutdown, so reporting
// after Close is a no-op, not a fault.
func (f *Feed) Report(event Event) {
	if event.Type == MediaTrackStats && !f.stats.Allow() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- event:
	default:
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber is done.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	sub := make(chan Event, 64)
	f.subs[id] = sub
	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return sub, cancel
}

// Events returns a copy of all events seen so far.
func (f *Feed) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// Close stops the feed. Pending events are flushed before Close returns.
// Idempotent; Report calls racing or following Close are discarded.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return
	}
	f.closed = true
	f.mu.Unlock()

	close(f.ch)
	<-f.done
}
