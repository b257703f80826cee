// Package relay forwards traffic verbatim between a mock connection and
// the external connection a proxy step owns. Channels and tracks are
// paired by label; no transformation, buffering or reordering happens in
// this layer.
package relay

import (
	"context"
	"log"
	"sync"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// Relay binds one mock connection to one external connection for the
// lifetime of both. The Relay owns the external connection; Close releases
// it.
type Relay struct {
	local  conn.Connection
	remote conn.ExternalConnection

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

// New creates a Relay. Ownership of remote transfers to the Relay.
func New(local conn.Connection, remote conn.ExternalConnection) *Relay {
	return &Relay{local: local, remote: remote}
}

// Run bridges existing and future channels/tracks of the local connection
// and blocks until either side closes. Returns nil on closure of either
// side.
func (r *Relay) Run(ctx context.Context) error {
	channels, chanUpdates, stopChans := r.local.WatchChannels()
	defer stopChans()
	tracks, trackUpdates, stopTracks := r.local.WatchTracks()
	defer stopTracks()

	for _, ch := range channels {
		r.bridgeChannel(ch)
	}
	for _, tr := range tracks {
		r.bridgeTrack(tr)
	}

	for {
		select {
		case ch := <-chanUpdates:
			r.bridgeChannel(ch)
		case tr := <-trackUpdates:
			r.bridgeTrack(tr)
		case <-r.local.Done():
			return nil
		case <-r.remote.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// bridgeChannel opens the counterpart channel on the external connection
// and pipes both directions. A channel that cannot be bridged is logged
// and skipped; the relay keeps serving the rest.
func (r *Relay) bridgeChannel(local conn.Channel) {
	remote, err := r.remote.OpenChannel(local.Label())
	if err != nil {
		log.Printf("relay: opening external channel %q: %v", local.Label(), err)
		return
	}
	c1 := local.Subscribe(func(msg conn.Message) {
		_ = remote.Send(msg)
	})
	c2 := remote.Subscribe(func(msg conn.Message) {
		_ = local.Send(msg)
	})
	r.track(c1, c2)
	local.Resume()
	remote.Resume()
}

func (r *Relay) bridgeTrack(local conn.Track) {
	remote, err := r.remote.OpenTrack(local.ID(), local.Kind())
	if err != nil {
		log.Printf("relay: opening external track %q: %v", local.ID(), err)
		return
	}
	c1 := local.Subscribe(func(frame []byte) {
		_ = remote.Write(frame)
	})
	c2 := remote.Subscribe(func(frame []byte) {
		_ = local.Write(frame)
	})
	r.track(c1, c2)
	local.Resume()
	remote.Resume()
}

func (r *Relay) track(cancels ...func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		for _, cancel := range cancels {
			cancel()
		}
		return
	}
	r.cancels = append(r.cancels, cancels...)
}

// Close stops all pipes and releases the external connection. Idempotent.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return r.remote.Close()
}
