package step

import (
	"context"
	"sync"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// echoChannelsStep pipes every current and future channel and track back
// to itself. It never completes on its own; it parks on the connection's
// closure signal.
type echoChannelsStep struct {
	def *EchoChannelsDef

	mu      sync.Mutex
	cancels []func()
}

func (s *echoChannelsStep) Definition() Definition { return s.def }

func (s *echoChannelsStep) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	return nil
}

func (s *echoChannelsStep) Execute(ctx context.Context, c conn.Connection) error {
	channels, chanUpdates, stopChans := c.WatchChannels()
	defer stopChans()
	tracks, trackUpdates, stopTracks := c.WatchTracks()
	defer stopTracks()

	for _, ch := range channels {
		s.echoChannel(ch)
	}
	for _, tr := range tracks {
		s.echoTrack(tr)
	}

	for {
		select {
		case ch := <-chanUpdates:
			s.echoChannel(ch)
		case tr := <-trackUpdates:
			s.echoTrack(tr)
		case <-c.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *echoChannelsStep) echoChannel(ch conn.Channel) {
	cancel := ch.Subscribe(func(msg conn.Message) {
		_ = ch.Send(msg) // loop-back; send errors end with the connection
	})
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
	ch.Resume()
}

func (s *echoChannelsStep) echoTrack(tr conn.Track) {
	cancel := tr.Subscribe(func(frame []byte) {
		_ = tr.Write(frame)
	})
	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
	tr.Resume()
}
