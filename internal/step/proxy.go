package step

import (
	"context"
	"fmt"
	"sync"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/dispatch"
	"github.com/arunbanswal/mockrtc/internal/events"
	"github.com/arunbanswal/mockrtc/internal/relay"
)

// peerProxyStep creates one external connection, negotiates it through the
// configured answer source and relays all traffic until the connection
// closes. The executor never knows whether the answer source is a local
// function or a remote dispatch round-trip.
type peerProxyStep struct {
	def *PeerProxyDef
	env Env

	mu sync.Mutex
	r  *relay.Relay
}

func (s *peerProxyStep) Definition() Definition { return s.def }

func (s *peerProxyStep) Close() error {
	s.mu.Lock()
	r := s.r
	s.r = nil
	s.mu.Unlock()
	if r != nil {
		return r.Close()
	}
	return nil
}

func (s *peerProxyStep) answerSource() (dispatch.AnswerSource, error) {
	if s.def.answer != nil {
		return dispatch.Local(s.def.answer), nil
	}
	if s.env.Dispatch == nil {
		return nil, fmt.Errorf("%w: no dispatch caller for endpoint %q", ErrNegotiationFailed, s.def.AnswerEndpoint)
	}
	return dispatch.Remote(s.env.Dispatch, s.def.AnswerEndpoint), nil
}

func (s *peerProxyStep) Execute(ctx context.Context, c conn.Connection) error {
	if s.env.External == nil {
		return fmt.Errorf("%w: no external connection factory", ErrNegotiationFailed)
	}
	source, err := s.answerSource()
	if err != nil {
		return err
	}

	ext, err := s.env.External.NewExternal(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	offer, err := ext.CreateOffer(ctx)
	if err != nil {
		ext.Close()
		return fmt.Errorf("%w: creating offer: %v", ErrNegotiationFailed, err)
	}
	answer, err := source.Answer(ctx, offer)
	if err != nil {
		ext.Close()
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if err := ext.SetAnswer(answer); err != nil {
		ext.Close()
		return fmt.Errorf("%w: applying answer: %v", ErrNegotiationFailed, err)
	}

	s.env.reporter().Report(events.Event{
		Type:   events.ExternalPeerAttached,
		PeerID: c.ID(),
		Detail: ext.ID(),
	})

	r := relay.New(c, ext)
	s.mu.Lock()
	s.r = r
	s.mu.Unlock()
	return r.Run(ctx)
}

// dynamicProxyStep delegates peer selection and answering entirely to the
// external-connection collaborator, then relays until closure.
type dynamicProxyStep struct {
	def *DynamicProxyDef
	env Env

	mu sync.Mutex
	r  *relay.Relay
}

func (s *dynamicProxyStep) Definition() Definition { return s.def }

func (s *dynamicProxyStep) Close() error {
	s.mu.Lock()
	r := s.r
	s.r = nil
	s.mu.Unlock()
	if r != nil {
		return r.Close()
	}
	return nil
}

func (s *dynamicProxyStep) Execute(ctx context.Context, c conn.Connection) error {
	if s.env.External == nil {
		return fmt.Errorf("%w: no external connection factory", ErrNegotiationFailed)
	}
	ext, err := s.env.External.ConnectDynamic(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	s.env.reporter().Report(events.Event{
		Type:   events.ExternalPeerAttached,
		PeerID: c.ID(),
		Detail: ext.ID(),
	})

	r := relay.New(c, ext)
	s.mu.Lock()
	s.r = r
	s.mu.Unlock()
	return r.Run(ctx)
}
