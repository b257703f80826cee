package webrtc

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/dispatch"
	"github.com/arunbanswal/mockrtc/internal/events"
)

// External is a pion-backed external connection: the offering side of a
// proxy step's second negotiation. It is owned by the step that created
// it.
type External struct {
	*pionConn
}

// CreateOffer produces the complete local offer, with ICE gathering
// finished.
func (e *External) CreateOffer(ctx context.Context) (string, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("creating offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("setting local offer: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(e.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return EncodeSDP(e.pc.LocalDescription())
}

// SetAnswer applies the remote answer, completing negotiation.
func (e *External) SetAnswer(answer string) error {
	desc, err := DecodeSDP(answer)
	if err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(*desc)
}

// OpenChannel opens a data channel toward the external peer.
func (e *External) OpenChannel(label string) (conn.Channel, error) {
	return e.openChannel(label)
}

// OpenTrack opens an RTP media track toward the external peer.
func (e *External) OpenTrack(id, kind string) (conn.Track, error) {
	return e.openTrack(id, kind)
}

// Factory creates pion-backed external connections.
type Factory struct {
	// ICEServers lists STUN/TURN URLs for external negotiations.
	ICEServers []string

	// Reporter receives transport events. Nil means discard.
	Reporter events.Reporter

	// Dynamic answers dynamic-proxy offers; the external collaborator
	// supplies it. Nil disables dynamic proxying.
	Dynamic dispatch.AnswerSource
}

// NewExternal creates an unnegotiated external connection. The SCTP
// association is bootstrapped with a pre-negotiated channel so the offer
// always carries an application section.
func (f *Factory) NewExternal(ctx context.Context) (conn.ExternalConnection, error) {
	pion, err := newPionConn("external-"+uuid.NewString(), f.ICEServers, f.Reporter)
	if err != nil {
		return nil, fmt.Errorf("creating external connection: %w", err)
	}

	negotiated := true
	var channelID uint16
	if _, err := pion.pc.CreateDataChannel("mockrtc-sctp", &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &channelID,
	}); err != nil {
		pion.Close()
		return nil, fmt.Errorf("bootstrapping data transport: %w", err)
	}
	return &External{pionConn: pion}, nil
}

// ConnectDynamic creates and fully negotiates an external connection
// through the configured dynamic answer source.
func (f *Factory) ConnectDynamic(ctx context.Context, local conn.Connection) (conn.ExternalConnection, error) {
	if f.Dynamic == nil {
		return nil, errors.New("no dynamic peer source configured")
	}
	ext, err := f.NewExternal(ctx)
	if err != nil {
		return nil, err
	}
	offer, err := ext.CreateOffer(ctx)
	if err != nil {
		ext.Close()
		return nil, err
	}
	answer, err := f.Dynamic.Answer(ctx, offer)
	if err != nil {
		ext.Close()
		return nil, err
	}
	if err := ext.SetAnswer(answer); err != nil {
		ext.Close()
		return nil, err
	}
	return ext, nil
}
