package webrtc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/events"
)

// PeerConfig configures a mock peer.
type PeerConfig struct {
	// ID identifies the peer in events. Generated when empty.
	ID string

	// ICEServers lists STUN/TURN URLs. Empty works for loopback and LAN.
	ICEServers []string

	// Reporter receives transport events. Nil means discard.
	Reporter events.Reporter
}

// Peer is a mock peer hosted by the admin process. It answers a client's
// offer and feeds the resulting channels and tracks into the connection
// its session runner executes against.
type Peer struct {
	*pionConn
}

// NewPeer creates an unconnected mock peer.
func NewPeer(cfg PeerConfig) (*Peer, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	pion, err := newPionConn(cfg.ID, cfg.ICEServers, cfg.Reporter)
	if err != nil {
		return nil, fmt.Errorf("creating mock peer: %w", err)
	}
	return &Peer{pionConn: pion}, nil
}

// CreateAnswer applies the remote offer and returns the complete local
// answer, with ICE gathering finished.
func (p *Peer) CreateAnswer(ctx context.Context, offer string) (string, error) {
	desc, err := DecodeSDP(offer)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetRemoteDescription(*desc); err != nil {
		return "", fmt.Errorf("setting remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("creating answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("setting local answer: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(p.pc):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return EncodeSDP(p.pc.LocalDescription())
}

// OpenChannel opens a data channel toward the client.
func (p *Peer) OpenChannel(label string) (conn.Channel, error) {
	return p.openChannel(label)
}

// Conn returns the connection steps execute against.
func (p *Peer) Conn() *conn.Mock { return p.mock }
