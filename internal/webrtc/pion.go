package webrtc

import (
	"log"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/events"
)

// pionConn couples one pion PeerConnection to the connection abstraction:
// pion callbacks feed the Mock's channel/track collections, and the Mock's
// sinks write back through pion. Mock peers and external connections share
// it.
type pionConn struct {
	id       string
	pc       *webrtc.PeerConnection
	mock     *conn.Mock
	reporter events.Reporter
}

func newPionConn(id string, iceServers []string, reporter events.Reporter) (*pionConn, error) {
	if reporter == nil {
		reporter = events.NullReporter
	}
	var config webrtc.Configuration
	for _, url := range iceServers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{URLs: []string{url}})
	}
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	p := &pionConn{
		id:       id,
		pc:       pc,
		mock:     conn.NewMock(id, reporter),
		reporter: reporter,
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			p.bindChannel(dc, true)
		})
	})
	pc.OnTrack(p.adoptTrack)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("peer %s: connection state %s", p.id, state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			reporter.Report(events.Event{
				Type:   events.PeerConnected,
				PeerID: p.id,
			})
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			p.mock.Close()
		}
	})
	return p, nil
}

// bindChannel registers a pion data channel with the connection's
// collection and wires delivery in both directions.
func (p *pionConn) bindChannel(dc *webrtc.DataChannel, remote bool) *conn.MockChannel {
	mc := p.mock.AddChannel(dc.Label(), remote, func(msg conn.Message) error {
		if msg.Binary {
			return dc.Send(msg.Data)
		}
		return dc.SendText(string(msg.Data))
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		mc.Deliver(conn.Message{Data: m.Data, Binary: !m.IsString})
	})
	dc.OnError(func(err error) {
		log.Printf("peer %s: channel %q: %v", p.id, dc.Label(), err)
	})
	return mc
}

// adoptTrack registers a remote track. When the negotiated transceiver has
// a sendable leg, frames written to the track loop back through it.
func (p *pionConn) adoptTrack(tr *webrtc.TrackRemote, recv *webrtc.RTPReceiver) {
	var loopback *webrtc.TrackLocalStaticRTP
	for _, tx := range p.pc.GetTransceivers() {
		if tx.Receiver() != recv || tx.Sender() == nil {
			continue
		}
		lt, err := webrtc.NewTrackLocalStaticRTP(tr.Codec().RTPCodecCapability, tr.ID(), "mockrtc")
		if err == nil && tx.Sender().ReplaceTrack(lt) == nil {
			loopback = lt
		}
		break
	}

	sink := func(frame []byte) error {
		if loopback == nil {
			return nil // no sendable leg negotiated
		}
		var pkt rtp.Packet
		if err := pkt.Unmarshal(frame); err != nil {
			return err
		}
		return loopback.WriteRTP(&pkt)
	}
	mt := p.mock.AddTrack(tr.ID(), tr.Kind().String(), true, sink)

	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := tr.Read(buf)
			if err != nil {
				return
			}
			frame := make([]byte, n)
			copy(frame, buf[:n])
			mt.Deliver(frame)
		}
	}()
}

// openChannel creates a locally initiated, ordered data channel.
func (p *pionConn) openChannel(label string) (conn.Channel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return p.bindChannel(dc, false), nil
}

// openTrack creates a locally initiated RTP track of the given kind.
func (p *pionConn) openTrack(id, kind string) (conn.Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
	if kind == "audio" {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	lt, err := webrtc.NewTrackLocalStaticRTP(capability, id, "mockrtc")
	if err != nil {
		return nil, err
	}
	sender, err := p.pc.AddTrack(lt)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)

	sink := func(frame []byte) error {
		_, err := lt.Write(frame)
		return err
	}
	return p.mock.AddTrack(id, kind, false, sink), nil
}

// drainRTCP keeps the sender's interceptor pipeline flowing.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *pionConn) ID() string { return p.id }

func (p *pionConn) WatchChannels() ([]conn.Channel, <-chan conn.Channel, func()) {
	return p.mock.WatchChannels()
}

func (p *pionConn) WatchTracks() ([]conn.Track, <-chan conn.Track, func()) {
	return p.mock.WatchTracks()
}

func (p *pionConn) Done() <-chan struct{} { return p.mock.Done() }

func (p *pionConn) Close() error {
	p.mock.Close()
	return p.pc.Close()
}
