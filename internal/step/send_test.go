package step

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// captureSink collects outbound messages for one channel.
type captureSink struct {
	mu   sync.Mutex
	msgs []conn.Message
	err  error
}

func (c *captureSink) send(msg conn.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *captureSink) last() conn.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[len(c.msgs)-1]
}

func TestSendMessageNoMatchesIsVacuousSuccess(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(SendText("chat", "hello"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Errorf("expected vacuous success with zero matching channels, got %v", err)
	}
}

func TestSendMessageWritesToAllMatches(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	sinks := make([]*captureSink, 5)
	for i := range sinks {
		sinks[i] = &captureSink{}
		m.AddChannel("chat", true, sinks[i].send)
	}
	other := &captureSink{}
	m.AddChannel("other", true, other.send)

	s, _ := Build(SendText("chat", "hello"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	for i, sink := range sinks {
		if sink.count() != 1 {
			t.Errorf("channel %d: expected 1 message, got %d", i, sink.count())
			continue
		}
		if got := string(sink.last().Data); got != "hello" {
			t.Errorf("channel %d: expected hello, got %q", i, got)
		}
	}
	if other.count() != 0 {
		t.Errorf("expected no messages on non-matching channel, got %d", other.count())
	}
}

func TestSendMessageEmptyLabelMatchesAll(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	a := &captureSink{}
	b := &captureSink{}
	m.AddChannel("a", true, a.send)
	m.AddChannel("b", false, b.send)

	s, _ := Build(SendText("", "broadcast"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both channels written, got %d and %d", a.count(), b.count())
	}
}

func TestSendMessageBinaryPayload(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	sink := &captureSink{}
	m.AddChannel("raw", true, sink.send)

	s, _ := Build(SendBinary("raw", []byte{0xde, 0xad}), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	msg := sink.last()
	if !msg.Binary || len(msg.Data) != 2 {
		t.Errorf("expected 2-byte binary message, got %+v", msg)
	}
}

func TestSendMessageFailureAbortsStep(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	ok := &captureSink{}
	bad := &captureSink{err: fmt.Errorf("transport buffer full")}
	m.AddChannel("chat", true, ok.send)
	m.AddChannel("chat", true, bad.send)

	s, _ := Build(SendText("chat", "hello"), Env{})
	err := s.Execute(context.Background(), m)
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
	// The healthy channel still gets its write; sends are concurrent.
	if ok.count() != 1 {
		t.Errorf("expected 1 message on healthy channel, got %d", ok.count())
	}
}

func TestSendMessageIgnoresChannelsOpenedLater(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(SendText("", "hello"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	late := &captureSink{}
	m.AddChannel("chat", true, late.send)
	if late.count() != 0 {
		t.Errorf("expected no write to channel opened after the step, got %d", late.count())
	}
}

func TestCloseConnectionStep(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(CloseConnection(), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if !m.Closed() {
		t.Error("expected connection closed")
	}
}
