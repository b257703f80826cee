package step

import (
	"context"
	"fmt"
	"sync"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// sendMessageStep writes one message to every channel matching the label
// filter. Writes are issued concurrently; completion waits for all of
// them. Zero matching channels is vacuous success.
type sendMessageStep struct {
	def *SendMessageDef
}

func (s *sendMessageStep) Definition() Definition { return s.def }
func (s *sendMessageStep) Close() error           { return nil }

func (s *sendMessageStep) Execute(ctx context.Context, c conn.Connection) error {
	existing, _, stop := c.WatchChannels()
	stop() // snapshot only; this step does not wait for future channels

	var matched []conn.Channel
	for _, ch := range existing {
		if s.def.ChannelLabel == "" || ch.Label() == s.def.ChannelLabel {
			matched = append(matched, ch)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	msg := conn.Text(s.def.Message)
	if len(s.def.Binary) > 0 {
		msg = conn.Binary(s.def.Binary)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(matched))
	for _, ch := range matched {
		wg.Add(1)
		go func(ch conn.Channel) {
			defer wg.Done()
			if err := ch.Send(msg); err != nil {
				errs <- fmt.Errorf("channel %q: %v", ch.Label(), err)
			}
		}(ch)
	}
	wg.Wait()
	close(errs)

	if err := <-errs; err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// closeConnectionStep delegates to the connection's own close operation.
type closeConnectionStep struct {
	def *CloseConnectionDef
}

func (s *closeConnectionStep) Definition() Definition { return s.def }
func (s *closeConnectionStep) Close() error           { return nil }

func (s *closeConnectionStep) Execute(ctx context.Context, c conn.Connection) error {
	return c.Close()
}
