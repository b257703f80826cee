package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLocalSource(t *testing.T) {
	src := Local(func(ctx context.Context, offer string) (string, error) {
		return "answer-to-" + offer, nil
	})
	answer, err := src.Answer(context.Background(), "offer")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "answer-to-offer" {
		t.Errorf("expected answer-to-offer, got %q", answer)
	}
}

func TestBrokerCallInvokesRegisteredHandler(t *testing.T) {
	b := NewBroker()
	cancel := b.Register("ep", func(ctx context.Context, offer string) (string, error) {
		return "direct-" + offer, nil
	})
	defer cancel()

	answer, err := b.Call(context.Background(), "ep", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "direct-o1" {
		t.Errorf("expected direct-o1, got %q", answer)
	}
}

func TestBrokerRegisterCancelRemovesHandler(t *testing.T) {
	b := NewBroker()
	cancel := b.Register("ep", func(ctx context.Context, offer string) (string, error) {
		return "x", nil
	})
	cancel()

	ctx, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	if _, err := b.Call(ctx, "ep", "o1"); err == nil {
		t.Error("expected timeout with no handler and no poller")
	}
}

func TestBrokerPollRespondRoundTrip(t *testing.T) {
	b := NewBroker()

	// A remote poller picks the call up and answers it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		id, offer, err := b.Poll(ctx, "ep")
		if err != nil {
			return
		}
		b.Respond(id, "polled-"+offer, "")
	}()

	answer, err := b.Call(context.Background(), "ep", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "polled-o1" {
		t.Errorf("expected polled-o1, got %q", answer)
	}
}

func TestBrokerRespondPropagatesHandlerError(t *testing.T) {
	b := NewBroker()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		id, _, err := b.Poll(ctx, "ep")
		if err != nil {
			return
		}
		b.Respond(id, "", "peer exploded")
	}()

	_, err := b.Call(context.Background(), "ep", "o1")
	if err == nil || err.Error() != "peer exploded" {
		t.Errorf("expected handler error back, got %v", err)
	}
}

func TestBrokerCallTimesOutWithoutPoller(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := b.Call(ctx, "nobody-home", "o1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBrokerPollTimesOutClean(t *testing.T) {
	b := NewBroker()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := b.Poll(ctx, "ep")
	if !errors.Is(err, ErrNoPending) {
		t.Errorf("expected ErrNoPending, got %v", err)
	}
}

func TestBrokerRespondUnknownCall(t *testing.T) {
	b := NewBroker()
	if err := b.Respond("no-such-id", "answer", ""); err == nil {
		t.Error("expected error for unknown call id")
	}
}

func TestRemoteSourceRoutesThroughCaller(t *testing.T) {
	b := NewBroker()
	cancel := b.Register("ep", func(ctx context.Context, offer string) (string, error) {
		return "via-" + offer, nil
	})
	defer cancel()

	src := Remote(b, "ep")
	answer, err := src.Answer(context.Background(), "o2")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "via-o2" {
		t.Errorf("expected via-o2, got %q", answer)
	}
}

func TestBrokerConcurrentCalls(t *testing.T) {
	b := NewBroker()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := 0; i < 3; i++ {
			id, offer, err := b.Poll(ctx, "ep")
			if err != nil {
				return
			}
			b.Respond(id, "ack-"+offer, "")
		}
	}()

	for i := 0; i < 3; i++ {
		offer := fmt.Sprintf("offer-%d", i)
		answer, err := b.Call(context.Background(), "ep", offer)
		if err != nil {
			t.Fatal(err)
		}
		if answer != "ack-"+offer {
			t.Errorf("expected ack-%s, got %q", offer, answer)
		}
	}
	<-done
}
