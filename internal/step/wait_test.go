package step

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// runStep executes a step in the background and returns its result channel.
func runStep(s Step, c conn.Connection) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Execute(context.Background(), c)
	}()
	return errCh
}

func expectResult(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("step did not complete in time")
		return nil
	}
}

func expectStillRunning(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		t.Fatalf("step completed prematurely with %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitForDurationCompletes(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, err := Build(WaitForDuration(20*time.Millisecond), Env{})
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := s.Execute(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected at least 20ms, got %v", elapsed)
	}
}

func TestWaitForDurationAbortsOnClose(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(WaitForDuration(time.Minute), Env{})

	errCh := runStep(s, m)
	m.Close()
	if err := expectResult(t, errCh); !errors.Is(err, conn.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWaitForDurationHonorsContext(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(WaitForDuration(time.Minute), Env{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Execute(ctx, m); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForChannelExistingSatisfies(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	m.AddChannel("chat", true, nil)

	s, _ := Build(WaitForChannel("chat"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Errorf("expected immediate completion, got %v", err)
	}
}

func TestWaitForChannelFutureSatisfies(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(WaitForChannel(""), Env{})

	errCh := runStep(s, m)
	expectStillRunning(t, errCh)

	m.AddChannel("late", true, nil)
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForChannelIgnoresLocalAndMismatched(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	m.AddChannel("chat", false, nil) // locally opened, never matches

	s, _ := Build(WaitForChannel("chat"), Env{})
	errCh := runStep(s, m)

	m.AddChannel("other", true, nil)
	expectStillRunning(t, errCh)

	m.AddChannel("chat", true, nil)
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForChannelAbortsOnClose(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(WaitForChannel("never"), Env{})

	errCh := runStep(s, m)
	m.Close()
	if err := expectResult(t, errCh); !errors.Is(err, conn.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWaitForTrackExistingAndFuture(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	m.AddTrack("t1", "audio", true, nil)
	s, _ := Build(WaitForTrack(), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Errorf("expected immediate completion, got %v", err)
	}

	m2 := conn.NewMock("peer-2", nil)
	m2.AddTrack("local", "audio", false, nil)
	s2, _ := Build(WaitForTrack(), Env{})
	errCh := runStep(s2, m2)
	expectStillRunning(t, errCh)
	m2.AddTrack("remote", "video", true, nil)
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForMessageLiveDelivery(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	s, _ := Build(WaitForMessage("chat"), Env{})
	errCh := runStep(s, m)
	expectStillRunning(t, errCh)

	ch.Deliver(conn.Text("Hello"))
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForMessageBufferedDeliverySatisfies(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	// The message arrived before anyone listened; the channel was paused so
	// it sits in the buffer. Attaching the wait must flush and fire.
	ch.Pause()
	ch.Deliver(conn.Text("early"))

	s, _ := Build(WaitForMessage("chat"), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Errorf("expected buffered message to satisfy the wait, got %v", err)
	}
}

func TestWaitForMessageFiresOnceAndRebuffers(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	s, _ := Build(WaitForMessage(""), Env{})
	errCh := runStep(s, m)
	expectStillRunning(t, errCh)

	ch.Deliver(conn.Text("first"))
	if err := expectResult(t, errCh); err != nil {
		t.Fatal(err)
	}

	// Traffic after the fire is buffered for the next step, not lost.
	ch.Deliver(conn.Text("second"))

	s2, _ := Build(WaitForMessage(""), Env{})
	if err := s2.Execute(context.Background(), m); err != nil {
		t.Errorf("expected rebuffered message to satisfy next wait, got %v", err)
	}
}

func TestWaitForMessageLabelFilter(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	other := m.AddChannel("other", true, nil)
	chat := m.AddChannel("chat", true, nil)

	s, _ := Build(WaitForMessage("chat"), Env{})
	errCh := runStep(s, m)

	other.Deliver(conn.Text("ignored"))
	expectStillRunning(t, errCh)

	chat.Deliver(conn.Text("Hello"))
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForMessageWatchesFutureChannels(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	s, _ := Build(WaitForMessage(""), Env{})
	errCh := runStep(s, m)
	expectStillRunning(t, errCh)

	ch := m.AddChannel("late", true, nil)
	ch.Deliver(conn.Text("hi"))
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForMessageAbortsOnClose(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	m.AddChannel("chat", true, nil)
	s, _ := Build(WaitForMessage("chat"), Env{})

	errCh := runStep(s, m)
	expectStillRunning(t, errCh)
	m.Close()
	if err := expectResult(t, errCh); !errors.Is(err, conn.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWaitForMediaFirstFrame(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	tr := m.AddTrack("t1", "video", true, nil)

	s, _ := Build(WaitForMedia(), Env{})
	errCh := runStep(s, m)
	expectStillRunning(t, errCh)

	tr.Deliver([]byte{0x80})
	if err := expectResult(t, errCh); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWaitForMediaBufferedFrameSatisfies(t *testing.T) {
	m := conn.NewMock("peer-1", nil)
	tr := m.AddTrack("t1", "audio", true, nil)
	tr.Pause()
	tr.Deliver([]byte{0x01})

	s, _ := Build(WaitForMedia(), Env{})
	if err := s.Execute(context.Background(), m); err != nil {
		t.Errorf("expected buffered frame to satisfy the wait, got %v", err)
	}
}
