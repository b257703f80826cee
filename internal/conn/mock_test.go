package conn

import (
	"sync"
	"testing"
	"time"
)

func TestMockWatchChannelsSnapshot(t *testing.T) {
	m := NewMock("peer-1", nil)
	m.AddChannel("chat", true, nil)
	m.AddChannel("data", false, nil)

	existing, _, stop := m.WatchChannels()
	defer stop()

	if len(existing) != 2 {
		t.Fatalf("expected 2 existing channels, got %d", len(existing))
	}
	if existing[0].Label() != "chat" || existing[1].Label() != "data" {
		t.Errorf("expected [chat data], got [%s %s]", existing[0].Label(), existing[1].Label())
	}
	if !existing[0].Remote() {
		t.Error("expected chat to be remote")
	}
	if existing[1].Remote() {
		t.Error("expected data to be local")
	}
}

func TestMockWatchChannelsUpdates(t *testing.T) {
	m := NewMock("peer-1", nil)
	existing, updates, stop := m.WatchChannels()
	defer stop()

	if len(existing) != 0 {
		t.Fatalf("expected no existing channels, got %d", len(existing))
	}

	go m.AddChannel("late", true, nil)

	select {
	case ch := <-updates:
		if ch.Label() != "late" {
			t.Errorf("expected label late, got %s", ch.Label())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel update")
	}
}

func TestMockWatchStopUnblocksNotifier(t *testing.T) {
	m := NewMock("peer-1", nil)
	_, _, stop := m.WatchChannels()
	stop()

	// With the watcher stopped and nobody reading updates, AddChannel must
	// not block.
	done := make(chan struct{})
	go func() {
		m.AddChannel("chat", true, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AddChannel blocked after watcher stop")
	}
}

func TestMockChannelSubscribeAndDeliver(t *testing.T) {
	m := NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	var mu sync.Mutex
	var got []string
	cancel := ch.Subscribe(func(msg Message) {
		mu.Lock()
		got = append(got, string(msg.Data))
		mu.Unlock()
	})
	ch.Resume()

	ch.Deliver(Text("one"))
	ch.Deliver(Text("two"))
	cancel()
	ch.Deliver(Text("three"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("expected [one two], got %v", got)
	}
}

func TestMockChannelBuffersBeforeFirstSubscriber(t *testing.T) {
	m := NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	// Traffic can land between the channel opening and the first consumer
	// attaching; it must be waiting for that consumer, not dropped.
	ch.Deliver(Text("early"))

	var got []string
	ch.Subscribe(func(msg Message) {
		got = append(got, string(msg.Data))
	})
	ch.Resume()

	if len(got) != 1 || got[0] != "early" {
		t.Errorf("expected [early] flushed to first subscriber, got %v", got)
	}
}

func TestMockTrackBuffersBeforeFirstSubscriber(t *testing.T) {
	m := NewMock("peer-1", nil)
	tr := m.AddTrack("t1", "audio", true, nil)

	tr.Deliver([]byte{0x01})

	var frames [][]byte
	tr.Subscribe(func(frame []byte) {
		frames = append(frames, frame)
	})
	tr.Resume()

	if len(frames) != 1 || frames[0][0] != 0x01 {
		t.Errorf("expected buffered frame flushed to first subscriber, got %v", frames)
	}
}

func TestMockChannelPauseBuffersInOrder(t *testing.T) {
	m := NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	var got []string
	ch.Subscribe(func(msg Message) {
		got = append(got, string(msg.Data))
	})

	ch.Pause()
	ch.Deliver(Text("a"))
	ch.Deliver(Text("b"))
	if len(got) != 0 {
		t.Fatalf("expected no deliveries while paused, got %v", got)
	}

	ch.Resume()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected buffered [a b] after resume, got %v", got)
	}

	ch.Deliver(Text("c"))
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("expected c delivered live after resume, got %v", got)
	}
}

func TestMockChannelPauseFromListenerStopsFlush(t *testing.T) {
	m := NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)

	var got []string
	ch.Subscribe(func(msg Message) {
		got = append(got, string(msg.Data))
		ch.Pause()
	})

	ch.Pause()
	ch.Deliver(Text("first"))
	ch.Deliver(Text("second"))

	// The listener re-pauses on the first message; the second stays
	// buffered.
	ch.Resume()
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected only [first], got %v", got)
	}

	ch.Resume()
	if len(got) != 2 || got[1] != "second" {
		t.Errorf("expected [first second] after second resume, got %v", got)
	}
}

func TestMockChannelSendUsesSink(t *testing.T) {
	m := NewMock("peer-1", nil)
	var sent []Message
	ch := m.AddChannel("chat", false, func(msg Message) error {
		sent = append(sent, msg)
		return nil
	})

	if err := ch.Send(Binary([]byte{1, 2, 3})); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || !sent[0].Binary || len(sent[0].Data) != 3 {
		t.Errorf("expected one binary message of 3 bytes, got %v", sent)
	}
}

func TestMockCloseIsIdempotentAndClosesStreams(t *testing.T) {
	m := NewMock("peer-1", nil)
	ch := m.AddChannel("chat", true, nil)
	tr := m.AddTrack("t1", "audio", true, nil)

	if m.Closed() {
		t.Fatal("expected connection open")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !m.Closed() {
		t.Error("expected connection closed")
	}
	select {
	case <-m.Done():
	default:
		t.Error("expected Done to be closed")
	}

	if err := ch.Send(Text("late")); err != ErrClosed {
		t.Errorf("expected ErrClosed from channel send, got %v", err)
	}
	if err := tr.Write([]byte{0}); err != ErrClosed {
		t.Errorf("expected ErrClosed from track write, got %v", err)
	}
}

func TestMockTrackPauseAndResume(t *testing.T) {
	m := NewMock("peer-1", nil)
	tr := m.AddTrack("t1", "video", true, nil)

	var frames [][]byte
	tr.Subscribe(func(frame []byte) {
		frames = append(frames, frame)
	})

	tr.Pause()
	tr.Deliver([]byte{1})
	tr.Deliver([]byte{2})
	if len(frames) != 0 {
		t.Fatalf("expected no frames while paused, got %d", len(frames))
	}
	tr.Resume()
	if len(frames) != 2 || frames[0][0] != 1 || frames[1][0] != 2 {
		t.Errorf("expected buffered frames [1 2], got %v", frames)
	}
}

func TestMockConcurrentDeliverAndWatch(t *testing.T) {
	m := NewMock("peer-1", nil)

	var wg sync.WaitGroup
	seen := make(chan Channel, 64)
	_, updates, stop := m.WatchChannels()
	defer stop()
	go func() {
		for ch := range updates {
			seen <- ch
		}
	}()

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := m.AddChannel("chat", true, nil)
			ch.Deliver(Text("x"))
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 8 watcher notifications, got %d", i)
		}
	}
}
