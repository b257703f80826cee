package step

import (
	"context"
	"sync"
	"time"

	"github.com/arunbanswal/mockrtc/internal/conn"
)

// waitForDurationStep is a pure timer.
type waitForDurationStep struct {
	def *WaitForDurationDef
}

func (s *waitForDurationStep) Definition() Definition { return s.def }
func (s *waitForDurationStep) Close() error           { return nil }

func (s *waitForDurationStep) Execute(ctx context.Context, c conn.Connection) error {
	timer := time.NewTimer(time.Duration(s.def.DurationMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-c.Done():
		return conn.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForChannelStep completes when a matching channel is open on the
// remote side. Channels already open at attach time satisfy the wait.
type waitForChannelStep struct {
	def *WaitForChannelDef
}

func (s *waitForChannelStep) Definition() Definition { return s.def }
func (s *waitForChannelStep) Close() error           { return nil }

func (s *waitForChannelStep) match(ch conn.Channel) bool {
	return ch.Remote() && (s.def.ChannelLabel == "" || ch.Label() == s.def.ChannelLabel)
}

func (s *waitForChannelStep) Execute(ctx context.Context, c conn.Connection) error {
	existing, updates, stop := c.WatchChannels()
	defer stop()

	for _, ch := range existing {
		if s.match(ch) {
			return nil
		}
	}
	for {
		select {
		case ch := <-updates:
			if s.match(ch) {
				return nil
			}
		case <-c.Done():
			return conn.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForTrackStep completes when any remote media track is open.
type waitForTrackStep struct {
	def *WaitForTrackDef
}

func (s *waitForTrackStep) Definition() Definition { return s.def }
func (s *waitForTrackStep) Close() error           { return nil }

func (s *waitForTrackStep) Execute(ctx context.Context, c conn.Connection) error {
	existing, updates, stop := c.WatchTracks()
	defer stop()

	for _, tr := range existing {
		if tr.Remote() {
			return nil
		}
	}
	for {
		select {
		case tr := <-updates:
			if tr.Remote() {
				return nil
			}
		case <-c.Done():
			return conn.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// waitForMessageStep completes on the first message received on any
// matching channel. On firing it pauses every channel it was watching and
// drops all its listeners, so traffic arriving afterwards is buffered for
// whichever step watches next instead of being consumed here.
type waitForMessageStep struct {
	def *WaitForMessageDef
}

func (s *waitForMessageStep) Definition() Definition { return s.def }
func (s *waitForMessageStep) Close() error           { return nil }

func (s *waitForMessageStep) Execute(ctx context.Context, c conn.Connection) error {
	existing, updates, stop := c.WatchChannels()
	defer stop()

	fired := make(chan struct{})
	var fireOnce sync.Once

	var mu sync.Mutex
	var watched []conn.Channel
	var cancels []func()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
	}()

	watch := func(ch conn.Channel) {
		if s.def.ChannelLabel != "" && ch.Label() != s.def.ChannelLabel {
			return
		}
		cancel := ch.Subscribe(func(conn.Message) {
			fireOnce.Do(func() {
				// Pausing inside the delivery keeps later messages on this
				// channel buffered rather than lost.
				ch.Pause()
				close(fired)
			})
		})
		mu.Lock()
		watched = append(watched, ch)
		cancels = append(cancels, cancel)
		mu.Unlock()
		// An earlier step may have left the channel paused; flush its
		// buffer into our listener.
		ch.Resume()
	}

	for _, ch := range existing {
		watch(ch)
		select {
		case <-fired:
			s.settle(&mu, &watched, &cancels)
			return nil
		default:
		}
	}
	for {
		select {
		case ch := <-updates:
			watch(ch)
		case <-fired:
			s.settle(&mu, &watched, &cancels)
			return nil
		case <-c.Done():
			return conn.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// settle pauses every watched channel and removes all listeners, not just
// the one that fired.
func (s *waitForMessageStep) settle(mu *sync.Mutex, watched *[]conn.Channel, cancels *[]func()) {
	mu.Lock()
	defer mu.Unlock()
	for _, ch := range *watched {
		ch.Pause()
	}
	for _, cancel := range *cancels {
		cancel()
	}
	*cancels = nil
}

// waitForMediaStep completes on the first media frame on any track, with
// the same pause/unsubscribe-on-fire discipline as waitForMessageStep.
type waitForMediaStep struct {
	def *WaitForMediaDef
}

func (s *waitForMediaStep) Definition() Definition { return s.def }
func (s *waitForMediaStep) Close() error           { return nil }

func (s *waitForMediaStep) Execute(ctx context.Context, c conn.Connection) error {
	existing, updates, stop := c.WatchTracks()
	defer stop()

	fired := make(chan struct{})
	var fireOnce sync.Once

	var mu sync.Mutex
	var watched []conn.Track
	var cancels []func()
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
	}()

	watch := func(tr conn.Track) {
		cancel := tr.Subscribe(func([]byte) {
			fireOnce.Do(func() {
				tr.Pause()
				close(fired)
			})
		})
		mu.Lock()
		watched = append(watched, tr)
		cancels = append(cancels, cancel)
		mu.Unlock()
		tr.Resume()
	}

	settle := func() {
		mu.Lock()
		defer mu.Unlock()
		for _, tr := range watched {
			tr.Pause()
		}
		for _, cancel := range cancels {
			cancel()
		}
		cancels = nil
	}

	for _, tr := range existing {
		watch(tr)
		select {
		case <-fired:
			settle()
			return nil
		default:
		}
	}
	for {
		select {
		case tr := <-updates:
			watch(tr)
		case <-fired:
			settle()
			return nil
		case <-c.Done():
			return conn.ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
