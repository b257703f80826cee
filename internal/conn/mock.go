package conn

import (
	"sync"

	"github.com/arunbanswal/mockrtc/internal/events"
)

// Mock is the canonical in-memory Connection. The transport collaborator
// feeds it via AddChannel/AddTrack and the per-stream Deliver methods; the
// engine and tests only see the Connection interface.
type Mock struct {
	id       string
	reporter events.Reporter

	mu            sync.Mutex
	channels      []*MockChannel
	tracks        []*MockTrack
	chanWatchers  map[int]func(Channel)
	trackWatchers map[int]func(Track)
	nextWatcher   int
	closed        bool

	done chan struct{}
}

// NewMock creates a Mock connection. reporter may be nil.
func NewMock(id string, reporter events.Reporter) *Mock {
	if reporter == nil {
		reporter = events.NullReporter
	}
	return &Mock{
		id:            id,
		reporter:      reporter,
		chanWatchers:  make(map[int]func(Channel)),
		trackWatchers: make(map[int]func(Track)),
		done:          make(chan struct{}),
	}
}

func (m *Mock) ID() string { return m.id }

// Done is closed when the connection closes.
func (m *Mock) Done() <-chan struct{} { return m.done }

// Close tears the connection down and closes every stream. Idempotent.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	channels := make([]*MockChannel, len(m.channels))
	copy(channels, m.channels)
	tracks := make([]*MockTrack, len(m.tracks))
	copy(tracks, m.tracks)
	close(m.done)
	m.mu.Unlock()

	for _, ch := range channels {
		ch.close()
	}
	for _, tr := range tracks {
		tr.close()
	}
	m.reporter.Report(events.Event{Type: events.PeerDisconnected, PeerID: m.id})
	return nil
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// AddChannel records a newly opened data channel and notifies watchers.
// sink receives outbound messages; a nil sink discards them. Called by the
// transport collaborator only.
//
// The channel starts paused: traffic arriving before the first consumer has
// subscribed and resumed is buffered, never dropped. Consumers call Resume
// after Subscribe.
func (m *Mock) AddChannel(label string, remote bool, sink func(Message) error) *MockChannel {
	ch := &MockChannel{
		conn:   m,
		label:  label,
		remote: remote,
		sink:   sink,
		subs:   make(map[int]func(Message)),
		paused: true,
	}
	m.mu.Lock()
	m.channels = append(m.channels, ch)
	watchers := make([]func(Channel), 0, len(m.chanWatchers))
	for _, w := range m.chanWatchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	m.reporter.Report(events.Event{
		Type:      events.DataChannelOpened,
		PeerID:    m.id,
		Label:     label,
		Direction: direction(remote),
	})
	for _, w := range watchers {
		w(ch)
	}
	return ch
}

// AddTrack records a newly opened media track and notifies watchers. Like
// channels, tracks start paused so frames preceding the first consumer are
// buffered.
func (m *Mock) AddTrack(id, kind string, remote bool, sink func([]byte) error) *MockTrack {
	tr := &MockTrack{
		conn:   m,
		id:     id,
		kind:   kind,
		remote: remote,
		sink:   sink,
		subs:   make(map[int]func([]byte)),
		paused: true,
	}
	m.mu.Lock()
	m.tracks = append(m.tracks, tr)
	watchers := make([]func(Track), 0, len(m.trackWatchers))
	for _, w := range m.trackWatchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	m.reporter.Report(events.Event{
		Type:      events.MediaTrackOpened,
		PeerID:    m.id,
		TrackID:   id,
		Direction: direction(remote),
	})
	for _, w := range watchers {
		w(tr)
	}
	return tr
}

// WatchChannels returns existing channels plus a stream of future opens.
// Snapshot and subscription happen under one lock.
func (m *Mock) WatchChannels() ([]Channel, <-chan Channel, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make([]Channel, len(m.channels))
	for i, ch := range m.channels {
		existing[i] = ch
	}

	updates := make(chan Channel)
	quit := make(chan struct{})
	id := m.nextWatcher
	m.nextWatcher++
	m.chanWatchers[id] = func(c Channel) {
		select {
		case updates <- c:
		case <-quit:
		}
	}
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(quit)
			m.mu.Lock()
			delete(m.chanWatchers, id)
			m.mu.Unlock()
		})
	}
	return existing, updates, stop
}

// WatchTracks is WatchChannels for media tracks.
func (m *Mock) WatchTracks() ([]Track, <-chan Track, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make([]Track, len(m.tracks))
	for i, tr := range m.tracks {
		existing[i] = tr
	}

	updates := make(chan Track)
	quit := make(chan struct{})
	id := m.nextWatcher
	m.nextWatcher++
	m.trackWatchers[id] = func(t Track) {
		select {
		case updates <- t:
		case <-quit:
		}
	}
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(quit)
			m.mu.Lock()
			delete(m.trackWatchers, id)
			m.mu.Unlock()
		})
	}
	return existing, updates, stop
}

func direction(remote bool) string {
	if remote {
		return "remote"
	}
	return "local"
}

// MockChannel implements Channel backed by in-process delivery.
type MockChannel struct {
	conn   *Mock
	label  string
	remote bool
	sink   func(Message) error

	// deliverMu serializes inbound delivery so a listener that pauses the
	// channel from inside its callback cannot race a concurrent Deliver.
	deliverMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]func(Message)
	nextSub int
	paused  bool
	buffer  []Message
	closed  bool
}

func (c *MockChannel) Label() string { return c.label }
func (c *MockChannel) Remote() bool  { return c.remote }

// Send writes a message through the transport sink.
func (c *MockChannel) Send(msg Message) error {
	c.mu.Lock()
	closed := c.closed
	sink := c.sink
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sink != nil {
		if err := sink(msg); err != nil {
			return err
		}
	}
	c.conn.reporter.Report(events.Event{
		Type:   events.DataChannelMessageSent,
		PeerID: c.conn.id,
		Label:  c.label,
		Bytes:  len(msg.Data),
	})
	return nil
}

// Subscribe registers a message listener.
func (c *MockChannel) Subscribe(fn func(Message)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Pause stops delivery; subsequent messages are buffered.
func (c *MockChannel) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume restarts delivery, flushing buffered messages in order. A
// listener that pauses the channel mid-flush stops the flush; the rest of
// the buffer stays put.
func (c *MockChannel) Resume() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()

	for {
		c.mu.Lock()
		if c.paused || len(c.buffer) == 0 {
			c.mu.Unlock()
			return
		}
		msg := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.mu.Unlock()
		c.dispatch(msg)
	}
}

// Deliver hands an inbound message to the channel. Called by the transport
// collaborator. Deliveries are serialized per channel.
func (c *MockChannel) Deliver(msg Message) {
	c.conn.reporter.Report(events.Event{
		Type:   events.DataChannelMessageReceived,
		PeerID: c.conn.id,
		Label:  c.label,
		Bytes:  len(msg.Data),
	})

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.paused {
		c.buffer = append(c.buffer, msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.dispatch(msg)
}

// dispatch fans a message out to current listeners. Caller holds deliverMu.
func (c *MockChannel) dispatch(msg Message) {
	c.mu.Lock()
	fns := make([]func(Message), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (c *MockChannel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = make(map[int]func(Message))
	c.mu.Unlock()
	c.conn.reporter.Report(events.Event{
		Type:   events.DataChannelClosed,
		PeerID: c.conn.id,
		Label:  c.label,
	})
}

// MockTrack implements Track backed by in-process delivery.
type MockTrack struct {
	conn   *Mock
	id     string
	kind   string
	remote bool
	sink   func([]byte) error

	deliverMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]func([]byte)
	nextSub int
	paused  bool
	buffer  [][]byte
	closed  bool
}

func (t *MockTrack) ID() string   { return t.id }
func (t *MockTrack) Kind() string { return t.kind }
func (t *MockTrack) Remote() bool { return t.remote }

// Write sends a media frame through the transport sink.
func (t *MockTrack) Write(frame []byte) error {
	t.mu.Lock()
	closed := t.closed
	sink := t.sink
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if sink != nil {
		return sink(frame)
	}
	return nil
}

// Subscribe registers a frame listener.
func (t *MockTrack) Subscribe(fn func([]byte)) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

func (t *MockTrack) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

func (t *MockTrack) Resume() {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	t.paused = false
	t.mu.Unlock()

	for {
		t.mu.Lock()
		if t.paused || len(t.buffer) == 0 {
			t.mu.Unlock()
			return
		}
		frame := t.buffer[0]
		t.buffer = t.buffer[1:]
		t.mu.Unlock()
		t.dispatch(frame)
	}
}

// Deliver hands an inbound frame to the track.
func (t *MockTrack) Deliver(frame []byte) {
	t.conn.reporter.Report(events.Event{
		Type:    events.MediaTrackStats,
		PeerID:  t.conn.id,
		TrackID: t.id,
		Bytes:   len(frame),
	})

	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	if t.paused {
		t.buffer = append(t.buffer, frame)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.dispatch(frame)
}

func (t *MockTrack) dispatch(frame []byte) {
	t.mu.Lock()
	fns := make([]func([]byte), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

func (t *MockTrack) close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.subs = make(map[int]func([]byte))
	t.mu.Unlock()
	t.conn.reporter.Report(events.Event{
		Type:    events.MediaTrackClosed,
		PeerID:  t.conn.id,
		TrackID: t.id,
	})
}
