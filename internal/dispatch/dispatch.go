// Package dispatch carries offer/answer negotiation across process
// boundaries. A step whose answer logic lives in another process registers
// a handler against a named endpoint; the executing side issues a call to
// that endpoint and receives the answer without knowing where the handler
// runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds a call whose context carries no deadline.
const DefaultCallTimeout = 30 * time.Second

// AnswerFunc produces an answer for an offer.
type AnswerFunc func(ctx context.Context, offer string) (string, error)

// AnswerSource abstracts where answers come from. Executors hold an
// AnswerSource and never branch on which implementation is behind it.
type AnswerSource interface {
	Answer(ctx context.Context, offer string) (string, error)
}

// Local wraps a same-process answer function as an AnswerSource.
func Local(fn AnswerFunc) AnswerSource { return localSource{fn} }

type localSource struct{ fn AnswerFunc }

func (l localSource) Answer(ctx context.Context, offer string) (string, error) {
	return l.fn(ctx, offer)
}

// Caller issues a request to a named endpoint and returns the answer.
type Caller interface {
	Call(ctx context.Context, endpoint, offer string) (string, error)
}

// Remote builds an AnswerSource backed by a Caller and endpoint.
func Remote(c Caller, endpoint string) AnswerSource {
	return remoteSource{c: c, endpoint: endpoint}
}

type remoteSource struct {
	c        Caller
	endpoint string
}

func (r remoteSource) Answer(ctx context.Context, offer string) (string, error) {
	return r.c.Call(ctx, r.endpoint, offer)
}

// Registrar accepts answer handlers for named endpoints.
type Registrar interface {
	Register(endpoint string, fn AnswerFunc) (cancel func())
}

// ErrNoPending is returned by Poll when no call arrived before the
// deadline.
var ErrNoPending = errors.New("no pending call")

type call struct {
	id    string
	offer string
	resp  chan callResult
}

type callResult struct {
	answer string
	err    error
}

// Broker pairs calls with handlers. A handler is either registered
// in-process or served by a remote poller (see Poll/Respond and the HTTP
// listener). Thread-safe.
type Broker struct {
	mu       sync.Mutex
	handlers map[string]AnswerFunc
	queues   map[string]chan *call
	inflight map[string]*call
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		handlers: make(map[string]AnswerFunc),
		queues:   make(map[string]chan *call),
		inflight: make(map[string]*call),
	}
}

// Register installs an in-process handler for endpoint. The returned cancel
// func removes it.
func (b *Broker) Register(endpoint string, fn AnswerFunc) func() {
	b.mu.Lock()
	b.handlers[endpoint] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, endpoint)
		b.mu.Unlock()
	}
}

func (b *Broker) queue(endpoint string) chan *call {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[endpoint]
	if !ok {
		q = make(chan *call, 8)
		b.queues[endpoint] = q
	}
	return q
}

// Call routes an offer to the endpoint's handler and waits for the answer.
// With no deadline on ctx, DefaultCallTimeout applies.
func (b *Broker) Call(ctx context.Context, endpoint, offer string) (string, error) {
	b.mu.Lock()
	fn := b.handlers[endpoint]
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx, offer)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	c := &call{
		id:    uuid.NewString(),
		offer: offer,
		resp:  make(chan callResult, 1),
	}
	b.mu.Lock()
	b.inflight[c.id] = c
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.inflight, c.id)
		b.mu.Unlock()
	}()

	select {
	case b.queue(endpoint) <- c:
	case <-ctx.Done():
		return "", fmt.Errorf("dispatch to %q: %w", endpoint, ctx.Err())
	}

	select {
	case res := <-c.resp:
		return res.answer, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("dispatch to %q: %w", endpoint, ctx.Err())
	}
}

// Poll blocks until a call arrives for endpoint or ctx ends, returning the
// call id and offer. Pollers answer via Respond.
func (b *Broker) Poll(ctx context.Context, endpoint string) (id, offer string, err error) {
	select {
	case c := <-b.queue(endpoint):
		return c.id, c.offer, nil
	case <-ctx.Done():
		return "", "", ErrNoPending
	}
}

// Respond delivers the answer (or handler error) for a polled call.
func (b *Broker) Respond(id, answer string, handlerErr string) error {
	b.mu.Lock()
	c, ok := b.inflight[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no inflight call %q", id)
	}
	res := callResult{answer: answer}
	if handlerErr != "" {
		res.err = errors.New(handlerErr)
	}
	select {
	case c.resp <- res:
	default:
	}
	return nil
}
