package step

import (
	"context"
	"errors"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/dispatch"
	"github.com/arunbanswal/mockrtc/internal/events"
)

// ErrWriteFailed indicates the transport rejected a send-message write.
// It aborts the step and the session.
var ErrWriteFailed = errors.New("write failed")

// ErrNegotiationFailed indicates a proxy step's answer source errored or a
// dispatch round-trip failed. It aborts the step.
var ErrNegotiationFailed = errors.New("negotiation failed")

// Step is the live-behavior counterpart of a Definition, bound to a
// connection at execution time. Execute is invoked once per instance.
//
// Execute returns nil on genuine completion; for perpetual steps that is
// the moment connection closure is observed. A waiting step interrupted by
// closure returns conn.ErrClosed, which the session runner treats as clean
// termination rather than failure.
type Step interface {
	// Definition returns the portable description this step was built from.
	Definition() Definition

	// Execute runs the behavior against a live connection, blocking until
	// the behavior's completion condition holds.
	Execute(ctx context.Context, c conn.Connection) error

	// Close releases anything the step owns: external connections, timers,
	// subscriptions. Runs unconditionally when the session ends.
	Close() error
}

// Env carries the collaborators executors may need. Steps that need a
// collaborator the Env lacks fail at execution time.
type Env struct {
	// External creates external connections for proxy steps.
	External conn.ExternalFactory

	// Dispatch routes endpoint-backed answer requests, possibly across a
	// process boundary.
	Dispatch dispatch.Caller

	// Reporter receives session events. Nil means discard.
	Reporter events.Reporter
}

func (e Env) reporter() events.Reporter {
	if e.Reporter == nil {
		return events.NullReporter
	}
	return e.Reporter
}
