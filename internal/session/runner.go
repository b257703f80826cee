// Package session drives one connection through its ordered list of step
// executors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/arunbanswal/mockrtc/internal/conn"
	"github.com/arunbanswal/mockrtc/internal/events"
	"github.com/arunbanswal/mockrtc/internal/step"
)

// Runner executes a session's steps strictly in sequence: step n+1 never
// starts before step n has completed or failed. A Runner is not safe for
// concurrent use; each session has its own.
type Runner struct {
	id       string
	conn     conn.Connection
	steps    []step.Step
	reporter events.Reporter
}

// NewRunner creates a Runner for one connection and its resolved steps.
// reporter may be nil.
func NewRunner(id string, c conn.Connection, steps []step.Step, reporter events.Reporter) *Runner {
	if reporter == nil {
		reporter = events.NullReporter
	}
	return &Runner{id: id, conn: c, steps: steps, reporter: reporter}
}

// Run executes the steps in order. Connection closure during a step is
// clean termination, not an error: waiting steps abort silently and
// perpetual steps complete. A genuine step failure aborts the remaining
// steps, tears the connection down and is returned with the failing step's
// context. Disposal of every step runs unconditionally.
func (r *Runner) Run(ctx context.Context) error {
	defer r.dispose()

	for i, s := range r.steps {
		err := s.Execute(ctx, r.conn)
		switch {
		case err == nil:
		case errors.Is(err, conn.ErrClosed):
			return nil // session ended while the step waited
		case errors.Is(err, context.Canceled):
			return nil
		default:
			r.conn.Close()
			return fmt.Errorf("session %s: step %d (%s): %w", r.id, i+1, s.Definition().Type(), err)
		}

		select {
		case <-r.conn.Done():
			return nil
		default:
		}
	}
	return nil
}

// dispose releases everything the steps own. Close errors are logged, not
// propagated; disposal must not mask the run's outcome.
func (r *Runner) dispose() {
	for _, s := range r.steps {
		if err := s.Close(); err != nil {
			log.Printf("session %s: disposing %s step: %v", r.id, s.Definition().Type(), err)
		}
	}
}
