// Package runtime implements the two interchangeable transports an
// operator graph can run under: a single-threaded cooperative
// dispatcher and a process-parallel worker pool built on errgroup,
// both using the same zerolog component-logger convention as the
// rest of the dataflow packages.
package runtime

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
)

// Cooperative is the single-threaded transport: every Deliver is a
// direct tail call into the receiving operator's Dispatch, bracketed
// by a metrics context switch. No queues, no goroutines.
type Cooperative struct {
	logger    zerolog.Logger
	completed int
}

// NewCooperative returns a ready-to-use cooperative transport.
func NewCooperative(logger zerolog.Logger) *Cooperative {
	return &Cooperative{logger: logger.With().Str("component", "cooperative-transport").Logger()}
}

func (t *Cooperative) Async() bool { return false }

func (t *Cooperative) Deliver(from, to *graph.Base, msgs []message.Message) error {
	fromID := ""
	if from != nil {
		if err := from.Metrics().Stop(from.Name()); err != nil {
			return err
		}
		fromID = from.ID()
	}
	if err := to.Metrics().Start(to.Name()); err != nil {
		return err
	}

	err := to.Dispatch(msgs, fromID)

	if stopErr := to.Metrics().Stop(to.Name()); err == nil {
		err = stopErr
	}
	if from != nil {
		if startErr := from.Metrics().Start(from.Name()); err == nil {
			err = startErr
		}
	}
	return err
}

func (t *Cooperative) Signal(msg message.OperatorCompleted) {
	t.completed++
	t.logger.Debug().Str("operator_id", msg.Operator).Msg("operator completed")
}

// Run starts every source operator in turn. Because delivery is a
// direct call chain, by the time all sources' Start calls return, the
// entire reachable graph has run to quiescence or an error has
// propagated back through the call stack.
func (t *Cooperative) Run(ops []*graph.Base, sources []*graph.Base) error {
	for _, s := range sources {
		if err := s.Start(); err != nil {
			return fmt.Errorf("source %s: %w", s.Name(), err)
		}
	}
	for _, op := range ops {
		if !op.IsCompleted() {
			return fmt.Errorf("operator %s did not reach completion", op.Name())
		}
	}
	return nil
}
