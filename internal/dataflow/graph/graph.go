// Package graph implements the operator-graph abstraction: nodes
// (Base-backed operators), typed edges, buffered send, completion-wave
// accounting, and the Graph assembler that boots and runs them.
package graph

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// Graph owns a set of operators exclusively; operators never hold a
// cyclical or owning reference to one another, only the direct peer
// references Base.Connect records for routing.
type Graph struct {
	logger    zerolog.Logger
	transport Transport
	operators []*Base
	byID      map[string]*Base
	booted    bool
}

// New returns an empty Graph bound to the given transport. The
// transport is fixed at construction time: the scheduling model is
// chosen once, at graph-construction time, and does not change.
func New(transport Transport, logger zerolog.Logger) *Graph {
	return &Graph{
		transport: transport,
		logger:    logger.With().Str("component", "graph").Logger(),
		byID:      make(map[string]*Base),
	}
}

// Add registers an operator with the graph and binds it to the
// graph's transport. Must be called for every operator before Boot.
func (g *Graph) Add(op *Base) error {
	if g.booted {
		return operr.Internal("graph", "cannot add operator %q after boot", op.Name())
	}
	if _, exists := g.byID[op.ID()]; exists {
		return operr.Config("graph", "operator %q added twice", op.Name())
	}
	op.SetTransport(g.transport)
	g.byID[op.ID()] = op
	g.operators = append(g.operators, op)
	return nil
}

// Boot finalizes every operator's completion bitsets now that all
// Connect calls are expected to have happened. Idempotent per-graph.
func (g *Graph) Boot() {
	if g.booted {
		return
	}
	for _, op := range g.operators {
		op.Boot()
	}
	g.booted = true
}

// Sources returns the operators with no connected producers: the
// scans that the runtime sends the initial Start to.
func (g *Graph) Sources() []*Base {
	var sources []*Base
	for _, op := range g.operators {
		if len(op.Producers()) == 0 {
			sources = append(sources, op)
		}
	}
	return sources
}

// Operators returns every registered operator, in registration order.
func (g *Graph) Operators() []*Base {
	return append([]*Base(nil), g.operators...)
}

// Lookup resolves an operator by its stable identifier.
func (g *Graph) Lookup(id string) (*Base, bool) {
	op, ok := g.byID[id]
	return op, ok
}

// Execute boots the graph if needed, starts every source operator,
// and blocks until every operator has signaled OperatorCompleted
// exactly once. It returns the first error any operator surfaced
// during execution.
func (g *Graph) Execute() error {
	g.Boot()
	if len(g.operators) == 0 {
		return nil
	}
	if err := g.transport.Run(g.operators, g.Sources()); err != nil {
		return fmt.Errorf("graph execute: %w", err)
	}
	return nil
}
