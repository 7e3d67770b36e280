package graph

import "github.com/jfoltran/dflow/internal/dataflow/message"

// Transport is the seam between the operator graph and the execution
// model. Exactly two implementations live in package runtime:
// a cooperative (single-threaded, tail-call) transport and a
// process-parallel (worker-per-operator, queued) transport. Both must
// give identical observable semantics; only the scheduling differs.
//
// The transport, not the operator, is responsible for enforcing the
// metrics timer invariant: the sender's timer stops and the
// receiver's starts atomically around every delivery.
type Transport interface {
	// Async reports whether this transport dispatches via queues
	// (true) or direct calls (false).
	Async() bool

	// Deliver routes msgs from the "from" operator (nil for the
	// initial Start delivered by the graph runtime itself) to "to".
	Deliver(from, to *Base, msgs []message.Message) error

	// Signal reports an operator's completion to the runtime's
	// shared completion queue.
	Signal(msg message.OperatorCompleted)

	// Run starts every source operator and blocks until the graph has
	// run to completion or an operator failed.
	Run(ops []*Base, sources []*Base) error
}
