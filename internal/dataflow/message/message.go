// Package message defines the tagged set of values operators exchange
// over graph edges. Every concrete type implements Message by reporting
// its own Kind; consumers dispatch either on Kind() or with a type
// switch over the concrete types.
package message

// Kind identifies the concrete shape of a Message without requiring a
// type switch at every call site.
type Kind int

const (
	KindFieldNames Kind = iota
	KindTuple
	KindBatch
	KindBinary
	KindLog
	KindStart
	KindStop
	KindProducerCompleted
	KindConsumerCompleted
	KindOperatorCompleted
	KindEval
	KindEvaluated
)

func (k Kind) String() string {
	switch k {
	case KindFieldNames:
		return "field_names"
	case KindTuple:
		return "tuple"
	case KindBatch:
		return "batch"
	case KindBinary:
		return "binary"
	case KindLog:
		return "log"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindProducerCompleted:
		return "producer_completed"
	case KindConsumerCompleted:
		return "consumer_completed"
	case KindOperatorCompleted:
		return "operator_completed"
	case KindEval:
		return "eval"
	case KindEvaluated:
		return "evaluated"
	default:
		return "unknown"
	}
}

// Message is the shared interface every value crossing an edge
// implements.
type Message interface {
	Kind() Kind
}

// FieldNames announces the column order for the tuples that follow it
// on an edge. Each producer sends it before any Tuple or Batch; a
// sharded scan sends it again for every shard.
type FieldNames struct {
	Names []string
}

func (FieldNames) Kind() Kind { return KindFieldNames }

// Tuple is a single row, positional per the most recently received
// FieldNames on the same edge.
type Tuple struct {
	Values []any
}

func (Tuple) Kind() Kind { return KindTuple }

// ColumnType names the Go type stored in a Batch Column, so consumers
// can cast without reflection on every cell.
type ColumnType int

const (
	ColumnInt ColumnType = iota
	ColumnFloat
	ColumnString
	ColumnBool
)

// Column is one field's worth of values across an entire Batch, stored
// densely rather than as a slice of interface tuples.
type Column struct {
	Name string
	Type ColumnType
	Ints    []int64
	Floats  []float64
	Strings []string
	Bools   []bool
}

// Len returns the number of rows in the column, dispatching on Type.
func (c Column) Len() int {
	switch c.Type {
	case ColumnInt:
		return len(c.Ints)
	case ColumnFloat:
		return len(c.Floats)
	case ColumnString:
		return len(c.Strings)
	case ColumnBool:
		return len(c.Bools)
	default:
		return 0
	}
}

// At returns row i of the column as an any, for code paths that need
// to treat batch and row-mode tuples uniformly (e.g. Sort comparators).
func (c Column) At(i int) any {
	switch c.Type {
	case ColumnInt:
		return c.Ints[i]
	case ColumnFloat:
		return c.Floats[i]
	case ColumnString:
		return c.Strings[i]
	case ColumnBool:
		return c.Bools[i]
	default:
		return nil
	}
}

// Batch is a columnar block of rows, the vectorized alternative to a
// stream of individual Tuple messages.
type Batch struct {
	Columns []Column
}

func (Batch) Kind() Kind { return KindBatch }

// NumRows reports the row count of the batch, taken from the first
// column (all columns in a Batch share row count by construction).
func (b Batch) NumRows() int {
	if len(b.Columns) == 0 {
		return 0
	}
	return b.Columns[0].Len()
}

// Binary carries an opaque payload between operators that agree on its
// shape out of band, e.g. a serialized bloom filter.
type Binary struct {
	Name string
	Data []byte
}

func (Binary) Kind() Kind { return KindBinary }

// Log carries a diagnostic string for operators that forward logging
// across process-parallel transport boundaries.
type Log struct {
	Text string
}

func (Log) Kind() Kind { return KindLog }

// Start signals an operator to begin producing.
type Start struct{}

func (Start) Kind() Kind { return KindStart }

// Stop signals an operator to cease producing before natural
// completion; Base completes the operator when it receives one.
type Stop struct{}

func (Stop) Kind() Kind { return KindStop }

// ProducerCompleted is sent from a completing operator to each of its
// consumers, marking one producer edge as exhausted for each.
type ProducerCompleted struct {
	Producer string
}

func (ProducerCompleted) Kind() Kind { return KindProducerCompleted }

// ConsumerCompleted is sent from a completing operator to each of its
// producers, marking one consumer edge as drained for each.
type ConsumerCompleted struct {
	Consumer string
}

func (ConsumerCompleted) Kind() Kind { return KindConsumerCompleted }

// OperatorCompleted is broadcast to the shared completion queue so the
// transport can track overall graph termination without polling every
// operator.
type OperatorCompleted struct {
	Operator string
}

func (OperatorCompleted) Kind() Kind { return KindOperatorCompleted }

// Eval requests that an operator compute and report a result
// out-of-band, used by Collate to pull accumulated tuples across a
// process-parallel boundary in bounded chunks.
type Eval struct {
	RequestID string
	Chunk     int
}

func (Eval) Kind() Kind { return KindEval }

// Evaluated answers an Eval, reporting whether more chunks remain.
type Evaluated struct {
	RequestID string
	Tuples    []Tuple
	Done      bool
}

func (Evaluated) Kind() Kind { return KindEvaluated }
