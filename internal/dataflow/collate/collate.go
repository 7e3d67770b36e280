// Package collate implements Collate: the terminal sink that
// accumulates every row or batch it receives and answers a blocking
// Tuples() request from outside the graph, once the graph has reached
// quiescence.
package collate

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
)

// Collate accumulates tuples and batches into an in-memory table.
// Printing/file-writing are utility affordances only and are
// deliberately not implemented here; callers retrieve results via
// Tuples.
type Collate struct {
	base   *graph.Base
	logger zerolog.Logger

	mu      sync.Mutex
	fields  []string
	rows    [][]any
	done    chan struct{}
	pending map[string][]message.Evaluated
}

// New constructs a Collate sink.
func New(name string, bufferSize int, logger zerolog.Logger) *Collate {
	c := &Collate{done: make(chan struct{}), pending: make(map[string][]message.Evaluated)}
	c.base = graph.NewBase(name, c, bufferSize, logger)
	c.logger = c.base.Logger()
	return c
}

func (c *Collate) Base() *graph.Base { return c.base }

// EvalChunkSize bounds how many rows one Evaluated reply carries, the
// Go-idiomatic stand-in for chunked Eval/Evaluated framing across a
// process boundary.
const EvalChunkSize = 500

func (c *Collate) Receive(msgs []message.Message, producer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			if c.fields == nil {
				c.fields = v.Names
			}
		case message.Tuple:
			c.rows = append(c.rows, v.Values)
		case message.Batch:
			c.rows = append(c.rows, message.ToRows(v)...)
		case message.Eval:
			c.pending[v.RequestID] = append(c.pending[v.RequestID], c.evaluatedChunks(v.RequestID)...)
		}
	}
	return nil
}

// evaluatedChunks frames the currently accumulated rows into
// EvalChunkSize-row Evaluated replies, the last one marked Done.
// Called while c.mu is already held.
func (c *Collate) evaluatedChunks(requestID string) []message.Evaluated {
	if len(c.rows) == 0 {
		return []message.Evaluated{{RequestID: requestID, Done: true}}
	}
	var chunks []message.Evaluated
	for i := 0; i < len(c.rows); i += EvalChunkSize {
		end := i + EvalChunkSize
		if end > len(c.rows) {
			end = len(c.rows)
		}
		tuples := make([]message.Tuple, end-i)
		for j := i; j < end; j++ {
			tuples[j-i] = message.Tuple{Values: c.rows[j]}
		}
		chunks = append(chunks, message.Evaluated{
			RequestID: requestID,
			Tuples:    tuples,
			Done:      end == len(c.rows),
		})
	}
	return chunks
}

// PopEvaluated returns and clears the Evaluated chunks queued for
// requestID by a prior Eval message, the async-mode counterpart to
// the direct Tuples() accessor.
func (c *Collate) PopEvaluated(requestID string) []message.Evaluated {
	c.mu.Lock()
	defer c.mu.Unlock()
	chunks := c.pending[requestID]
	delete(c.pending, requestID)
	return chunks
}

// Flush implements graph.Flusher: Collate has no deferred output of
// its own, but closes the "done" gate so Tuples, which may be called
// from outside the graph concurrently with the final Complete, knows
// accumulation is finished. The accumulated sequence is monotonically
// growing until this point, never after.
func (c *Collate) Flush() error {
	close(c.done)
	return nil
}

// Tuples blocks until the sink's producer(s) have completed, then
// returns the accumulated field names and rows. In synchronous/
// cooperative execution this returns immediately once Execute has
// already returned, since Flush has already run by then; the blocking
// behavior matters when a caller holds a reference to a still-running
// graph (e.g. a parallel-transport graph run from a goroutine).
func (c *Collate) Tuples() ([]string, [][]any) {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([][]any, len(c.rows))
	copy(rows, c.rows)
	return c.fields, rows
}

var _ graph.Handler = (*Collate)(nil)
var _ graph.Flusher = (*Collate)(nil)
