// Package sort implements Sort: a blocking operator that buffers
// every row, then heap-sorts and emits once its producer(s) complete.
// Tie-breaking follows the sort expression vector left to right.
package sort

import (
	"container/heap"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// Sort buffers all incoming rows and, on Flush (all producers
// completed), drains a heap ordered by Exprs and emits the sorted
// sequence as individual tuples.
type Sort struct {
	base   *graph.Base
	exprs  []expr.SortExpr
	logger zerolog.Logger

	fields      []string
	fieldIndex  map[string]int
	headerSent  bool
	rows        [][]any
}

// New constructs a Sort operator over the given multi-key expression
// vector, evaluated left to right.
func New(name string, exprs []expr.SortExpr, bufferSize int, logger zerolog.Logger) *Sort {
	s := &Sort{exprs: exprs}
	s.base = graph.NewBase(name, s, bufferSize, logger)
	s.logger = s.base.Logger()
	return s
}

func (s *Sort) Base() *graph.Base { return s.base }

func (s *Sort) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			if !s.headerSent {
				s.fields = v.Names
				s.fieldIndex = indexFields(v.Names)
				if err := s.base.Send([]message.Message{v}); err != nil {
					return err
				}
				s.headerSent = true
			}
		case message.Tuple:
			if s.fieldIndex == nil {
				return operr.Schema(s.base.Name(), "received tuple before field names")
			}
			s.rows = append(s.rows, v.Values)
		case message.Batch:
			if s.fieldIndex == nil {
				return operr.Schema(s.base.Name(), "received batch before field names")
			}
			s.rows = append(s.rows, message.ToRows(v)...)
		}
	}
	return nil
}

// Flush implements graph.Flusher: drains a heap of the buffered rows
// in sort order and emits them as tuples.
func (s *Sort) Flush() error {
	if len(s.rows) == 0 {
		return nil
	}
	for _, e := range s.exprs {
		if _, ok := s.fieldIndex[e.Field.Name]; !ok {
			return operr.Schema(s.base.Name(), "sort field %q not present in header", e.Field.Name)
		}
	}

	h := &rowHeap{rows: s.rows, exprs: s.exprs, fieldIndex: s.fieldIndex}
	heap.Init(h)
	for h.Len() > 0 {
		row := heap.Pop(h).([]any)
		if err := s.base.Send([]message.Message{message.Tuple{Values: row}}); err != nil {
			return err
		}
	}
	return nil
}

func indexFields(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}

var _ graph.Handler = (*Sort)(nil)
var _ graph.Flusher = (*Sort)(nil)

// rowHeap is a container/heap.Interface ordering rows by exprs
// left-to-right with the multi-key comparator shared with package
// top. Rows tied on every expression come out in no defined order.
type rowHeap struct {
	rows       [][]any
	exprs      []expr.SortExpr
	fieldIndex map[string]int
}

func (h *rowHeap) Len() int { return len(h.rows) }

func (h *rowHeap) Less(i, j int) bool {
	return Less(h.rows[i], h.rows[j], h.exprs, h.fieldIndex)
}

func (h *rowHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }

func (h *rowHeap) Push(x any) { h.rows = append(h.rows, x.([]any)) }

func (h *rowHeap) Pop() any {
	old := h.rows
	n := len(old)
	v := old[n-1]
	h.rows = old[:n-1]
	return v
}

// Less reports whether row a sorts before row b under exprs,
// evaluated left to right: the first expression that distinguishes
// the two rows decides the order.
func Less(a, b []any, exprs []expr.SortExpr, fieldIndex map[string]int) bool {
	return CompareRows(a, b, exprs, fieldIndex) < 0
}

// CompareRows returns -1, 0, or 1 comparing rows a and b under exprs,
// evaluated left to right, honoring each expr's direction. A 0 result
// means the rows are tied on every expression and the caller must
// apply its own tie-break (e.g. insertion order).
func CompareRows(a, b []any, exprs []expr.SortExpr, fieldIndex map[string]int) int {
	for _, e := range exprs {
		idx := fieldIndex[e.Field.Name]
		cmp := compare(a[idx], b[idx])
		if cmp == 0 {
			continue
		}
		if e.Direction == expr.Desc {
			cmp = -cmp
		}
		return cmp
	}
	return 0
}

// compare returns -1, 0, or 1 comparing two scalar cell values,
// supporting the numeric and string types this engine's columns use.
func compare(a, b any) int {
	switch av := a.(type) {
	case int:
		return compareFloat(float64(av), toFloatCell(b))
	case int64:
		return compareFloat(float64(av), toFloatCell(b))
	case float64:
		return compareFloat(av, toFloatCell(b))
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, _ := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av && bv:
			return -1
		default:
			return 1
		}
	default:
		return 0
	}
}

func toFloatCell(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
