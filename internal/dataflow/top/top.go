// Package top implements Top: a streaming partial/global top-K
// operator under a sort expression vector, in two modes, row-at-a-
// time (bounded heap) and batched (merge-then-truncate). Both modes
// share one comparator (sort.CompareRows) so ASC/DESC and multi-key
// tie-breaking behave identically whichever mode is active.
package top

import (
	"container/heap"
	stdsort "sort"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
	rowsort "github.com/jfoltran/dflow/internal/dataflow/sort"
)

// Top is the operator. BatchMode selects between the row-mode bounded
// heap and the batch-mode merge-then-truncate algorithm; both are
// exposed by the same type since they share all setup/lifecycle code
// and differ only in Receive's per-message handling.
type Top struct {
	base      *graph.Base
	k         int
	exprs     []expr.SortExpr
	batchMode bool
	logger    zerolog.Logger

	fields     []string
	fieldIndex map[string]int
	headerSent bool

	rowHeap  *boundedHeap // row mode
	rowSeq   int64
	batchTop []item // batch mode running global top-K, kept sorted best-first
}

// New constructs a Top operator keeping at most k rows under exprs.
func New(name string, k int, exprs []expr.SortExpr, batchMode bool, bufferSize int, logger zerolog.Logger) *Top {
	t := &Top{k: k, exprs: exprs, batchMode: batchMode}
	t.base = graph.NewBase(name, t, bufferSize, logger)
	t.logger = t.base.Logger()
	return t
}

func (t *Top) Base() *graph.Base { return t.base }

func (t *Top) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			if !t.headerSent {
				t.fields = v.Names
				t.fieldIndex = indexFields(v.Names)
				if err := t.base.Send([]message.Message{v}); err != nil {
					return err
				}
				t.headerSent = true
			}
		case message.Tuple:
			if t.fieldIndex == nil {
				return operr.Schema(t.base.Name(), "received tuple before field names")
			}
			if err := t.offerRow(v.Values); err != nil {
				return err
			}
		case message.Batch:
			if t.fieldIndex == nil {
				return operr.Schema(t.base.Name(), "received batch before field names")
			}
			if err := t.offerBatch(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// item pairs a row with its arrival sequence number, the tie-break
// key that makes multi-key ordering deterministic across batches
// (grounded on the original's batched top-K tie-break).
type item struct {
	row []any
	seq int64
}

func (t *Top) offerRow(row []any) error {
	if t.rowHeap == nil {
		t.rowHeap = &boundedHeap{exprs: t.exprs, fieldIndex: t.fieldIndex}
	}
	t.rowSeq++
	it := item{row: row, seq: t.rowSeq}

	if t.rowHeap.Len() < t.k {
		heap.Push(t.rowHeap, it)
		return nil
	}
	if t.rowHeap.Len() == 0 {
		return nil
	}
	root := t.rowHeap.items[0]
	if less(it, root, t.exprs, t.fieldIndex) {
		t.rowHeap.items[0] = it
		heap.Fix(t.rowHeap, 0)
	}
	return nil
}

func (t *Top) offerBatch(b message.Batch) error {
	rows := message.ToRows(b)
	items := make([]item, len(rows))
	for i, r := range rows {
		t.rowSeq++
		items[i] = item{row: r, seq: t.rowSeq}
	}
	merged := mergeTopK(t.batchTop, items, t.k, t.exprs, t.fieldIndex)
	t.batchTop = merged
	return nil
}

// Flush implements graph.Flusher: emits the final top-K, best-first,
// as a single batch in batch mode or as individual tuples in row
// mode.
func (t *Top) Flush() error {
	var final []item
	switch {
	case t.batchMode:
		final = t.batchTop
	case t.rowHeap != nil:
		final = drainBest(t.rowHeap, t.exprs, t.fieldIndex)
	}

	if len(final) == 0 {
		return nil
	}
	rows := make([][]any, len(final))
	for i, it := range final {
		rows[i] = it.row
	}
	if t.batchMode {
		return t.base.Send([]message.Message{message.FromRows(t.fields, rows)})
	}
	for _, r := range rows {
		if err := t.base.Send([]message.Message{message.Tuple{Values: r}}); err != nil {
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

// less reports whether a sorts before b in final output order,
// breaking ties by arrival sequence (earlier arrival sorts first).
func less(a, b item, exprs []expr.SortExpr, fieldIndex map[string]int) bool {
	cmp := rowsort.CompareRows(a.row, b.row, exprs, fieldIndex)
	if cmp != 0 {
		return cmp < 0
	}
	return a.seq < b.seq
}

// mergeTopK concatenates the running top-K with a fresh batch's items
// and keeps the best k overall, stable on ties by sequence. This is
// the "batched extrema" helper: for small k relative to the batch, a
// full sort is wasteful, but since Go's stdlib has no partial-select
// primitive, a full sort.Slice over the (small) concatenation is the
// straightforward correct choice here.
func mergeTopK(running []item, fresh []item, k int, exprs []expr.SortExpr, fieldIndex map[string]int) []item {
	all := make([]item, 0, len(running)+len(fresh))
	all = append(all, running...)
	all = append(all, fresh...)

	stdsort.Slice(all, func(i, j int) bool { return less(all[i], all[j], exprs, fieldIndex) })
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func drainBest(h *boundedHeap, exprs []expr.SortExpr, fieldIndex map[string]int) []item {
	n := h.Len()
	worstFirst := make([]item, n)
	for i := 0; i < n; i++ {
		worstFirst[i] = heap.Pop(h).(item)
	}
	bestFirst := make([]item, n)
	for i, it := range worstFirst {
		bestFirst[n-1-i] = it
	}
	return bestFirst
}

var _ graph.Handler = (*Top)(nil)
var _ graph.Flusher = (*Top)(nil)
