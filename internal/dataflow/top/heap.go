package top

import (
	"github.com/jfoltran/dflow/internal/dataflow/expr"
	rowsort "github.com/jfoltran/dflow/internal/dataflow/sort"
)

// boundedHeap is a capacity-K heap over item, ordered so its root
// (index 0) is always the current worst-kept row under exprs: a
// max-heap when exprs sorts ASC (worst-kept = largest), a min-heap
// when DESC (worst-kept = smallest), expressed uniformly because
// rowsort.CompareRows already encodes direction.
type boundedHeap struct {
	items      []item
	exprs      []expr.SortExpr
	fieldIndex map[string]int
}

func (h *boundedHeap) Len() int { return len(h.items) }

// Less defines heap priority as "worse in final order sorts first",
// which is the inverse of the row-vs-row comparator: swapping the
// operands to CompareRows turns the ascending output comparator into
// the descending (max-at-root) heap comparator this type needs.
func (h *boundedHeap) Less(i, j int) bool {
	cmp := rowsort.CompareRows(h.items[j].row, h.items[i].row, h.exprs, h.fieldIndex)
	if cmp != 0 {
		return cmp < 0
	}
	// Among ties, the later arrival is "worse" (sorts after), so it
	// should be evicted first; that makes it belong nearer the root.
	return h.items[j].seq < h.items[i].seq
}

func (h *boundedHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *boundedHeap) Push(x any) { h.items = append(h.items, x.(item)) }

func (h *boundedHeap) Pop() any {
	old := h.items
	n := len(old)
	v := old[n-1]
	h.items = old[:n-1]
	return v
}
