// Package topk implements TopKTableScan: a sampled-threshold
// top-K scan that derives a filtering predicate from a small pilot
// sample instead of sorting the whole table, plus DummyTop, the same
// algorithm run entirely by an external compute worker.
package topk

import (
	"fmt"
	stdsort "sort"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/collate"
	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
	"github.com/jfoltran/dflow/internal/dataflow/runtime"
	"github.com/jfoltran/dflow/internal/dataflow/scan"
	rowsort "github.com/jfoltran/dflow/internal/dataflow/sort"
	"github.com/jfoltran/dflow/internal/dataflow/top"
)

// Bound selects which sample-derived cut-off value the filtered scan
// is built from.
type Bound int

const (
	// Conservative uses the LSV (the worst value still kept in the
	// sample's own top-K): may over-fetch, but guarantees
	// completeness unless the true extremum is missing from the
	// sample entirely.
	Conservative Bound = iota
	// Aggressive uses the MSV (the sample's true extremum): may
	// under-fetch.
	Aggressive
)

const defaultSampleScale = 3

// Config describes one sampled top-K scan.
type Config struct {
	Table       string
	BaseSQL     string
	Format      string
	Column      string
	ColumnType  string // SQL type name substituted into the CAST, e.g. "integer"
	K           int
	SampleScale int // s in the pilot sample's LIMIT s*K
	Direction   expr.Direction
	Bound       Bound
	Shards      []int // empty: single unsharded filtered scan
	Parallelism int    // >1 dispatches shards over runtime.Parallel
}

// TopKTableScan is a source operator (no producers): Start triggers
// the full sampled-threshold pipeline, and the final top-K is emitted
// as individual tuples before completing.
type TopKTableScan struct {
	base   *graph.Base
	client client.ScanClient
	cfg    Config
	logger zerolog.Logger
}

// New constructs a TopKTableScan bound to the given client.
func New(name string, cl client.ScanClient, cfg Config, bufferSize int, logger zerolog.Logger) *TopKTableScan {
	if cfg.SampleScale <= 0 {
		cfg.SampleScale = defaultSampleScale
	}
	t := &TopKTableScan{client: cl, cfg: cfg}
	t.base = graph.NewBase(name, t, bufferSize, logger)
	t.logger = t.base.Logger()
	return t
}

func (t *TopKTableScan) Base() *graph.Base { return t.base }

func (t *TopKTableScan) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if m.Kind() == message.KindStart {
			return t.run()
		}
	}
	return nil
}

func (t *TopKTableScan) sortExprs() []expr.SortExpr {
	return []expr.SortExpr{{Field: expr.Field{Name: t.cfg.Column}, Direction: t.cfg.Direction}}
}

func (t *TopKTableScan) run() error {
	if t.cfg.K <= 0 {
		return operr.Config(t.base.Name(), "K must be positive, got %d", t.cfg.K)
	}
	exprs := t.sortExprs()

	sampleFields, sampleTop, err := t.runPilotSample(exprs)
	if err != nil {
		return err
	}
	if len(sampleFields) == 0 {
		return t.finish(nil, nil)
	}
	fieldIndex := indexFields(sampleFields)
	colIdx, ok := fieldIndex[t.cfg.Column]
	if !ok {
		return operr.Schema(t.base.Name(), "sort column %q not present in sample header", t.cfg.Column)
	}

	threshold, op, ok := thresholdFrom(sampleTop, colIdx, t.cfg.Direction, t.cfg.Bound)
	if !ok {
		// Empty sample: nothing to threshold on, fall straight through.
		return t.finish(sampleFields, sampleTop)
	}

	filteredSQL := fmt.Sprintf("%s WHERE CAST(%s AS %s) %s %v", t.cfg.BaseSQL, t.cfg.Column, t.cfg.ColumnType, op, threshold)
	filteredFields, filteredTop, err := t.runFilteredScan(filteredSQL, exprs)
	if err != nil {
		return err
	}

	if len(filteredTop) < t.cfg.K {
		t.logger.Warn().
			Int("survived", len(filteredTop)).
			Int("k", t.cfg.K).
			Msg("threshold scan under-filled, falling back to sample top-k")
		return t.finish(sampleFields, sampleTop)
	}
	return t.finish(filteredFields, filteredTop)
}

func (t *TopKTableScan) finish(fields []string, rows [][]any) error {
	if fields != nil {
		if err := t.base.Send([]message.Message{message.FieldNames{Names: fields}}); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if err := t.base.Send([]message.Message{message.Tuple{Values: row}}); err != nil {
			return err
		}
	}
	return t.base.Complete()
}

// runPilotSample executes a small LIMIT s*K scan projecting only the
// sort column, feeding a local top-K, and returns its result via a
// private Collate.
func (t *TopKTableScan) runPilotSample(exprs []expr.SortExpr) ([]string, [][]any, error) {
	sampleSQL := fmt.Sprintf("SELECT %s FROM %s LIMIT %d", t.cfg.Column, t.cfg.Table, t.cfg.SampleScale*t.cfg.K)

	s := scan.NewSQLTableScan("topk-sample-scan", t.client, scan.Config{Table: t.cfg.Table, SQL: sampleSQL, Format: t.cfg.Format}, graph.BufferImmediate, t.logger)
	localTop := top.New("topk-sample-top", t.cfg.K, exprs, false, graph.BufferImmediate, t.logger)
	coll := collate.New("topk-sample-collate", graph.BufferImmediate, t.logger)

	g := graph.New(runtime.NewCooperative(t.logger), t.logger)
	for _, b := range []*graph.Base{s.Base(), localTop.Base(), coll.Base()} {
		if err := g.Add(b); err != nil {
			return nil, nil, operr.Internal(t.base.Name(), "pilot sample assembly: %v", err)
		}
	}
	if err := s.Base().Connect(localTop.Base()); err != nil {
		return nil, nil, err
	}
	if err := localTop.Base().Connect(coll.Base()); err != nil {
		return nil, nil, err
	}
	if err := g.Execute(); err != nil {
		return nil, nil, err
	}

	fields, rows := coll.Tuples()
	return fields, rows, nil
}

// runFilteredScan dispatches filteredSQL either as a single scan or,
// when Shards is non-empty, sharded across Parallelism workers (via
// runtime.Parallel when Parallelism > 1), each feeding its own local
// top-K into one shared Collate, then truncates the fanned-in result
// back down to the global top-K.
func (t *TopKTableScan) runFilteredScan(filteredSQL string, exprs []expr.SortExpr) ([]string, [][]any, error) {
	coll := collate.New("topk-filtered-collate", graph.BufferImmediate, t.logger)

	var tr graph.Transport
	if t.cfg.Parallelism > 1 {
		tr = runtime.NewParallel(t.logger)
	} else {
		tr = runtime.NewCooperative(t.logger)
	}
	g := graph.New(tr, t.logger)
	if err := g.Add(coll.Base()); err != nil {
		return nil, nil, operr.Internal(t.base.Name(), "filtered scan assembly: %v", err)
	}

	shards := t.cfg.Shards
	if len(shards) == 0 {
		shards = []int{-1} // sentinel: one unsharded scan
	}

	for i, shard := range shards {
		table := t.cfg.Table
		if shard >= 0 {
			table = fmt.Sprintf("%s_%d", t.cfg.Table, shard)
		}
		s := scan.NewSQLTableScan(fmt.Sprintf("topk-filtered-scan-%d", i), t.client, scan.Config{Table: table, SQL: filteredSQL, Format: t.cfg.Format}, graph.BufferImmediate, t.logger)
		localTop := top.New(fmt.Sprintf("topk-filtered-top-%d", i), t.cfg.K, exprs, false, graph.BufferImmediate, t.logger)
		if err := g.Add(s.Base()); err != nil {
			return nil, nil, err
		}
		if err := g.Add(localTop.Base()); err != nil {
			return nil, nil, err
		}
		if err := s.Base().Connect(localTop.Base()); err != nil {
			return nil, nil, err
		}
		if err := localTop.Base().Connect(coll.Base()); err != nil {
			return nil, nil, err
		}
	}

	if err := g.Execute(); err != nil {
		return nil, nil, err
	}

	fields, rows := coll.Tuples()
	fieldIndex := indexFields(fields)
	rows = truncateTopK(rows, t.cfg.K, exprs, fieldIndex)
	return fields, rows, nil
}

// thresholdFrom picks the cut-off value from a sample's own top-K,
// already sorted best-first by Top.Flush: the conservative bound
// (LSV) is the worst-still-kept value (the last element), the
// aggressive bound (MSV) is the true sample extremum (the first).
// Both bounds use the same comparison operator, which depends only on
// direction.
func thresholdFrom(sampleTop [][]any, colIdx int, direction expr.Direction, bound Bound) (value any, op string, ok bool) {
	if len(sampleTop) == 0 {
		return nil, "", false
	}
	if bound == Conservative {
		value = sampleTop[len(sampleTop)-1][colIdx]
	} else {
		value = sampleTop[0][colIdx]
	}
	op = "<="
	if direction == expr.Desc {
		op = ">="
	}
	return value, op, true
}

// truncateTopK merges per-shard local top-Ks back down to the global
// top-K; CompareRows already bakes direction into its ordering, so
// sorting ascending by CompareRows always yields best-first.
func truncateTopK(rows [][]any, k int, exprs []expr.SortExpr, fieldIndex map[string]int) [][]any {
	stdsort.Slice(rows, func(i, j int) bool { return rowsort.CompareRows(rows[i], rows[j], exprs, fieldIndex) < 0 })
	if len(rows) > k {
		rows = rows[:k]
	}
	return rows
}

func indexFields(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}

var _ graph.Handler = (*TopKTableScan)(nil)
