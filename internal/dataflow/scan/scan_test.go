package scan

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/runtime"
)

type captureSink struct {
	base    *graph.Base
	fields  []string
	tuples  [][]any
	batches []message.Batch
}

func (c *captureSink) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			c.fields = v.Names
		case message.Tuple:
			c.tuples = append(c.tuples, v.Values)
		case message.Batch:
			c.batches = append(c.batches, v)
		}
	}
	return nil
}

func TestSQLTableScanEmitsFilteredRows(t *testing.T) {
	cl := client.NewMemClient(map[string]client.MemTable{
		"lineitem": {
			FieldNames: []string{"l_extendedprice"},
			Rows:       [][]any{{100.0}, {2500.0}, {1999.0}},
		},
	})

	s := NewSQLTableScan("scan1", cl, Config{
		Table: "lineitem",
		SQL:   "SELECT * FROM lineitem WHERE l_extendedprice < 2000",
	}, graph.BufferImmediate, zerolog.Nop())

	sink := &captureSink{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())
	sink.base = sinkBase

	tr := runtime.NewCooperative(zerolog.Nop())
	g := graph.New(tr, zerolog.Nop())
	if err := g.Add(s.Base()); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(sinkBase); err != nil {
		t.Fatal(err)
	}
	if err := s.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}

	if err := g.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(sink.tuples) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(sink.tuples))
	}
	if sink.fields[0] != "l_extendedprice" {
		t.Fatalf("unexpected field names: %v", sink.fields)
	}
}

func TestSQLTableScanBatchMode(t *testing.T) {
	cl := client.NewMemClient(map[string]client.MemTable{
		"t": {
			FieldNames: []string{"v"},
			Rows:       [][]any{{1}, {2}, {3}},
		},
	})

	s := NewSQLTableScan("scan1", cl, Config{
		Table:      "t",
		SQL:        "SELECT * FROM t",
		UseBatches: true,
		BatchSize:  10,
	}, graph.BufferImmediate, zerolog.Nop())

	sink := &captureSink{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())
	sink.base = sinkBase

	tr := runtime.NewCooperative(zerolog.Nop())
	g := graph.New(tr, zerolog.Nop())
	_ = g.Add(s.Base())
	_ = g.Add(sinkBase)
	if err := s.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}

	if err := g.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(sink.batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(sink.batches))
	}
	if sink.batches[0].NumRows() != 3 {
		t.Fatalf("expected 3 rows in batch, got %d", sink.batches[0].NumRows())
	}
}

func TestShardedScanSumsAcrossShards(t *testing.T) {
	cl := client.NewMemClient(map[string]client.MemTable{
		"t_0": {FieldNames: []string{"v"}, Rows: [][]any{{1}, {2}}},
		"t_1": {FieldNames: []string{"v"}, Rows: [][]any{{3}, {4}}},
	})

	s := NewSharded("scan1", cl, Config{Table: "t", SQL: "SELECT * FROM t"}, []int{0, 1}, 1, graph.BufferImmediate, zerolog.Nop())

	sink := &captureSink{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())
	sink.base = sinkBase

	tr := runtime.NewCooperative(zerolog.Nop())
	g := graph.New(tr, zerolog.Nop())
	_ = g.Add(s.Base())
	_ = g.Add(sinkBase)
	if err := s.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}

	if err := g.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sink.tuples) != 4 {
		t.Fatalf("expected 4 rows across shards, got %d", len(sink.tuples))
	}
}
