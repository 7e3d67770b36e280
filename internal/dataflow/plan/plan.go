// Package plan loads a hand-assembled graph topology from a TOML
// file and wires it into a runnable graph.Graph. This is not a query
// planner: a plan file names operators and literal parameters in the
// order an engineer already decided on.
package plan

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/bloom"
	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/collate"
	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/join"
	"github.com/jfoltran/dflow/internal/dataflow/project"
	"github.com/jfoltran/dflow/internal/dataflow/runtime"
	"github.com/jfoltran/dflow/internal/dataflow/scan"
	"github.com/jfoltran/dflow/internal/dataflow/sort"
	"github.com/jfoltran/dflow/internal/dataflow/top"
	"github.com/jfoltran/dflow/internal/dataflow/topk"
)

// Transport names which of the two runtime transports a plan runs
// under. The scheduling model is fixed at graph-construction time.
type Transport string

const (
	Cooperative Transport = "cooperative"
	ParallelRun Transport = "parallel"
)

// FieldRef is one output/input pair in a project node's field list.
type FieldRef struct {
	Output string `toml:"output"`
	Input  string `toml:"input"`
}

// SortKey is one key in a sort/top/topk node's ordering.
type SortKey struct {
	Field     string `toml:"field"`
	Direction string `toml:"direction"` // "asc" (default) or "desc"
}

// NodeConfig describes one operator instance. Only the fields
// relevant to Kind need be set; the rest are ignored. One flat struct
// per concern, rather than a polymorphic union type, trades a few
// unused fields per node for a TOML schema that needs no custom
// unmarshaler.
type NodeConfig struct {
	ID   string `toml:"id"`
	Kind string `toml:"kind"`

	// scan, sharded_scan, bloom_use, topk, dummy_top
	Table            string `toml:"table"`
	SQL              string `toml:"sql"`
	BaseSQL          string `toml:"base_sql"`
	Format           string `toml:"format"`
	UseBatches       bool   `toml:"use_batches"`
	BatchSize        int    `toml:"batch_size"`
	Shards           []int  `toml:"shards"`
	ShardParallelism int    `toml:"shard_parallelism"`

	// project
	Fields []FieldRef `toml:"field"`

	// sort, top, topk
	SortKeys  []SortKey `toml:"sort_key"`
	K         int       `toml:"k"`
	BatchMode bool      `toml:"batch_mode"`

	// join
	LeftField  string `toml:"left_field"`
	RightField string `toml:"right_field"`

	// bloom_create
	BloomField string  `toml:"bloom_field"`
	FPRate     float64 `toml:"fp_rate"`

	// bloom_use, topk
	Column     string `toml:"column"`
	ColumnType string `toml:"column_type"`

	// topk
	SampleScale int    `toml:"sample_scale"`
	Bound       string `toml:"bound"` // "conservative" (default) or "aggressive"
	Parallelism int    `toml:"parallelism"`
	Direction   string `toml:"direction"` // "asc"/"desc", single sort key

	// dummy_top
	WorkerURL     string `toml:"worker_url"`
	TimeoutSecond int    `toml:"timeout_seconds"`
}

// EdgeConfig connects one node's output to another's input. Role is
// only meaningful when To names a join node ("left" or "right");
// every other edge ignores it.
type EdgeConfig struct {
	From string `toml:"from"`
	To   string `toml:"to"`
	Role string `toml:"role"`
}

// Plan is the decoded shape of a plan.toml file.
type Plan struct {
	Transport   Transport    `toml:"transport"`
	BufferSize  int          `toml:"buffer_size"`
	Output      string       `toml:"output"`
	Nodes       []NodeConfig `toml:"node"`
	Edges       []EdgeConfig `toml:"edge"`
}

// Load decodes a plan file at path.
func Load(path string) (Plan, error) {
	var p Plan
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return p, fmt.Errorf("parse plan %s: %w", path, err)
	}
	return p, nil
}

// Handler is the narrow interface every built node satisfies, letting
// Build return a uniform map regardless of concrete operator type.
type Handler interface {
	Base() *graph.Base
}

// Build assembles a graph.Graph from p, wiring every edge, and
// returns the resulting per-node handler map so the caller can reach
// named nodes (most commonly the output Collate) after Execute.
func Build(p Plan, cl client.ScanClient, logger zerolog.Logger) (*graph.Graph, map[string]Handler, error) {
	bufferSize := p.BufferSize

	var tr graph.Transport
	if p.Transport == ParallelRun {
		tr = runtime.NewParallel(logger)
	} else {
		tr = runtime.NewCooperative(logger)
	}
	g := graph.New(tr, logger)

	handlers := make(map[string]Handler, len(p.Nodes))
	for _, n := range p.Nodes {
		h, err := buildNode(n, cl, bufferSize, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build node %q: %w", n.ID, err)
		}
		if _, exists := handlers[n.ID]; exists {
			return nil, nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		handlers[n.ID] = h
		if err := g.Add(h.Base()); err != nil {
			return nil, nil, fmt.Errorf("register node %q: %w", n.ID, err)
		}
	}

	for _, e := range p.Edges {
		fromH, ok := handlers[e.From]
		if !ok {
			return nil, nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		toH, ok := handlers[e.To]
		if !ok {
			return nil, nil, fmt.Errorf("edge references unknown node %q", e.To)
		}

		var err error
		switch j := toH.(type) {
		case *join.NestedLoopJoin:
			switch e.Role {
			case "left":
				err = j.ConnectLeft(fromH.Base())
			case "right":
				err = j.ConnectRight(fromH.Base())
			default:
				err = fmt.Errorf("edge into join %q needs role \"left\" or \"right\", got %q", e.To, e.Role)
			}
		default:
			if c, ok := fromH.(*bloom.Create); ok {
				err = c.Connect(toH.Base())
			} else {
				err = fromH.Base().Connect(toH.Base())
			}
		}
		if err != nil {
			return nil, nil, fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
		}
	}

	return g, handlers, nil
}

func buildNode(n NodeConfig, cl client.ScanClient, bufferSize int, logger zerolog.Logger) (Handler, error) {
	switch n.Kind {
	case "scan":
		return scan.NewSQLTableScan(n.ID, cl, scan.Config{
			Table:      n.Table,
			SQL:        n.SQL,
			Format:     n.Format,
			UseBatches: n.UseBatches,
			BatchSize:  n.BatchSize,
		}, bufferSize, logger), nil

	case "sharded_scan":
		return scan.NewSharded(n.ID, cl, scan.Config{
			Table:      n.Table,
			SQL:        n.SQL,
			Format:     n.Format,
			UseBatches: n.UseBatches,
			BatchSize:  n.BatchSize,
		}, n.Shards, n.ShardParallelism, bufferSize, logger), nil

	case "project":
		exprs := make([]project.Expr, len(n.Fields))
		for i, f := range n.Fields {
			exprs[i] = project.Expr{Output: f.Output, Row: project.Field(f.Input)}
		}
		return project.New(n.ID, exprs, bufferSize, logger), nil

	case "sort":
		return sort.New(n.ID, sortExprs(n.SortKeys), bufferSize, logger), nil

	case "collate":
		return collate.New(n.ID, bufferSize, logger), nil

	case "top":
		return top.New(n.ID, n.K, sortExprs(n.SortKeys), n.BatchMode, bufferSize, logger), nil

	case "join":
		je := expr.JoinExpr{
			Left:  expr.Field{Name: n.LeftField},
			Right: expr.Field{Name: n.RightField},
		}
		return join.New(n.ID, je, bufferSize, logger), nil

	case "bloom_create":
		return bloom.New(n.ID, n.BloomField, n.FPRate, bufferSize, logger), nil

	case "bloom_use":
		return bloom.NewUse(n.ID, cl, bloom.UseConfig{
			Table:      n.Table,
			BaseSQL:    n.BaseSQL,
			Format:     n.Format,
			Column:     n.Column,
			UseBatches: n.UseBatches,
			BatchSize:  n.BatchSize,
		}, bufferSize, logger), nil

	case "topk":
		bound := topk.Conservative
		if n.Bound == "aggressive" {
			bound = topk.Aggressive
		}
		return topk.New(n.ID, cl, topk.Config{
			Table:       n.Table,
			BaseSQL:     n.BaseSQL,
			Format:      n.Format,
			Column:      n.Column,
			ColumnType:  n.ColumnType,
			K:           n.K,
			SampleScale: n.SampleScale,
			Direction:   direction(n.Direction),
			Bound:       bound,
			Shards:      n.Shards,
			Parallelism: n.Parallelism,
		}, bufferSize, logger), nil

	case "dummy_top":
		req := topk.DummyTopRequest{
			Table:      n.Table,
			BaseSQL:    n.BaseSQL,
			Column:     n.Column,
			ColumnType: n.ColumnType,
			K:          n.K,
			Direction:  n.Direction,
		}
		timeout := time.Duration(n.TimeoutSecond) * time.Second
		return topk.NewDummyTop(n.ID, n.WorkerURL, req, timeout, bufferSize, logger), nil

	default:
		return nil, fmt.Errorf("unknown node kind %q", n.Kind)
	}
}

func sortExprs(keys []SortKey) []expr.SortExpr {
	out := make([]expr.SortExpr, len(keys))
	for i, k := range keys {
		out[i] = expr.SortExpr{Field: expr.Field{Name: k.Field}, Direction: direction(k.Direction)}
	}
	return out
}

func direction(s string) expr.Direction {
	if s == "desc" {
		return expr.Desc
	}
	return expr.Asc
}
