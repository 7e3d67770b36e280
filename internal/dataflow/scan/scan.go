// Package scan implements SQLTableScan and SQLShardedTableScan: the
// engine's only source operators, pushing a SQL predicate down to a
// remote scan service and streaming the result back into the graph.
package scan

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// Config describes one scan's inputs: object key, SQL string, format,
// and transport flags.
type Config struct {
	Table           string
	SQL             string
	Format          string
	UseBatches      bool
	BatchSize       int
	SecureTransport bool
	UseNativeCursor bool
}

const defaultBatchSize = 1024

// SQLTableScan is a source operator: it has no producers, issues its
// configured SQL against a ScanClient on Start, and emits a field
// names header followed by data rows (or batches).
type SQLTableScan struct {
	base   *graph.Base
	client client.ScanClient
	cfg    Config
	logger zerolog.Logger
}

// NewSQLTableScan constructs a scan bound to the given client. Its
// queries run under context.Background.
func NewSQLTableScan(name string, cl client.ScanClient, cfg Config, bufferSize int, logger zerolog.Logger) *SQLTableScan {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	s := &SQLTableScan{client: cl, cfg: cfg}
	s.base = graph.NewBase(name, s, bufferSize, logger)
	s.logger = s.base.Logger()
	return s
}

// Base exposes the operator's graph plumbing for Connect/Boot/Start.
func (s *SQLTableScan) Base() *graph.Base { return s.base }

// Receive implements graph.Handler; SQLTableScan only reacts to Start.
func (s *SQLTableScan) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if m.Kind() == message.KindStart {
			return s.run(s.cfg.SQL)
		}
	}
	return nil
}

func (s *SQLTableScan) run(sql string) error {
	return RunQuery(s.base, s.client, s.cfg.Table, sql, s.cfg.Format, s.cfg.UseBatches, s.cfg.BatchSize, s.logger)
}

// RunQuery executes sql against cl and streams the result into base
// as a FieldNames header followed by rows or batches, completing base
// once the result is exhausted (unless already completed early by a
// downstream consumer). It is the shared scan-and-emit core behind
// both SQLTableScan and SQLTableScanBloomUse, which differ only in
// how they arrive at the sql string to run.
func RunQuery(base *graph.Base, cl client.ScanClient, table, sql, format string, useBatches bool, batchSize int, logger zerolog.Logger) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	res, err := cl.Scan(context.Background(), table, sql, format)
	if err != nil {
		return operr.Remote(base.Name(), "scan %s: %w", table, err)
	}
	defer res.Close()

	if err := base.Send([]message.Message{message.FieldNames{Names: res.FieldNames}}); err != nil {
		return err
	}

	var pending [][]any
	rowCount := 0
	flushBatch := func() error {
		if len(pending) == 0 {
			return nil
		}
		b := message.FromRows(res.FieldNames, pending)
		pending = pending[:0]
		return base.Send([]message.Message{b})
	}

	for row := range res.Rows {
		if base.IsCompleted() {
			break
		}
		rowCount++
		if useBatches {
			pending = append(pending, row.Values)
			if len(pending) >= batchSize {
				if err := flushBatch(); err != nil {
					return err
				}
			}
		} else {
			if err := base.Send([]message.Message{message.Tuple{Values: row.Values}}); err != nil {
				return err
			}
		}
	}
	if useBatches {
		if err := flushBatch(); err != nil {
			return err
		}
	}

	select {
	case scanErr, ok := <-res.Errs:
		if ok && scanErr != nil {
			return operr.Remote(base.Name(), "%w", scanErr)
		}
	default:
	}

	base.Metrics().RowsOut += int64(rowCount)
	base.Metrics().BytesOut += res.BytesReturned()
	base.Metrics().Extra["request_count"] = res.RequestCount()
	logger.Debug().Int("rows", rowCount).Msg("scan throughput")

	if base.IsCompleted() {
		return nil
	}
	return base.Complete()
}

var _ graph.Handler = (*SQLTableScan)(nil)

// Sharded fans a scan out across a list of part indices concatenated
// onto the table's key prefix. Shards can run sequentially
// (Parallelism<=1) or with bounded parallelism; all
// emitted rows share one header and one downstream edge set, so the
// operator itself still looks like a single source to the rest of
// the graph.
type Sharded struct {
	base        *graph.Base
	client      client.ScanClient
	cfg         Config
	shards      []int
	parallelism int
	logger      zerolog.Logger

	// sendMu serializes Send/Metrics access across concurrently
	// running shard goroutines; Base itself assumes a single active
	// caller per operator, which sharded fan-out would otherwise
	// violate.
	sendMu sync.Mutex
}

// NewSharded constructs a sharded scan over the given part indices.
// parallelism <= 1 scans shards sequentially.
func NewSharded(name string, cl client.ScanClient, cfg Config, shards []int, parallelism int, bufferSize int, logger zerolog.Logger) *Sharded {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	s := &Sharded{client: cl, cfg: cfg, shards: shards, parallelism: parallelism}
	s.base = graph.NewBase(name, s, bufferSize, logger)
	s.logger = s.base.Logger()
	return s
}

func (s *Sharded) Base() *graph.Base { return s.base }

func (s *Sharded) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if m.Kind() == message.KindStart {
			return s.run()
		}
	}
	return nil
}

func (s *Sharded) run() error {
	if err := runShards(s.shards, s.parallelism, func(shard int) error {
		table := fmt.Sprintf("%s_%d", s.cfg.Table, shard)
		return s.scanOne(table)
	}); err != nil {
		return err
	}
	if s.base.IsCompleted() {
		return nil
	}
	return s.base.Complete()
}

func (s *Sharded) scanOne(table string) error {
	res, err := s.client.Scan(context.Background(), table, s.cfg.SQL, s.cfg.Format)
	if err != nil {
		return operr.Remote(s.base.Name(), "scan %s: %w", table, err)
	}
	defer res.Close()

	// Each shard re-announces field names; Collate and every other
	// fan-in consumer treats repeated identical headers as
	// idempotent.
	s.sendMu.Lock()
	err = s.base.Send([]message.Message{message.FieldNames{Names: res.FieldNames}})
	s.sendMu.Unlock()
	if err != nil {
		return err
	}

	rowCount := 0
	for row := range res.Rows {
		if s.base.IsCompleted() {
			break
		}
		rowCount++
		s.sendMu.Lock()
		err = s.base.Send([]message.Message{message.Tuple{Values: row.Values}})
		s.sendMu.Unlock()
		if err != nil {
			return err
		}
	}
	select {
	case scanErr, ok := <-res.Errs:
		if ok && scanErr != nil {
			return operr.Remote(s.base.Name(), "%w", scanErr)
		}
	default:
	}

	s.sendMu.Lock()
	s.base.Metrics().RowsOut += int64(rowCount)
	s.base.Metrics().BytesOut += res.BytesReturned()
	s.sendMu.Unlock()
	return nil
}

var _ graph.Handler = (*Sharded)(nil)
