// Package project implements Project: a row/batch transform
// that applies a vector of scalar expressions to each incoming row
// (or a batch transform function in batch mode) and forwards the
// projected header and rows. It has no side effects and no blocking
// state: it is purely reactive.
package project

import (
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// RowFunc computes one output field from a row positional against the
// most recently received FieldNames.
type RowFunc func(row []any, fieldIndex map[string]int) any

// BatchFunc computes one output Column from an entire input Batch,
// the batch-mode analogue of RowFunc.
type BatchFunc func(b message.Batch, fieldIndex map[string]int) message.Column

// Expr pairs a ProjectExpr's output name with the function that
// computes it in each mode; at least one of Row/Batch must be set
// depending on which mode the operator runs in.
type Expr struct {
	Output string
	Row    RowFunc
	Batch  BatchFunc
}

// Project is the operator: given a producer's field names and an
// ordered list of Exprs, it emits a new header (the projected output
// names) and, per incoming row or batch, the computed projection.
type Project struct {
	base   *graph.Base
	exprs  []Expr
	logger zerolog.Logger

	inputFields map[string]int
	haveHeader  bool
}

// New constructs a Project operator over exprs, applied in order.
func New(name string, exprs []Expr, bufferSize int, logger zerolog.Logger) *Project {
	p := &Project{exprs: exprs}
	p.base = graph.NewBase(name, p, bufferSize, logger)
	p.logger = p.base.Logger()
	return p
}

func (p *Project) Base() *graph.Base { return p.base }

func (p *Project) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			p.inputFields = indexFields(v.Names)
			p.haveHeader = true
			outNames := make([]string, len(p.exprs))
			for i, e := range p.exprs {
				outNames[i] = e.Output
			}
			if err := p.base.Send([]message.Message{message.FieldNames{Names: outNames}}); err != nil {
				return err
			}
		case message.Tuple:
			if !p.haveHeader {
				return operr.Schema(p.base.Name(), "received tuple before field names")
			}
			out := make([]any, len(p.exprs))
			for i, e := range p.exprs {
				if e.Row == nil {
					return operr.Config(p.base.Name(), "expr %q has no row function", e.Output)
				}
				out[i] = e.Row(v.Values, p.inputFields)
			}
			if err := p.base.Send([]message.Message{message.Tuple{Values: out}}); err != nil {
				return err
			}
		case message.Batch:
			if !p.haveHeader {
				return operr.Schema(p.base.Name(), "received batch before field names")
			}
			cols := make([]message.Column, len(p.exprs))
			for i, e := range p.exprs {
				if e.Batch == nil {
					return operr.Config(p.base.Name(), "expr %q has no batch function", e.Output)
				}
				col := e.Batch(v, p.inputFields)
				col.Name = e.Output
				cols[i] = col
			}
			if err := p.base.Send([]message.Message{message.Batch{Columns: cols}}); err != nil {
				return err
			}
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

var _ graph.Handler = (*Project)(nil)

// Field is a convenience RowFunc that simply passes a named input
// field through, the common case of "project" without a real
// computation.
func Field(name string) RowFunc {
	return func(row []any, fieldIndex map[string]int) any {
		return row[fieldIndex[name]]
	}
}
