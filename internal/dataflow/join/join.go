// Package join implements NestedLoopJoin: a blocking inner equi-join
// on exactly one field pair, over exactly two producers distinguished
// at connection time as left and right.
package join

import (
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// NestedLoopJoin buffers both producer sides in full, then on
// completion iterates left x right emitting rows whose join fields
// compare equal. It deliberately does not index either side first:
// that would silently change semantics under duplicate keys in ways
// nothing here defines (see DESIGN.md for the full reasoning).
type NestedLoopJoin struct {
	base      *graph.Base
	joinExpr  expr.JoinExpr
	logger    zerolog.Logger

	leftID  string
	rightID string

	leftFields  []string
	rightFields []string
	leftIndex   map[string]int
	rightIndex  map[string]int

	leftRows  [][]any
	rightRows [][]any
}

// New constructs a NestedLoopJoin equating left.Left against
// right.Right.
func New(name string, je expr.JoinExpr, bufferSize int, logger zerolog.Logger) *NestedLoopJoin {
	j := &NestedLoopJoin{joinExpr: je}
	j.base = graph.NewBase(name, j, bufferSize, logger)
	j.logger = j.base.Logger()
	return j
}

func (j *NestedLoopJoin) Base() *graph.Base { return j.base }

// ConnectLeft binds producer as this join's left side. Binding a
// second left producer (or a producer already bound as right) is a
// ConfigError.
func (j *NestedLoopJoin) ConnectLeft(producer *graph.Base) error {
	if j.leftID != "" {
		return operr.Config(j.base.Name(), "left producer already bound to %q", j.leftID)
	}
	if producer.ID() == j.rightID {
		return operr.Config(j.base.Name(), "producer %q already bound as right", producer.Name())
	}
	if err := producer.Connect(j.base); err != nil {
		return err
	}
	j.leftID = producer.ID()
	return nil
}

// ConnectRight binds producer as this join's right side. Binding a
// second right producer (or a producer already bound as left) is a
// ConfigError.
func (j *NestedLoopJoin) ConnectRight(producer *graph.Base) error {
	if j.rightID != "" {
		return operr.Config(j.base.Name(), "right producer already bound to %q", j.rightID)
	}
	if producer.ID() == j.leftID {
		return operr.Config(j.base.Name(), "producer %q already bound as left", producer.Name())
	}
	if err := producer.Connect(j.base); err != nil {
		return err
	}
	j.rightID = producer.ID()
	return nil
}

func (j *NestedLoopJoin) Receive(msgs []message.Message, producer string) error {
	side, err := j.sideOf(producer)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			j.setFields(side, v.Names)
		case message.Tuple:
			j.appendRow(side, v.Values)
		case message.Batch:
			for _, r := range message.ToRows(v) {
				j.appendRow(side, r)
			}
		}
	}
	return nil
}

func (j *NestedLoopJoin) sideOf(producer string) (string, error) {
	switch producer {
	case j.leftID:
		return "left", nil
	case j.rightID:
		return "right", nil
	default:
		return "", operr.Internal(j.base.Name(), "received data from unbound producer %q", producer)
	}
}

func (j *NestedLoopJoin) setFields(side string, names []string) {
	idx := indexFields(names)
	if side == "left" {
		j.leftFields, j.leftIndex = names, idx
	} else {
		j.rightFields, j.rightIndex = names, idx
	}
}

func (j *NestedLoopJoin) appendRow(side string, row []any) {
	if side == "left" {
		j.leftRows = append(j.leftRows, row)
	} else {
		j.rightRows = append(j.rightRows, row)
	}
}

// Flush implements graph.Flusher: validates both sides declared the
// join key, emits the joined header, then emits every matching L x R
// pair.
func (j *NestedLoopJoin) Flush() error {
	if j.leftIndex == nil || j.rightIndex == nil {
		return operr.Schema(j.base.Name(), "join flushed before both sides delivered field names")
	}
	li, ok := j.leftIndex[j.joinExpr.Left.Name]
	if !ok {
		return operr.Schema(j.base.Name(), "left join field %q not present in left header", j.joinExpr.Left.Name)
	}
	ri, ok := j.rightIndex[j.joinExpr.Right.Name]
	if !ok {
		return operr.Schema(j.base.Name(), "right join field %q not present in right header", j.joinExpr.Right.Name)
	}

	header := append(append([]string(nil), j.leftFields...), j.rightFields...)
	if err := j.base.Send([]message.Message{message.FieldNames{Names: header}}); err != nil {
		return err
	}

	// Complete has already set this operator's own completed flag when
	// Flush runs, so the loops stop early only once every consumer has
	// completed.
	consumers := j.base.Consumers()
	consumersDone := func() bool {
		for _, c := range consumers {
			if !c.IsCompleted() {
				return false
			}
		}
		return len(consumers) > 0
	}
	for _, l := range j.leftRows {
		if consumersDone() {
			break
		}
		for _, r := range j.rightRows {
			if consumersDone() {
				break
			}
			if !equalKeys(l[li], r[ri]) {
				continue
			}
			joined := make([]any, 0, len(l)+len(r))
			joined = append(joined, l...)
			joined = append(joined, r...)
			if err := j.base.Send([]message.Message{message.Tuple{Values: joined}}); err != nil {
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

func equalKeys(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

var _ graph.Handler = (*NestedLoopJoin)(nil)
var _ graph.Flusher = (*NestedLoopJoin)(nil)
