package project

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
)

type capture struct {
	fields []string
	tuples [][]any
}

func (c *capture) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			c.fields = v.Names
		case message.Tuple:
			c.tuples = append(c.tuples, v.Values)
		}
	}
	return nil
}

func TestProjectRenamesAndComputes(t *testing.T) {
	exprs := []Expr{
		{Output: "price", Row: Field("l_extendedprice")},
		{Output: "doubled", Row: func(row []any, fi map[string]int) any {
			return row[fi["l_extendedprice"]].(float64) * 2
		}},
	}
	p := New("proj1", exprs, graph.BufferImmediate, zerolog.Nop())
	sink := &capture{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())

	tr := &directTransport{}
	p.Base().SetTransport(tr)
	sinkBase.SetTransport(tr)
	if err := p.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}
	p.Base().Boot()
	sinkBase.Boot()

	if err := p.Receive([]message.Message{message.FieldNames{Names: []string{"l_extendedprice"}}}, ""); err != nil {
		t.Fatal(err)
	}
	if err := p.Receive([]message.Message{message.Tuple{Values: []any{10.0}}}, ""); err != nil {
		t.Fatal(err)
	}

	if len(sink.fields) != 2 || sink.fields[0] != "price" || sink.fields[1] != "doubled" {
		t.Fatalf("unexpected fields: %v", sink.fields)
	}
	if len(sink.tuples) != 1 {
		t.Fatalf("expected 1 tuple, got %d", len(sink.tuples))
	}
	if sink.tuples[0][0] != 10.0 || sink.tuples[0][1] != 20.0 {
		t.Fatalf("unexpected projected values: %v", sink.tuples[0])
	}
}

func TestProjectTupleBeforeHeaderIsSchemaError(t *testing.T) {
	p := New("proj1", nil, graph.BufferImmediate, zerolog.Nop())
	tr := &directTransport{}
	p.Base().SetTransport(tr)
	p.Base().Boot()

	err := p.Receive([]message.Message{message.Tuple{Values: []any{1}}}, "")
	if err == nil {
		t.Fatal("expected schema error")
	}
}

// directTransport is a minimal synchronous Transport for these tests,
// delivering inline without metrics bookkeeping complexity.
type directTransport struct{}

func (t *directTransport) Async() bool { return false }
func (t *directTransport) Deliver(from, to *graph.Base, msgs []message.Message) error {
	fromID := ""
	if from != nil {
		fromID = from.ID()
	}
	return to.Dispatch(msgs, fromID)
}
func (t *directTransport) Signal(message.OperatorCompleted)                {}
func (t *directTransport) Run(ops []*graph.Base, sources []*graph.Base) error { return nil }
