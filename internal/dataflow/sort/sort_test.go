package sort

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/expr"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
)

type capture struct {
	tuples [][]any
}

func (c *capture) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if t, ok := m.(message.Tuple); ok {
			c.tuples = append(c.tuples, t.Values)
		}
	}
	return nil
}

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

func TestSortAscending(t *testing.T) {
	s := New("sort1", []expr.SortExpr{{Field: expr.Field{Name: "v"}, Direction: expr.Asc}}, graph.BufferUnbounded, zerolog.Nop())
	sink := &capture{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())

	tr := &directTransport{}
	s.Base().SetTransport(tr)
	sinkBase.SetTransport(tr)
	if err := s.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}
	s.Base().Boot()
	sinkBase.Boot()

	if err := s.Receive([]message.Message{message.FieldNames{Names: []string{"v"}}}, ""); err != nil {
		t.Fatal(err)
	}
	for _, v := range []int{5, 1, 3, 2, 4} {
		if err := s.Receive([]message.Message{message.Tuple{Values: []any{v}}}, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Base().Complete(); err != nil {
		t.Fatal(err)
	}

	if len(sink.tuples) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(sink.tuples))
	}
	want := []int{1, 2, 3, 4, 5}
	for i, w := range want {
		if sink.tuples[i][0] != w {
			t.Fatalf("row %d = %v, want %d", i, sink.tuples[i][0], w)
		}
	}
}

func TestSortDescendingMultiKey(t *testing.T) {
	exprs := []expr.SortExpr{
		{Field: expr.Field{Name: "a"}, Direction: expr.Desc},
		{Field: expr.Field{Name: "b"}, Direction: expr.Asc},
	}
	s := New("sort1", exprs, graph.BufferUnbounded, zerolog.Nop())
	sink := &capture{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())
	tr := &directTransport{}
	s.Base().SetTransport(tr)
	sinkBase.SetTransport(tr)
	if err := s.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}
	s.Base().Boot()
	sinkBase.Boot()

	if err := s.Receive([]message.Message{message.FieldNames{Names: []string{"a", "b"}}}, ""); err != nil {
		t.Fatal(err)
	}
	rows := [][]any{{1, 2}, {2, 1}, {2, 0}, {1, 1}}
	for _, r := range rows {
		if err := s.Receive([]message.Message{message.Tuple{Values: r}}, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Base().Complete(); err != nil {
		t.Fatal(err)
	}

	want := [][]any{{2, 0}, {2, 1}, {1, 1}, {1, 2}}
	if len(sink.tuples) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(sink.tuples))
	}
	for i := range want {
		if sink.tuples[i][0] != want[i][0] || sink.tuples[i][1] != want[i][1] {
			t.Fatalf("row %d = %v, want %v", i, sink.tuples[i], want[i])
		}
	}
}
