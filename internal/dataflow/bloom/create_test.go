package bloom

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/runtime"
)

type idSource struct {
	base *graph.Base
	ids  []int
}

func (s *idSource) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if m.Kind() != message.KindStart {
			continue
		}
		if err := s.base.Send([]message.Message{message.FieldNames{Names: []string{"user_id"}}}); err != nil {
			return err
		}
		for _, id := range s.ids {
			if err := s.base.Send([]message.Message{message.Tuple{Values: []any{id}}}); err != nil {
				return err
			}
		}
		return s.base.Complete()
	}
	return nil
}

type plainSink struct{}

func (plainSink) Receive(msgs []message.Message, producer string) error { return nil }

func TestCreateRejectsNonBloomUseConsumer(t *testing.T) {
	c := New("bloom1", "user_id", 0, graph.BufferImmediate, zerolog.Nop())
	sinkBase := graph.NewBase("sink", plainSink{}, graph.BufferImmediate, zerolog.Nop())
	if err := c.Connect(sinkBase); err == nil {
		t.Fatal("expected ConfigError connecting a non-bloom-use consumer")
	}
}

func TestCreateAndUseEndToEnd(t *testing.T) {
	src := &idSource{ids: []int{1, 2, 3, 4, 5}}
	srcBase := graph.NewBase("src", src, graph.BufferImmediate, zerolog.Nop())
	src.base = srcBase

	create := New("bloom1", "user_id", 0.2, graph.BufferImmediate, zerolog.Nop())

	mem := client.NewMemClient(map[string]client.MemTable{
		"users": {
			FieldNames: []string{"user_id", "name"},
			Rows: [][]any{
				{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"}, {5, "e"}, {6, "f"},
			},
		},
	})
	use := NewUse("bloomuse1", mem, UseConfig{
		Table:   "users",
		BaseSQL: "SELECT user_id, name FROM users",
		Format:  "csv",
		Column:  "user_id",
	}, graph.BufferImmediate, zerolog.Nop())

	sink := &captureAll{}
	sinkBase := graph.NewBase("sink", sink, graph.BufferImmediate, zerolog.Nop())

	tr := runtime.NewCooperative(zerolog.Nop())
	g := graph.New(tr, zerolog.Nop())
	for _, b := range []*graph.Base{srcBase, create.Base(), use.Base(), sinkBase} {
		if err := g.Add(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := srcBase.Connect(create.Base()); err != nil {
		t.Fatal(err)
	}
	if err := create.Connect(use.Base()); err != nil {
		t.Fatal(err)
	}
	if err := use.Base().Connect(sinkBase); err != nil {
		t.Fatal(err)
	}

	if err := g.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(sink.fields) != 2 {
		t.Fatalf("expected header from bloom-use scan, got %v", sink.fields)
	}
	if len(sink.rows) == 0 {
		t.Fatal("expected rows from the filtered scan")
	}
}

type captureAll struct {
	fields []string
	rows   [][]any
}

func (c *captureAll) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			c.fields = v.Names
		case message.Tuple:
			c.rows = append(c.rows, v.Values)
		case message.Batch:
			c.rows = append(c.rows, message.ToRows(v)...)
		}
	}
	return nil
}
