package graph

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/message"
)

// recordingHandler captures every data message it receives, for
// assertions, and optionally implements Flusher/hooks per test.
type recordingHandler struct {
	received [][]message.Message
}

func (h *recordingHandler) Receive(msgs []message.Message, producer string) error {
	h.received = append(h.received, msgs)
	return nil
}

// directTransport is a minimal synchronous Transport used only by
// these unit tests: Deliver dispatches inline, Signal records each
// completion.
type directTransport struct {
	completed []message.OperatorCompleted
}

func (t *directTransport) Async() bool { return false }

func (t *directTransport) Deliver(from, to *Base, msgs []message.Message) error {
	if from != nil {
		if err := from.Metrics().Stop(from.Name()); err != nil {
			return err
		}
	}
	if err := to.Metrics().Start(to.Name()); err != nil {
		return err
	}
	err := to.Dispatch(msgs, fromID(from))
	if stopErr := to.Metrics().Stop(to.Name()); stopErr != nil && err == nil {
		err = stopErr
	}
	if from != nil {
		if startErr := from.Metrics().Start(from.Name()); startErr != nil && err == nil {
			err = startErr
		}
	}
	return err
}

func (t *directTransport) Signal(msg message.OperatorCompleted) {
	t.completed = append(t.completed, msg)
}

func (t *directTransport) Run(ops []*Base, sources []*Base) error {
	for _, s := range sources {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

func fromID(from *Base) string {
	if from == nil {
		return ""
	}
	return from.ID()
}

func newTestBase(name string, h Handler, bufSize int, tr Transport) *Base {
	b := NewBase(name, h, bufSize, zerolog.Nop())
	b.SetTransport(tr)
	return b
}

// asRunning runs fn with b's metrics timer started, the way a
// transport brackets an operator's own work, so Deliver can stop the
// sender's timer.
func asRunning(t *testing.T, b *Base, fn func() error) error {
	t.Helper()
	if err := b.Metrics().Start(b.Name()); err != nil {
		t.Fatal(err)
	}
	err := fn()
	if stopErr := b.Metrics().Stop(b.Name()); stopErr != nil {
		t.Fatal(stopErr)
	}
	return err
}

func TestConnectDuplicateRejected(t *testing.T) {
	tr := &directTransport{}
	a := newTestBase("a", &recordingHandler{}, BufferImmediate, tr)
	b := newTestBase("b", &recordingHandler{}, BufferImmediate, tr)

	if err := a.Connect(b); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := a.Connect(b); err == nil {
		t.Fatal("expected duplicate connect to fail")
	}
}

func TestSendImmediateDelivers(t *testing.T) {
	tr := &directTransport{}
	recv := &recordingHandler{}
	a := newTestBase("a", &recordingHandler{}, BufferImmediate, tr)
	b := newTestBase("b", recv, BufferImmediate, tr)
	if err := a.Connect(b); err != nil {
		t.Fatal(err)
	}
	a.Boot()
	b.Boot()

	if err := asRunning(t, a, func() error {
		return a.Send([]message.Message{message.Tuple{Values: []any{1}}})
	}); err != nil {
		t.Fatal(err)
	}
	if len(recv.received) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(recv.received))
	}
}

func TestSendBuffersUntilThreshold(t *testing.T) {
	tr := &directTransport{}
	recv := &recordingHandler{}
	a := newTestBase("a", &recordingHandler{}, 3, tr)
	b := newTestBase("b", recv, BufferImmediate, tr)
	if err := a.Connect(b); err != nil {
		t.Fatal(err)
	}
	a.Boot()
	b.Boot()

	send := func() error { return a.Send([]message.Message{message.Tuple{}}) }
	if err := asRunning(t, a, send); err != nil {
		t.Fatal(err)
	}
	if err := asRunning(t, a, send); err != nil {
		t.Fatal(err)
	}
	if len(recv.received) != 0 {
		t.Fatalf("expected no delivery before threshold, got %d", len(recv.received))
	}
	if err := asRunning(t, a, send); err != nil {
		t.Fatal(err)
	}
	if len(recv.received) != 1 {
		t.Fatalf("expected 1 batched delivery at threshold, got %d", len(recv.received))
	}
	if len(recv.received[0]) != 3 {
		t.Fatalf("expected batched delivery of 3, got %d", len(recv.received[0]))
	}
}

func TestCompleteTwiceIsInternalError(t *testing.T) {
	tr := &directTransport{}
	a := newTestBase("a", &recordingHandler{}, BufferImmediate, tr)
	a.Boot()

	if err := a.Complete(); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := a.Complete(); err == nil {
		t.Fatal("expected second complete to fail")
	}
}

func TestProducerCompletionCascade(t *testing.T) {
	tr := &directTransport{}
	a := newTestBase("a", &recordingHandler{}, BufferImmediate, tr)
	b := newTestBase("b", &recordingHandler{}, BufferImmediate, tr)
	c := newTestBase("c", &recordingHandler{}, BufferImmediate, tr)

	if err := a.Connect(c); err != nil {
		t.Fatal(err)
	}
	if err := b.Connect(c); err != nil {
		t.Fatal(err)
	}
	a.Boot()
	b.Boot()
	c.Boot()

	if err := asRunning(t, a, a.Complete); err != nil {
		t.Fatal(err)
	}
	if c.IsCompleted() {
		t.Fatal("c should not complete until both producers finish")
	}
	if err := asRunning(t, b, b.Complete); err != nil {
		t.Fatal(err)
	}
	if !c.IsCompleted() {
		t.Fatal("c should auto-complete once all producers finish")
	}
}

type hookHandler struct {
	recordingHandler
	preCompleteCalls int
}

func (h *hookHandler) OnProducerCompleted(producer string) error {
	h.preCompleteCalls++
	return nil
}

func TestProducerCompletionHookRunsBeforeDefault(t *testing.T) {
	tr := &directTransport{}
	a := newTestBase("a", &recordingHandler{}, BufferImmediate, tr)
	hook := &hookHandler{}
	b := newTestBase("b", hook, BufferImmediate, tr)
	if err := a.Connect(b); err != nil {
		t.Fatal(err)
	}
	a.Boot()
	b.Boot()

	if err := asRunning(t, a, a.Complete); err != nil {
		t.Fatal(err)
	}
	if hook.preCompleteCalls != 1 {
		t.Fatalf("expected hook to run once, got %d", hook.preCompleteCalls)
	}
	if !b.IsCompleted() {
		t.Fatal("b should auto-complete after its only producer completes")
	}
}
