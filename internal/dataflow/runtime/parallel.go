package runtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
)

const mailboxCapacity = 1024

type envelope struct {
	fromID string
	msgs   []message.Message
}

// Parallel is the process-parallel transport: each operator gets a
// dedicated worker goroutine and a private inbound queue ("mailbox");
// completions are reported on a shared completion channel, the
// Go-idiomatic stand-in for a completion queue shared by OS
// processes. The workers, one per operator, run under a
// golang.org/x/sync/errgroup group.
type Parallel struct {
	logger zerolog.Logger

	mu           sync.Mutex
	mailboxes    map[string]chan envelope
	completionCh chan message.OperatorCompleted
}

// NewParallel returns a ready-to-use process-parallel transport.
func NewParallel(logger zerolog.Logger) *Parallel {
	return &Parallel{
		logger:       logger.With().Str("component", "parallel-transport").Logger(),
		mailboxes:    make(map[string]chan envelope),
		completionCh: make(chan message.OperatorCompleted, 256),
	}
}

func (t *Parallel) Async() bool { return true }

func (t *Parallel) mailbox(id string) chan envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.mailboxes[id]
	if !ok {
		ch = make(chan envelope, mailboxCapacity)
		t.mailboxes[id] = ch
	}
	return ch
}

// Deliver stops the sender's timer (it is handing off, not idle),
// enqueues the message for the receiver's worker, then resumes the
// sender's timer since it continues independent work immediately
// after enqueuing. The receiver's own worker starts its timer only
// once it actually dequeues and begins processing.
func (t *Parallel) Deliver(from, to *graph.Base, msgs []message.Message) error {
	fromID := ""
	if from != nil {
		if err := from.Metrics().Stop(from.Name()); err != nil {
			return err
		}
		fromID = from.ID()
	}

	t.mailbox(to.ID()) <- envelope{fromID: fromID, msgs: msgs}

	if from != nil {
		if err := from.Metrics().Start(from.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Parallel) Signal(msg message.OperatorCompleted) {
	t.completionCh <- msg
}

// Run spins up one worker per operator, starts every source, and
// blocks until every operator has completed or a worker fails.
func (t *Parallel) Run(ops []*graph.Base, sources []*graph.Base) error {
	g, ctx := errgroup.WithContext(context.Background())

	for _, op := range ops {
		op := op
		mbox := t.mailbox(op.ID())
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case env, ok := <-mbox:
					if !ok {
						return nil
					}
					if err := op.Metrics().Start(op.Name()); err != nil {
						return err
					}
					err := op.Dispatch(env.msgs, env.fromID)
					if stopErr := op.Metrics().Stop(op.Name()); err == nil {
						err = stopErr
					}
					if err != nil {
						return err
					}
					if op.IsCompleted() {
						return nil
					}
				}
			}
		})
	}

	for _, s := range sources {
		if err := s.Start(); err != nil {
			return err
		}
	}

	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		seen := 0
		for seen < len(ops) {
			select {
			case <-t.completionCh:
				seen++
			case <-ctx.Done():
				return
			}
		}
	}()

	select {
	case <-waitDone:
	case <-ctx.Done():
	}

	return g.Wait()
}
