package graph

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/bitset"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// BufferImmediate and BufferUnbounded are the two sentinel buffer
// sizes Base accepts: 0 flushes every Send, a negative size never
// auto-flushes (only Complete's final drain sends anything).
const (
	BufferImmediate = 0
	BufferUnbounded = -1
)

// Handler is implemented by every concrete operator. Receive is
// called with the Start message and the data/Eval messages addressed
// to this operator; the other lifecycle control messages (Stop,
// *Completed) are handled by Base itself and never reach Receive,
// mirroring the split between on_receive and the dedicated
// completion callbacks in the design this is grounded on.
type Handler interface {
	Receive(msgs []message.Message, producer string) error
}

// Flusher is implemented by blocking operators (Sort, NestedLoopJoin,
// Collate) that accumulate input and only emit once every producer
// has completed. If a Handler implements Flusher, Base.Complete calls
// Flush before signaling completion to peers.
type Flusher interface {
	Flush() error
}

// ProducerCompletionHook lets a Handler run custom logic when one of
// its producers completes, before Base's default "all producers done"
// bitset check runs.
type ProducerCompletionHook interface {
	OnProducerCompleted(producer string) error
}

// ConsumerCompletionHook is the consumer-side analogue: it runs when
// one of the operator's consumers completes, before Base's default
// "all consumers done" bitset check.
type ConsumerCompletionHook interface {
	OnConsumerCompleted(consumer string) error
}

// Base implements the lifecycle, connection graph, buffered send, and
// completion accounting every operator shares. Concrete operators
// embed neither Base's fields nor its methods directly;
// they hold a *Base and a Handler is registered against it, so
// Base can dispatch default completion behavior back through the
// Handler's optional hooks without Go needing virtual inheritance.
type Base struct {
	id      string
	name    string
	logger  zerolog.Logger
	metrics *Metrics
	handler Handler

	mu         sync.Mutex
	transport  Transport
	bufferSize int

	producers   []*Base
	consumers   []*Base
	producerIdx map[string]int
	consumerIdx map[string]int

	producerDone *bitset.Set
	consumerDone *bitset.Set
	completed    bool

	outBuf map[string][]message.Message
}

// NewBase constructs an operator's shared plumbing. handler may be
// nil transiently during construction but must be set via SetHandler
// before Connect/Start; concrete operator constructors always set it.
func NewBase(name string, handler Handler, bufferSize int, logger zerolog.Logger) *Base {
	id := uuid.NewString()
	return &Base{
		id:          id,
		name:        name,
		logger:      logger.With().Str("operator", name).Str("operator_id", id).Logger(),
		metrics:     NewMetrics(),
		handler:     handler,
		bufferSize:  bufferSize,
		producerIdx: make(map[string]int),
		consumerIdx: make(map[string]int),
		outBuf:      make(map[string][]message.Message),
	}
}

func (b *Base) ID() string             { return b.id }
func (b *Base) Name() string           { return b.name }
func (b *Base) Metrics() *Metrics      { return b.metrics }
func (b *Base) Logger() zerolog.Logger { return b.logger }
func (b *Base) Handler() Handler       { return b.handler }

// SetHandler binds the concrete operator after construction, needed
// when the operator's own constructor must pass itself (via a self
// reference) to NewBase before it exists.
func (b *Base) SetHandler(h Handler) { b.handler = h }

// SetTransport assigns the transport that owns this operator's
// execution. Called by the graph runtime at assembly time.
func (b *Base) SetTransport(t Transport) { b.transport = t }

func (b *Base) Transport() Transport { return b.transport }

// Connect registers a directed edge from b to consumer. Duplicate
// registration (the same consumer connected twice) is a ConfigError,
// as is the symmetric duplicate-producer case on the consumer side.
func (b *Base) Connect(consumer *Base) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.consumerIdx[consumer.id]; exists {
		return operr.Config(b.name, "duplicate edge: %q already connected as consumer", consumer.name)
	}
	if err := consumer.addProducer(b); err != nil {
		return err
	}
	b.consumerIdx[consumer.id] = len(b.consumers)
	b.consumers = append(b.consumers, consumer)
	return nil
}

func (b *Base) addProducer(producer *Base) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.producerIdx[producer.id]; exists {
		return operr.Config(b.name, "duplicate edge: %q already connected as producer", producer.name)
	}
	b.producerIdx[producer.id] = len(b.producers)
	b.producers = append(b.producers, producer)
	return nil
}

// Producers and Consumers expose the connected peers for operators
// that need to distinguish them structurally (NestedLoopJoin's left
// vs right, BloomCreate's connect-time type check).
func (b *Base) Producers() []*Base { return append([]*Base(nil), b.producers...) }
func (b *Base) Consumers() []*Base { return append([]*Base(nil), b.consumers...) }

// Boot finalizes the completion bitsets once graph assembly (all
// Connect calls) is done. Must run before Start.
func (b *Base) Boot() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.producerDone = bitset.New(len(b.producers))
	b.consumerDone = bitset.New(len(b.consumers))
}

// Start delivers the initial Start control message, either via direct
// dispatch (cooperative transport) or by enqueuing to the operator's
// mailbox (parallel transport).
func (b *Base) Start() error {
	return b.transport.Deliver(nil, b, []message.Message{message.Start{}})
}

// Dispatch is the transport's entry point into this operator: it
// handles the Stop and *Completed control messages here and forwards
// everything else (Start and data/Eval messages) to the Handler.
// Transport implementations call
// this from Deliver, after switching the metrics timer.
func (b *Base) Dispatch(msgs []message.Message, fromID string) error {
	var data []message.Message
	for _, m := range msgs {
		switch m.Kind() {
		case message.KindProducerCompleted:
			pc := m.(message.ProducerCompleted)
			if err := b.onProducerCompleted(pc.Producer); err != nil {
				return err
			}
		case message.KindConsumerCompleted:
			cc := m.(message.ConsumerCompleted)
			if err := b.onConsumerCompleted(cc.Consumer); err != nil {
				return err
			}
		case message.KindStop:
			if !b.IsCompleted() {
				if err := b.Complete(); err != nil {
					return err
				}
			}
		default:
			data = append(data, m)
		}
	}
	if len(data) == 0 {
		return nil
	}
	if b.handler == nil {
		return operr.Internal(b.name, "dispatch: no handler bound")
	}
	return b.handler.Receive(data, fromID)
}

// Send routes msgs to each target's per-consumer outbound buffer,
// flushing through the transport once the buffer reaches bufferSize
// (0 = immediate, negative = only at Complete). targets defaults to
// every connected consumer.
func (b *Base) Send(msgs []message.Message, targets ...*Base) error {
	if len(targets) == 0 {
		targets = b.consumers
	}
	for _, t := range targets {
		b.outBuf[t.id] = append(b.outBuf[t.id], msgs...)
		if b.bufferSize < 0 {
			continue
		}
		if b.bufferSize == BufferImmediate || len(b.outBuf[t.id]) >= b.bufferSize {
			pending := b.outBuf[t.id]
			b.outBuf[t.id] = nil
			if err := b.transport.Deliver(b, t, pending); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Base) flushOutbound() error {
	for _, t := range b.consumers {
		pending := b.outBuf[t.id]
		if len(pending) == 0 {
			continue
		}
		b.outBuf[t.id] = nil
		if err := b.transport.Deliver(b, t, pending); err != nil {
			return err
		}
	}
	return nil
}

func (b *Base) onProducerCompleted(producer string) error {
	if hook, ok := b.handler.(ProducerCompletionHook); ok {
		if err := hook.OnProducerCompleted(producer); err != nil {
			return err
		}
	}
	b.mu.Lock()
	idx, ok := b.producerIdx[producer]
	if ok {
		b.producerDone.Set(idx)
	}
	allDone := b.producerDone != nil && b.producerDone.All()
	b.mu.Unlock()

	if allDone && !b.IsCompleted() {
		return b.Complete()
	}
	return nil
}

func (b *Base) onConsumerCompleted(consumer string) error {
	if hook, ok := b.handler.(ConsumerCompletionHook); ok {
		if err := hook.OnConsumerCompleted(consumer); err != nil {
			return err
		}
	}
	b.mu.Lock()
	idx, ok := b.consumerIdx[consumer]
	if ok {
		b.consumerDone.Set(idx)
	}
	allDone := b.consumerDone != nil && b.consumerDone.All()
	b.mu.Unlock()

	if allDone && !b.IsCompleted() {
		return b.Complete()
	}
	return nil
}

// IsCompleted reports whether Complete has already run.
func (b *Base) IsCompleted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// Complete runs the operator's shutdown sequence exactly once:
// flush any buffered blocking output (Flusher hook), flush remaining
// send buffers, broadcast ProducerCompleted/ConsumerCompleted to
// peers, and signal OperatorCompleted to the transport's shared
// completion queue. A second call is an InternalError: double-complete
// is an invariant violation, not a user mistake.
func (b *Base) Complete() error {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return operr.Internal(b.name, "complete called twice")
	}
	b.completed = true
	b.mu.Unlock()

	if flusher, ok := b.handler.(Flusher); ok {
		if err := flusher.Flush(); err != nil {
			return err
		}
	}
	if err := b.flushOutbound(); err != nil {
		return err
	}

	for _, c := range b.consumers {
		if err := b.transport.Deliver(b, c, []message.Message{message.ProducerCompleted{Producer: b.id}}); err != nil {
			return err
		}
	}
	for _, p := range b.producers {
		if err := b.transport.Deliver(b, p, []message.Message{message.ConsumerCompleted{Consumer: b.id}}); err != nil {
			return err
		}
	}

	b.transport.Signal(message.OperatorCompleted{Operator: b.id})
	b.logger.Debug().Msg("operator completed")
	return nil
}
