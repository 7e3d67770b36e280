package graph

import (
	"sync"
	"time"

	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// TimerState is the typestate a Metrics record holds: either idle or
// running since a recorded instant, modeled as a typestate
// specifically so illegal transitions (stopping an idle timer,
// starting a running one) are a detectable bug rather than a
// silently wrong elapsed-time total.
type TimerState int

const (
	Idle TimerState = iota
	Running
)

// Metrics is the per-operator record the transport moves time into and
// out of on every context switch, plus the row/byte counters and
// operator-specific extras every operator publishes at quiescence.
type Metrics struct {
	mu        sync.Mutex
	state     TimerState
	startedAt time.Time
	elapsed   time.Duration

	RowsIn, RowsOut   int64
	BytesIn, BytesOut int64
	Extra             map[string]any
}

// NewMetrics returns an idle Metrics record.
func NewMetrics() *Metrics {
	return &Metrics{Extra: make(map[string]any)}
}

// Start transitions Idle -> Running(now). Only the transport should
// call this, at a context switch into the owning operator.
func (m *Metrics) Start(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Running {
		return operr.Internal(name, "metrics timer already running")
	}
	m.state = Running
	m.startedAt = time.Now()
	return nil
}

// Stop transitions Running -> Idle, accumulating elapsed time. Only
// the transport should call this, at a context switch out of the
// owning operator.
func (m *Metrics) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Running {
		return operr.Internal(name, "metrics timer already idle")
	}
	m.elapsed += time.Since(m.startedAt)
	m.state = Idle
	return nil
}

// Elapsed returns total accumulated running time so far.
func (m *Metrics) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Running {
		return m.elapsed + time.Since(m.startedAt)
	}
	return m.elapsed
}

// State reports the current typestate, mostly for tests.
func (m *Metrics) State() TimerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot is the serializable view of a Metrics record published at
// quiescence.
type Snapshot struct {
	ElapsedSeconds float64        `json:"elapsed_seconds"`
	RowsIn         int64          `json:"rows_in"`
	RowsOut        int64          `json:"rows_out"`
	BytesIn        int64          `json:"bytes_in"`
	BytesOut       int64          `json:"bytes_out"`
	Extra          map[string]any `json:"extra,omitempty"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	extra := make(map[string]any, len(m.Extra))
	for k, v := range m.Extra {
		extra[k] = v
	}
	elapsed := m.elapsed
	if m.state == Running {
		elapsed += time.Since(m.startedAt)
	}
	return Snapshot{
		ElapsedSeconds: elapsed.Seconds(),
		RowsIn:         m.RowsIn,
		RowsOut:        m.RowsOut,
		BytesIn:        m.BytesIn,
		BytesOut:       m.BytesOut,
		Extra:          extra,
	}
}
