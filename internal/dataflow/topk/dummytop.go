package topk

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// DummyTopRequest is the JSON request a DummyTop posts to its compute
// worker: the same sampled-threshold parameters TopKTableScan would
// otherwise resolve locally, handed off wholesale instead.
type DummyTopRequest struct {
	Table      string `json:"table"`
	BaseSQL    string `json:"base_sql"`
	Column     string `json:"column"`
	ColumnType string `json:"column_type"`
	K          int    `json:"k"`
	Direction  string `json:"direction"`
}

// DummyTopResponse is the worker's reply: the final top-K rows under
// the requested header, plus whatever cost/timing metrics it tracked.
type DummyTopResponse struct {
	FieldNames []string         `json:"field_names"`
	Rows       [][]any          `json:"rows"`
	Metrics    map[string]int64 `json:"metrics"`
}

// DummyTop is a shim that dials a compute worker once, posts a
// DummyTopRequest, waits for a single DummyTopResponse, and replays
// it into the graph as one header plus one batch. It never runs the
// sampled-threshold algorithm itself; the worker does.
type DummyTop struct {
	base    *graph.Base
	url     string
	req     DummyTopRequest
	dialer  *websocket.DialOptions
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDummyTop constructs a DummyTop dialing url when it receives Start.
func NewDummyTop(name, url string, req DummyTopRequest, timeout time.Duration, bufferSize int, logger zerolog.Logger) *DummyTop {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &DummyTop{url: url, req: req, timeout: timeout}
	d.base = graph.NewBase(name, d, bufferSize, logger)
	d.logger = d.base.Logger()
	return d
}

func (d *DummyTop) Base() *graph.Base { return d.base }

func (d *DummyTop) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if m.Kind() == message.KindStart {
			return d.run()
		}
	}
	return nil
}

func (d *DummyTop) run() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return operr.Remote(d.base.Name(), "dial compute worker: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	body, err := json.Marshal(d.req)
	if err != nil {
		return operr.Internal(d.base.Name(), "marshal request: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		return operr.Remote(d.base.Name(), "write request: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return operr.Remote(d.base.Name(), "read response: %w", err)
	}
	var resp DummyTopResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return operr.Remote(d.base.Name(), "unmarshal response: %w", err)
	}

	d.logger.Debug().
		Int("rows", len(resp.Rows)).
		Interface("metrics", resp.Metrics).
		Msg("dummy-top compute worker replied")

	if err := d.base.Send([]message.Message{message.FieldNames{Names: resp.FieldNames}}); err != nil {
		return err
	}
	if len(resp.Rows) > 0 {
		batch := message.FromRows(resp.FieldNames, resp.Rows)
		if err := d.base.Send([]message.Message{batch}); err != nil {
			return err
		}
	}

	for k, v := range resp.Metrics {
		d.base.Metrics().Extra[k] = v
	}
	return d.base.Complete()
}

var _ graph.Handler = (*DummyTop)(nil)
