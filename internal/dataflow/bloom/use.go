package bloom

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/client"
	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
	"github.com/jfoltran/dflow/internal/dataflow/scan"
)

// UseConfig describes the base scan SQLTableScanBloomUse rewrites
// once it receives a filter: BaseSQL is wrapped in a subquery and
// Column is the field the bloom predicate is evaluated against.
type UseConfig struct {
	Table      string
	BaseSQL    string
	Format     string
	Column     string
	UseBatches bool
	BatchSize  int
}

// Use is the consumer half of the bloom pipeline: it has exactly one
// producer (a Create) and waits for the broadcast filter before
// issuing any SQL.
type Use struct {
	base   *graph.Base
	client client.ScanClient
	cfg    UseConfig
	logger zerolog.Logger
}

// NewUse constructs a bloom-use scan bound to the given client.
func NewUse(name string, cl client.ScanClient, cfg UseConfig, bufferSize int, logger zerolog.Logger) *Use {
	u := &Use{client: cl, cfg: cfg}
	u.base = graph.NewBase(name, u, bufferSize, logger)
	u.logger = u.base.Logger()
	return u
}

func (u *Use) Base() *graph.Base { return u.base }

// BaseSQLLen implements bloom.BloomUser, letting the upstream Create
// budget its serialized predicate against this consumer's base query
// length.
func (u *Use) BaseSQLLen() int { return len(u.cfg.BaseSQL) }

func (u *Use) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		if b, ok := m.(message.Binary); ok {
			return u.runWithFilter(b)
		}
	}
	return nil
}

func (u *Use) runWithFilter(b message.Binary) error {
	payload, err := Decode(b.Data)
	if err != nil {
		return operr.Schema(u.base.Name(), "decode bloom payload: %v", err)
	}
	predicate := payload.SQLPredicate(u.cfg.Column)
	sql := fmt.Sprintf("SELECT * FROM (%s) bloom_filtered WHERE %s", u.cfg.BaseSQL, predicate)
	return scan.RunQuery(u.base, u.client, u.cfg.Table, sql, u.cfg.Format, u.cfg.UseBatches, u.cfg.BatchSize, u.logger)
}

var _ graph.Handler = (*Use)(nil)
var _ BloomUser = (*Use)(nil)
