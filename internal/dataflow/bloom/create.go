package bloom

import (
	"github.com/rs/zerolog"

	"github.com/jfoltran/dflow/internal/dataflow/graph"
	"github.com/jfoltran/dflow/internal/dataflow/message"
	"github.com/jfoltran/dflow/internal/dataflow/operr"
)

// DefaultFPRate matches the original operator's default false
// positive rate before any length-driven correction.
const DefaultFPRate = 0.3

// maxSQLExpressionLen stands in for the original's remote-engine
// expression length ceiling (S3 Select's MAX_S3_SELECT_EXPRESSION_LEN
// there); here it bounds how large the rewritten disjunction in
// SQLTableScanBloomUse's query may grow.
const maxSQLExpressionLen = 8192

// BloomUser is implemented by consumer operators allowed to connect
// to a BloomCreate: only they can interpret the broadcast filter
// payload, and only they report the base SQL length BloomCreate needs
// to budget the serialized predicate against.
type BloomUser interface {
	BaseSQLLen() int
}

// Create buffers every value seen on FieldName across all producers
// and, once every producer completes, builds a sliced bloom filter
// and broadcasts it to its (bloom-use) consumers.
type Create struct {
	base      *graph.Base
	fieldName string
	fpRate    float64
	logger    zerolog.Logger

	fieldIndex map[string]int
	values     []int64
}

// New constructs a Create operator extracting FieldName's values,
// targeting fpRate (DefaultFPRate is used if fpRate <= 0).
func New(name, fieldName string, fpRate float64, bufferSize int, logger zerolog.Logger) *Create {
	if fpRate <= 0 {
		fpRate = DefaultFPRate
	}
	c := &Create{fieldName: fieldName, fpRate: fpRate}
	c.base = graph.NewBase(name, c, bufferSize, logger)
	c.logger = c.base.Logger()
	return c
}

func (c *Create) Base() *graph.Base { return c.base }

// Connect overrides the plain edge registration to enforce a
// connect-time type check: only BloomUser consumers may subscribe to
// a bloom filter.
func (c *Create) Connect(consumer *graph.Base) error {
	if _, ok := consumer.Handler().(BloomUser); !ok {
		return operr.Config(c.base.Name(), "consumer %q is not a bloom-use operator", consumer.Name())
	}
	return c.base.Connect(consumer)
}

func (c *Create) Receive(msgs []message.Message, producer string) error {
	for _, m := range msgs {
		switch v := m.(type) {
		case message.FieldNames:
			if c.fieldIndex == nil {
				c.fieldIndex = indexFields(v.Names)
				if _, ok := c.fieldIndex[c.fieldName]; !ok {
					return operr.Schema(c.base.Name(), "bloom field %q not present in header", c.fieldName)
				}
			}
		case message.Tuple:
			if c.fieldIndex == nil {
				return operr.Schema(c.base.Name(), "received tuple before field names")
			}
			if err := c.appendValue(v.Values); err != nil {
				return err
			}
		case message.Batch:
			if c.fieldIndex == nil {
				return operr.Schema(c.base.Name(), "received batch before field names")
			}
			for _, row := range message.ToRows(v) {
				if err := c.appendValue(row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Create) appendValue(row []any) error {
	idx := c.fieldIndex[c.fieldName]
	v, err := toInt64(row[idx])
	if err != nil {
		return operr.Schema(c.base.Name(), "bloom field %q: %v", c.fieldName, err)
	}
	c.values = append(c.values, v)
	return nil
}

// Flush implements graph.Flusher: runs once every producer has
// completed, building the filter at the best rate achievable within
// the tightest connected bloom-use consumer's SQL budget and
// broadcasting it.
func (c *Create) Flush() error {
	if c.fieldIndex == nil {
		return nil
	}

	maxBaseLen := 0
	for _, consumer := range c.base.Consumers() {
		bu, ok := consumer.Handler().(BloomUser)
		if !ok {
			continue
		}
		if n := bu.BaseSQLLen(); n > maxBaseLen {
			maxBaseLen = n
		}
	}
	budget := maxSQLExpressionLen - maxBaseLen
	bestRate := BestAchievableFPRate(len(c.values), budget, c.fieldName)

	rate := c.fpRate
	if bestRate > rate {
		c.logger.Warn().
			Float64("configured_rate", rate).
			Float64("best_achievable_rate", bestRate).
			Msg(operr.Overflow(c.base.Name(), "bloom fp rate too low for SQL budget, raising to best achievable").Error())
		rate = bestRate
	}

	filter := NewSlicedBloomFilter(len(c.values), rate)
	for _, v := range c.values {
		filter.Add(v)
	}
	c.values = nil

	data, err := Encode(filter)
	if err != nil {
		return operr.Internal(c.base.Name(), "encode bloom payload: %v", err)
	}
	return c.base.Send([]message.Message{message.Binary{Name: "bloom:" + c.fieldName, Data: data}})
}

func indexFields(names []string) map[string]int {
	idx := make(map[string]int, len(names))
	for i, n := range names {
		idx[n] = i
	}
	return idx
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return int64(t), nil
	default:
		return 0, operr.Schema("bloom", "value %v is not integer-coercible", v)
	}
}

var _ graph.Handler = (*Create)(nil)
var _ graph.Flusher = (*Create)(nil)
