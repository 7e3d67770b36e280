package client

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PgxClient issues scan SQL against a real Postgres connection pool,
// streaming pgx.Rows into Row values without buffering the whole
// result set in memory.
type PgxClient struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPgxClient wraps an already-constructed pool. Pool lifecycle
// (Connect/Close) is the caller's responsibility.
func NewPgxClient(pool *pgxpool.Pool, logger zerolog.Logger) *PgxClient {
	return &PgxClient{pool: pool, logger: logger.With().Str("component", "pgx-scan-client").Logger()}
}

func (c *PgxClient) Scan(ctx context.Context, table, sql, format string) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	rows, err := c.pool.Query(ctx, sql)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	fieldDescs := rows.FieldDescriptions()
	names := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		names[i] = fd.Name
	}

	rowCh := make(chan Row, 256)
	errCh := make(chan error, 1)
	var bytesReturned int64
	var requestCount int64 = 1

	go func() {
		defer close(rowCh)
		defer rows.Close()
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				errCh <- fmt.Errorf("scan %s: read row: %w", table, err)
				return
			}
			for _, v := range vals {
				bytesReturned += estimateSize(v)
			}
			select {
			case rowCh <- Row{Values: vals}:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil {
			errCh <- fmt.Errorf("scan %s: %w", table, err)
		}
	}()

	return &Result{
		FieldNames:    names,
		Rows:          rowCh,
		Errs:          errCh,
		BytesScanned:  func() int64 { return bytesReturned },
		BytesReturned: func() int64 { return bytesReturned },
		RequestCount:  func() int64 { return requestCount },
		closeFn:       cancel,
	}, nil
}

func estimateSize(v any) int64 {
	switch t := v.(type) {
	case string:
		return int64(len(t))
	case []byte:
		return int64(len(t))
	default:
		return 8
	}
}

var _ ScanClient = (*PgxClient)(nil)
