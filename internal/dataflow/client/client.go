// Package client implements the remote scan interface: the engine
// emits a SQL string, a key/table identifier, and a format
// descriptor; the client returns field names followed by a stream of
// rows plus byte/row accounting. The engine never speaks SQL dialect
// details itself. ScanClient is the seam to the external
// object-store/service collaborator.
package client

import "context"

// Row is one returned record, positional against FieldNames.
type Row struct {
	Values []any
}

// Result streams a scan's rows. Close releases any held connection or
// cursor; it must be safe to call even if Rows was never fully drained.
type Result struct {
	FieldNames []string
	Rows       <-chan Row
	Errs       <-chan error

	// BytesScanned/BytesReturned/RequestCount are accounted once the
	// stream is fully drained.
	BytesScanned  func() int64
	BytesReturned func() int64
	RequestCount  func() int64

	closeFn func()
}

// Close releases the underlying connection or cursor.
func (r *Result) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

// ScanClient is the interface SQLTableScan and SQLTableScanBloomUse
// issue queries against. Implementations: PgxClient (real Postgres,
// standing in for the remote object-store service) and MemClient (an
// in-process double used throughout this repo's tests, mirroring the
// original's local demo shim).
type ScanClient interface {
	// Scan executes sql against table and streams back rows. format
	// is advisory (CSV/Parquet-like) and implementation-specific.
	Scan(ctx context.Context, table, sql, format string) (*Result, error)
}
