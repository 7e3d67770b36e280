package client

import (
	"context"
	"fmt"
	"strings"
)

// MemTable is an in-memory table MemClient serves scans against.
type MemTable struct {
	FieldNames []string
	Rows       [][]any
}

// MemClient is an in-process ScanClient double, standing in for the
// original's local Lambda-shaped demo shim. It supports only the
// handful of predicate shapes this repo's tests need: it does not
// parse SQL, it pattern-matches the literal fragments the operators
// under test are known to emit: the first conjunct of a WHERE clause,
// shaped "col <op> value" or "col IN (...)", with a CAST(col AS type)
// wrapper stripped. LIMIT is not applied, and a conjunct whose left
// side is not a plain column (such as the bloom-use scan's
// MOD(col + seed, m) IN (...) clauses) matches no column, so its rows
// come back unfiltered.
type MemClient struct {
	tables map[string]MemTable
}

// NewMemClient returns a client serving the given named tables.
func NewMemClient(tables map[string]MemTable) *MemClient {
	return &MemClient{tables: tables}
}

func (c *MemClient) Scan(ctx context.Context, table, sql, format string) (*Result, error) {
	t, ok := c.tables[table]
	if !ok {
		return nil, &MemError{Table: table, Msg: "unknown table"}
	}

	rows := t.Rows
	if pred, ok := extractWherePredicate(sql); ok {
		colIdx := indexOf(t.FieldNames, pred.column)
		if colIdx >= 0 {
			filtered := make([][]any, 0, len(rows))
			for _, r := range rows {
				if pred.matches(r[colIdx]) {
					filtered = append(filtered, r)
				}
			}
			rows = filtered
		}
	}

	rowCh := make(chan Row, len(rows)+1)
	for _, r := range rows {
		rowCh <- Row{Values: r}
	}
	close(rowCh)
	errCh := make(chan error)
	close(errCh)

	count := int64(len(rows))
	return &Result{
		FieldNames:    t.FieldNames,
		Rows:          rowCh,
		Errs:          errCh,
		BytesScanned:  func() int64 { return count * 8 },
		BytesReturned: func() int64 { return count * 8 },
		RequestCount:  func() int64 { return 1 },
		closeFn:       func() {},
	}, nil
}

// MemError reports a MemClient-specific scan failure.
type MemError struct {
	Table string
	Msg   string
}

func (e *MemError) Error() string { return e.Table + ": " + e.Msg }

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

type predicate struct {
	column string
	op     string
	value  float64
	inSet  map[int64]bool
}

func (p predicate) matches(v any) bool {
	f, ok := toFloat(v)
	if !ok {
		return false
	}
	switch p.op {
	case "<":
		return f < p.value
	case "<=":
		return f <= p.value
	case ">":
		return f > p.value
	case ">=":
		return f >= p.value
	case "=":
		return f == p.value
	case "in":
		return p.inSet[int64(f)]
	default:
		return true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// extractWherePredicate recognizes the small set of literal predicate
// shapes this repo's scan/bloom operators emit: "col <op> value" and
// "col IN (v1, v2, ...)", where col may be wrapped in CAST(col AS type).
// Only the first AND-separated conjunct is considered. It is
// intentionally not a SQL parser.
func extractWherePredicate(sql string) (predicate, bool) {
	upper := strings.ToUpper(sql)
	idx := strings.Index(upper, "WHERE")
	if idx < 0 {
		return predicate{}, false
	}
	clause := strings.TrimSpace(sql[idx+len("WHERE"):])
	if andIdx := strings.Index(strings.ToUpper(clause), " AND "); andIdx >= 0 {
		clause = clause[:andIdx]
	}

	for _, op := range []string{"<=", ">=", "<", ">", "="} {
		if parts := strings.SplitN(clause, op, 2); len(parts) == 2 && !strings.Contains(stripCast(parts[0]), "(") {
			col := strings.TrimSpace(stripCast(parts[0]))
			val, err := parseFloat(strings.TrimSpace(parts[1]))
			if err == nil {
				return predicate{column: col, op: op, value: val}, true
			}
		}
	}

	if inIdx := strings.Index(strings.ToUpper(clause), " IN "); inIdx >= 0 {
		col := strings.TrimSpace(stripCast(clause[:inIdx]))
		rest := clause[inIdx+len(" IN "):]
		open := strings.Index(rest, "(")
		shut := strings.Index(rest, ")")
		if open >= 0 && shut > open {
			set := make(map[int64]bool)
			for _, raw := range strings.Split(rest[open+1:shut], ",") {
				v, err := parseFloat(strings.TrimSpace(raw))
				if err == nil {
					set[int64(v)] = true
				}
			}
			return predicate{column: col, op: "in", inSet: set}, true
		}
	}

	return predicate{}, false
}

func stripCast(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToUpper(s), "CAST(") {
		inner := s[len("CAST("):]
		if asIdx := strings.Index(strings.ToUpper(inner), " AS "); asIdx >= 0 {
			return strings.TrimSpace(inner[:asIdx])
		}
	}
	return s
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscan(s, &f)
	return f, err
}
