package message

import "fmt"

// FromRows builds a columnar Batch from row-major data, inferring
// each column's ColumnType from its first non-nil value. Used by
// every operator that needs to switch between row-at-a-time and
// batch representations of the same rows.
func FromRows(names []string, rows [][]any) Batch {
	cols := make([]Column, len(names))
	for ci, name := range names {
		col := Column{Name: name, Type: inferColumnType(rows, ci)}
		for _, r := range rows {
			appendCell(&col, r[ci])
		}
		cols[ci] = col
	}
	return Batch{Columns: cols}
}

func inferColumnType(rows [][]any, ci int) ColumnType {
	for _, r := range rows {
		if ci >= len(r) || r[ci] == nil {
			continue
		}
		switch r[ci].(type) {
		case int, int32, int64:
			return ColumnInt
		case float32, float64:
			return ColumnFloat
		case bool:
			return ColumnBool
		default:
			return ColumnString
		}
	}
	return ColumnString
}

func appendCell(col *Column, v any) {
	switch col.Type {
	case ColumnInt:
		col.Ints = append(col.Ints, toInt64(v))
	case ColumnFloat:
		col.Floats = append(col.Floats, toFloat64(v))
	case ColumnBool:
		b, _ := v.(bool)
		col.Bools = append(col.Bools, b)
	default:
		col.Strings = append(col.Strings, fmt.Sprint(v))
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

// ToRows expands a Batch back into row-major tuples, the inverse of
// FromRows, for operators that consume batches but must emit rows (or
// vice versa).
func ToRows(b Batch) [][]any {
	if len(b.Columns) == 0 {
		return nil
	}
	n := b.Columns[0].Len()
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		row := make([]any, len(b.Columns))
		for ci, col := range b.Columns {
			row[ci] = col.At(i)
		}
		rows[i] = row
	}
	return rows
}
