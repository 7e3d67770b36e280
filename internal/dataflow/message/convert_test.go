package message

import "testing"

func TestFromRowsAndToRowsRoundTrip(t *testing.T) {
	names := []string{"id", "price", "name"}
	rows := [][]any{
		{1, 19.99, "widget"},
		{2, 4.50, "sprocket"},
	}
	b := FromRows(names, rows)
	if b.NumRows() != 2 {
		t.Fatalf("NumRows() = %d, want 2", b.NumRows())
	}
	if b.Columns[0].Type != ColumnInt {
		t.Errorf("column 0 type = %v, want ColumnInt", b.Columns[0].Type)
	}
	if b.Columns[1].Type != ColumnFloat {
		t.Errorf("column 1 type = %v, want ColumnFloat", b.Columns[1].Type)
	}
	if b.Columns[2].Type != ColumnString {
		t.Errorf("column 2 type = %v, want ColumnString", b.Columns[2].Type)
	}

	back := ToRows(b)
	if len(back) != 2 {
		t.Fatalf("ToRows len = %d, want 2", len(back))
	}
	if back[0][0] != int64(1) {
		t.Errorf("back[0][0] = %v, want 1", back[0][0])
	}
	if back[1][2] != "sprocket" {
		t.Errorf("back[1][2] = %v, want sprocket", back[1][2])
	}
}
