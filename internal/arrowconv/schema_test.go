package arrowconv

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sqlgateway/flightgw/internal/engine"
)

func TestSchemaFromColumns(t *testing.T) {
	got := SchemaFromColumns([]engine.Column{
		{Name: "id", DBType: "INT64", Nullable: false},
		{Name: "label", DBType: "TEXT", Nullable: true},
	})

	if got.NumFields() != 2 {
		t.Fatalf("NumFields() = %d, want 2", got.NumFields())
	}
	if name := got.Field(0).Name; name != "id" {
		t.Errorf("field 0 name = %q, want id", name)
	}
	if got.Field(1).Nullable != true {
		t.Errorf("field 1 nullable = false, want true")
	}
}

func TestInferColumnsFromRecords(t *testing.T) {
	records := []Record{
		{Fields: []string{"id", "name", "score"}, Values: map[string]any{"id": int64(1), "name": "alice", "score": 1.5}},
		{Fields: []string{"id", "name", "score"}, Values: map[string]any{"id": int64(2), "name": "bob", "score": int64(2)}},
	}

	cols, rows := InferColumnsFromRecords(records)

	want := []engine.Column{
		{Name: "id", DBType: "INT64", Nullable: true},
		{Name: "name", DBType: "TEXT", Nullable: true},
		{Name: "score", DBType: "FLOAT64", Nullable: true},
	}
	if diff := cmp.Diff(want, cols); diff != "" {
		t.Errorf("InferColumnsFromRecords() columns mismatch (-want +got):\n%s", diff)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[1][2] != 2.0 {
		t.Errorf("rows[1][2] = %v, want 2.0 (widened to float64)", rows[1][2])
	}
}

func TestInferColumnsFromRecordsPreservesFieldOrder(t *testing.T) {
	records := []Record{
		{Fields: []string{"z", "a"}, Values: map[string]any{"z": "first", "a": "second"}},
	}
	cols, _ := InferColumnsFromRecords(records)
	if len(cols) != 2 {
		t.Fatalf("len(cols) = %d, want 2", len(cols))
	}
	if cols[0].Name != "z" || cols[1].Name != "a" {
		t.Errorf("columns = %v, want first-seen order [z a]", cols)
	}
}
