// Package arrowconv is the single place that talks to Apache Arrow:
// building arrow.Schema values from the embedded engine's column
// descriptors, streaming database/sql rows into arrow.Record batches, and
// implementing the records->Arrow conversion rules of spec.md §4.3.3 for
// `python` block return values.
package arrowconv

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/sqlgateway/flightgw/internal/engine"
)

// SchemaFromColumns builds an arrow.Schema from the embedded engine's
// column descriptors, used for both GetFlightInfo's inferred schema and
// GetSchema.
func SchemaFromColumns(columns []engine.Column) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowTypeFor(c.DBType), Nullable: c.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowTypeFor(dbType string) arrow.DataType {
	switch normalizeDBType(dbType) {
	case "BOOL":
		return arrow.FixedWidthTypes.Boolean
	case "INT64":
		return arrow.PrimitiveTypes.Int64
	case "FLOAT64":
		return arrow.PrimitiveTypes.Float64
	case "TIMESTAMP":
		return arrow.FixedWidthTypes.Timestamp_us
	case "DATE32":
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func normalizeDBType(dbType string) string {
	switch dbType {
	case "BOOL", "BOOLEAN":
		return "BOOL"
	case "INT", "INTEGER", "INT64", "BIGINT", "SMALLINT", "TINYINT":
		return "INT64"
	case "FLOAT", "FLOAT64", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return "FLOAT64"
	case "TIMESTAMP", "DATETIME":
		return "TIMESTAMP"
	case "DATE", "DATE32":
		return "DATE32"
	default:
		return "STRING"
	}
}

// PlaceholderResultSchema is the fixed {Result: string} schema used when
// rendered SQL is empty/comment-only, and for CREATE/INSERT/UPDATE/DELETE/
// DROP statements that skip schema probing (spec.md §4.6 steps 5-6).
func PlaceholderResultSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "Result", Type: arrow.BinaryTypes.String}}, nil)
}

// LogStreamSchema is the fixed two-column schema used once any log item is
// observed (spec.md §4.6, invariant 8): {stream_type, stream_content}.
func LogStreamSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "stream_type", Type: arrow.BinaryTypes.String},
		{Name: "stream_content", Type: arrow.BinaryTypes.String},
	}, nil)
}
