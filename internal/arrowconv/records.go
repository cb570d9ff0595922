package arrowconv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sqlgateway/flightgw/internal/engine"
)

// Chunk is one unit of a streamed query result: either a record batch or
// a terminal error.
type Chunk struct {
	Record arrow.Record
	Err    error
}

const defaultBatchSize = 10000

// StreamRows batches an already-executing *sql.Rows into arrow.Record
// values of up to batchSize rows each, matching the embedded engine's
// "streaming reader" contract (spec.md §1). The returned channel is closed
// after the final chunk (data or error); callers must drain it fully or
// stop reading rows (ctx cancellation is checked before each row).
func StreamRows(ctx context.Context, rows *sql.Rows, schema *arrow.Schema, batchSize int) (<-chan Chunk, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	out := make(chan Chunk, 1)

	go func() {
		defer close(out)
		defer rows.Close()

		builders := newBuilders(schema)
		defer releaseBuilders(builders)

		count := 0
		scanDest := make([]any, len(schema.Fields()))
		for i := range scanDest {
			var v any
			scanDest[i] = &v
		}

		flush := func() {
			if count == 0 {
				return
			}
			rec := buildRecord(schema, builders)
			out <- Chunk{Record: rec}
			builders = newBuilders(schema)
			count = 0
		}

		for rows.Next() {
			select {
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			default:
			}

			if err := rows.Scan(scanDest...); err != nil {
				out <- Chunk{Err: err}
				return
			}
			for i, f := range schema.Fields() {
				appendValue(builders[i], f.Type, *(scanDest[i].(*any)))
			}
			count++
			if count >= batchSize {
				flush()
			}
		}
		if err := rows.Err(); err != nil {
			out <- Chunk{Err: err}
			return
		}
		flush()
	}()

	return out, nil
}

func newBuilders(schema *arrow.Schema) []array.Builder {
	pool := memory.NewGoAllocator()
	b := make([]array.Builder, len(schema.Fields()))
	for i, f := range schema.Fields() {
		b[i] = array.NewBuilder(pool, f.Type)
	}
	return b
}

func releaseBuilders(builders []array.Builder) {
	for _, b := range builders {
		b.Release()
	}
}

func buildRecord(schema *arrow.Schema, builders []array.Builder) arrow.Record {
	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewArray()
	}
	length := int64(0)
	if len(cols) > 0 {
		length = int64(cols[0].Len())
	}
	rec := array.NewRecord(schema, cols, length)
	for _, c := range cols {
		c.Release()
	}
	return rec
}

func appendValue(b array.Builder, t arrow.DataType, v any) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.Append(toBool(v))
	case *array.Int64Builder:
		bb.Append(toInt64(v))
	case *array.Float64Builder:
		bb.Append(toFloat64(v))
	case *array.TimestampBuilder:
		bb.Append(toTimestamp(v))
	case *array.Date32Builder:
		bb.Append(toDate32(v))
	case *array.StringBuilder:
		bb.Append(toStringVal(v))
	default:
		b.AppendNull()
	}
	_ = t
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case string:
		return x == "1" || x == "true" || x == "TRUE"
	default:
		return false
	}
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case float64:
		return int64(x)
	case []byte:
		var n int64
		fmt.Sscanf(string(x), "%d", &n)
		return n
	case string:
		var n int64
		fmt.Sscanf(x, "%d", &n)
		return n
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case []byte:
		var f float64
		fmt.Sscanf(string(x), "%g", &f)
		return f
	case string:
		var f float64
		fmt.Sscanf(x, "%g", &f)
		return f
	default:
		return 0
	}
}

func toStringVal(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func toTimestamp(v any) arrow.Timestamp {
	switch x := v.(type) {
	case time.Time:
		return arrow.Timestamp(x.UnixMicro())
	case string:
		if t, err := time.Parse(time.RFC3339, x); err == nil {
			return arrow.Timestamp(t.UnixMicro())
		}
	}
	return 0
}

func toDate32(v any) arrow.Date32 {
	switch x := v.(type) {
	case time.Time:
		return arrow.Date32FromTime(x)
	case string:
		if t, err := time.Parse("2006-01-02", x); err == nil {
			return arrow.Date32FromTime(t)
		}
	}
	return 0
}

// RecordFromRows builds a single arrow.Record from already-materialized
// rows (e.g. internal/reader's pre-fetched batches, ahead of a Parquet
// write), reusing the same per-type append logic as StreamRows.
func RecordFromRows(schema *arrow.Schema, rows [][]any) arrow.Record {
	builders := newBuilders(schema)
	defer releaseBuilders(builders)
	for _, row := range rows {
		for i, f := range schema.Fields() {
			appendValue(builders[i], f.Type, row[i])
		}
	}
	return buildRecord(schema, builders)
}

// SchemaFromLiveRows builds the Arrow schema directly from an already
// executing *sql.Rows (no separate LIMIT 0 probe).
func SchemaFromLiveRows(rows *sql.Rows) (*arrow.Schema, error) {
	cols, err := engine.DescribeRows(rows)
	if err != nil {
		return nil, err
	}
	return SchemaFromColumns(cols), nil
}
