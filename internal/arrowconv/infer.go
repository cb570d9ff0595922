package arrowconv

import (
	"time"

	"github.com/sqlgateway/flightgw/internal/engine"
)

const maxInferenceSample = 100

// Record is a single returned row, with field order preserved exactly as
// the producer emitted it (e.g. a Starlark dict's insertion order) instead
// of a plain map[string]any, whose Go iteration order is randomized and
// would make the first-seen column ordering §4.3.3 requires nondeterministic
// across runs.
type Record struct {
	Fields []string
	Values map[string]any
}

// typeRank implements the priority order of spec.md §4.3.3: bool, int64,
// float64, timestamp(µs), date32, else string. When unioning types observed
// across sampled rows, the higher (wider) rank wins.
type typeRank int

const (
	rankBool typeRank = iota
	rankInt64
	rankFloat64
	rankTimestamp
	rankDate32
	rankString
)

func (r typeRank) dbType() string {
	switch r {
	case rankBool:
		return "BOOL"
	case rankInt64:
		return "INT64"
	case rankFloat64:
		return "FLOAT64"
	case rankTimestamp:
		return "TIMESTAMP"
	case rankDate32:
		return "DATE32"
	default:
		return "TEXT"
	}
}

// InferColumnsFromRecords implements spec.md §4.3.3: materialize up to 100
// records for schema inference, union field names preserving first-seen
// order, and for each field pick the narrowest common type across sampled
// non-null values. Returns the column order/types and the full row set
// (all records, not just the sample) projected onto that column order,
// ready for engine.SessionContext.RegisterRows. Per-column type-conversion
// failures fall back to a string representation of that cell.
func InferColumnsFromRecords(records []Record) ([]engine.Column, [][]any) {
	order := []string{}
	seen := map[string]bool{}
	sampleLimit := len(records)
	if sampleLimit > maxInferenceSample {
		sampleLimit = maxInferenceSample
	}

	rank := map[string]typeRank{}
	for i := 0; i < sampleLimit; i++ {
		for _, k := range records[i].Fields {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
				rank[k] = rankBool // optimistic start; widened below
			}
			v := records[i].Values[k]
			if v == nil {
				continue
			}
			widenRank(rank, k, classify(v))
		}
	}

	columns := make([]engine.Column, len(order))
	for i, name := range order {
		columns[i] = engine.Column{Name: name, DBType: rank[name].dbType(), Nullable: true}
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		row := make([]any, len(order))
		for j, name := range order {
			row[j] = coerce(rec.Values[name], rank[name])
		}
		rows[i] = row
	}
	return columns, rows
}

func classify(v any) typeRank {
	switch v.(type) {
	case bool:
		return rankBool
	case int, int32, int64:
		return rankInt64
	case float32, float64:
		return rankFloat64
	case time.Time:
		return rankTimestamp
	default:
		return rankString
	}
}

func widenRank(rank map[string]typeRank, field string, observed typeRank) {
	if observed > rank[field] {
		rank[field] = observed
	}
}

func coerce(v any, target typeRank) any {
	if v == nil {
		return nil
	}
	switch target {
	case rankBool:
		if b, ok := v.(bool); ok {
			return b
		}
	case rankInt64:
		switch x := v.(type) {
		case int:
			return int64(x)
		case int32:
			return int64(x)
		case int64:
			return x
		}
	case rankFloat64:
		switch x := v.(type) {
		case float32:
			return float64(x)
		case float64:
			return x
		case int:
			return float64(x)
		case int64:
			return float64(x)
		}
	case rankTimestamp, rankDate32:
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	// Fall back to a string representation (spec.md §4.3.3: "type-conversion
	// failure per column falls back to string representation").
	return toStringVal(v)
}
