// Package filters implements the pure SQL-fragment filter suite of
// spec.md §4.1, operating on internal/value.Wrapper values.
package filters

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sqlgateway/flightgw/internal/value"
)

// FieldName resolves the left-hand operand per spec.md §4.1: an explicit
// argument wins, otherwise the wrapper's bound name; if neither is
// available the filter emits the fragment without a left operand.
func FieldName(w *value.Wrapper, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if w != nil {
		return w.Field
	}
	return ""
}

// Quote renders a single Go value as a SQL literal, per the `quote` filter.
func Quote(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", x)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", x), "'", "''") + "'"
	}
}

// QuoteFilter implements the `quote` filter over a whole Wrapper.
func QuoteFilter(w *value.Wrapper) string {
	switch {
	case w.IsEmpty():
		return "NULL"
	case w.IsList():
		parts := make([]string, len(w.List()))
		for i, v := range w.List() {
			parts[i] = Quote(v)
		}
		return strings.Join(parts, ", ")
	case w.IsScalar():
		return Quote(w.Scalar())
	default:
		return "NULL"
	}
}

// SQLFilter implements the `sql` filter: like quote (booleans render as 1/0
// in both) but lists are parenthesized.
func SQLFilter(w *value.Wrapper) string {
	switch {
	case w.IsEmpty():
		return "NULL"
	case w.IsList():
		parts := make([]string, len(w.List()))
		for i, v := range w.List() {
			parts[i] = Quote(v)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case w.IsScalar():
		return Quote(w.Scalar())
	default:
		return "NULL"
	}
}

// Eq implements the `eq` filter: `F = v` for scalars, `F IN (...)` for
// lists, empty string for empty/None (invariant 2).
func Eq(w *value.Wrapper, field string) string {
	f := FieldName(w, field)
	switch {
	case w.IsEmpty():
		return ""
	case w.IsList():
		return fmt.Sprintf("%s IN (%s)", f, joinQuoted(w.List()))
	default:
		return fmt.Sprintf("%s = %s", f, Quote(w.Scalar()))
	}
}

// Ne implements the `ne` filter.
func Ne(w *value.Wrapper, field string) string {
	f := FieldName(w, field)
	switch {
	case w.IsEmpty():
		return ""
	case w.IsList():
		return fmt.Sprintf("%s NOT IN (%s)", f, joinQuoted(w.List()))
	default:
		return fmt.Sprintf("%s <> %s", f, Quote(w.Scalar()))
	}
}

func comparison(op string) func(*value.Wrapper, string) string {
	return func(w *value.Wrapper, field string) string {
		if w.IsEmpty() || !w.IsScalar() {
			return ""
		}
		return fmt.Sprintf("%s %s %s", FieldName(w, field), op, Quote(w.Scalar()))
	}
}

var (
	Gt  = comparison(">")
	Lt  = comparison("<")
	Gte = comparison(">=")
	Lte = comparison("<=")
)

// Like implements the `like` filter: `F LIKE '%v%'`.
func Like(w *value.Wrapper, field string) string {
	if w.IsEmpty() || !w.IsScalar() {
		return ""
	}
	return fmt.Sprintf("%s LIKE '%%%v%%'", FieldName(w, field), w.Scalar())
}

// Between implements the `between` filter over a {start,end} range mapping;
// a missing side renders as NULL.
func Between(w *value.Wrapper, field string) string {
	if w.IsEmpty() || !w.IsRange() {
		return ""
	}
	r := w.RangeVal()
	start, end := "NULL", "NULL"
	if r.HasStart {
		start = Quote(r.Start)
	}
	if r.HasEnd {
		end = Quote(r.End)
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", FieldName(w, field), start, end)
}

// Start implements the `start`/`begin` filter: the range's start side if
// the wrapper is a range, nil if it is empty, else the wrapped scalar.
func Start(w *value.Wrapper) any {
	if w.IsRange() {
		return w.RangeVal().Start
	}
	if w.IsEmpty() {
		return nil
	}
	return w.Scalar()
}

// End implements the `end`/`finish` filter.
func End(w *value.Wrapper) any {
	if w.IsRange() {
		return w.RangeVal().End
	}
	if w.IsEmpty() {
		return nil
	}
	return w.Scalar()
}

// AddDays implements the `add_days(n)` filter.
func AddDays(w *value.Wrapper, n int) string {
	if w.IsEmpty() || !w.IsScalar() {
		return w.String()
	}
	s, ok := w.Scalar().(string)
	if !ok {
		return w.String()
	}
	return value.AddDays(s, n)
}

func joinQuoted(items []any) string {
	parts := make([]string, len(items))
	for i, v := range items {
		parts[i] = Quote(v)
	}
	return strings.Join(parts, ", ")
}

// ParseIntArg is a small helper for tag/filter argument parsing shared by
// internal/template.
func ParseIntArg(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
