package template

import (
	"github.com/flosch/pongo2/v6"

	"github.com/sqlgateway/flightgw/internal/filters"
	"github.com/sqlgateway/flightgw/internal/value"
)

// registerGlobalFiltersAndTags registers the spec.md §4.1 filter suite (and
// its documented aliases) plus the `reader`/`python` block tags against the
// package-global pongo2 registry. pongo2's filter/tag registries are global
// and panic on duplicate registration, so this runs exactly once
// (sync.Once in New).
func registerGlobalFiltersAndTags() {
	mustFilter("eq", wrapperFilter2(filters.Eq))
	mustFilter("ne", wrapperFilter2(filters.Ne))
	mustFilter("gt", wrapperFilter2(filters.Gt))
	mustFilter("lt", wrapperFilter2(filters.Lt))
	mustFilter("gte", wrapperFilter2(filters.Gte))
	mustFilter("ge", wrapperFilter2(filters.Gte))
	mustFilter("lte", wrapperFilter2(filters.Lte))
	mustFilter("le", wrapperFilter2(filters.Lte))
	mustFilter("like", wrapperFilter2(filters.Like))
	mustFilter("between", wrapperFilter1(filters.Between))
	mustFilter("quote", quoteFilter)
	mustFilter("sql", sqlFilter)
	mustFilter("start", anyFilter1(filters.Start))
	mustFilter("begin", anyFilter1(filters.Start))
	mustFilter("end", anyFilter1(filters.End))
	mustFilter("finish", anyFilter1(filters.End))
	mustFilter("add_days", addDaysFilter)

	mustTag("reader", parseReaderTag)
	mustTag("python", parsePythonTag)
}

func mustFilter(name string, fn pongo2.FilterFunction) {
	if err := pongo2.RegisterFilter(name, fn); err != nil {
		panic("template: registering filter " + name + ": " + err.Error())
	}
}

func mustTag(name string, fn pongo2.TagParser) {
	if err := pongo2.RegisterTag(name, fn); err != nil {
		panic("template: registering tag " + name + ": " + err.Error())
	}
}

func asWrapper(v *pongo2.Value) *value.Wrapper {
	if v == nil || v.IsNil() {
		return nil
	}
	w, _ := v.Interface().(*value.Wrapper)
	return w
}

// wrapperFilter2 adapts a (Wrapper, explicitFieldName) filter.
func wrapperFilter2(fn func(*value.Wrapper, string) string) pongo2.FilterFunction {
	return func(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		field := ""
		if param != nil && !param.IsNil() {
			field = param.String()
		}
		return pongo2.AsValue(fn(asWrapper(in), field)), nil
	}
}

// wrapperFilter1 adapts a single-argument Wrapper filter.
func wrapperFilter1(fn func(*value.Wrapper) string) pongo2.FilterFunction {
	return func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		return pongo2.AsValue(fn(asWrapper(in))), nil
	}
}

// anyFilter1 adapts a Wrapper filter returning an arbitrary Go value
// (start/end pass through the underlying scalar, not a rendered fragment).
func anyFilter1(fn func(*value.Wrapper) any) pongo2.FilterFunction {
	return func(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
		return pongo2.AsValue(fn(asWrapper(in))), nil
	}
}

func quoteFilter(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if w := asWrapper(in); w != nil {
		return pongo2.AsValue(filters.QuoteFilter(w)), nil
	}
	return pongo2.AsValue(filters.Quote(in.Interface())), nil
}

func sqlFilter(in, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	if w := asWrapper(in); w != nil {
		return pongo2.AsValue(filters.SQLFilter(w)), nil
	}
	return pongo2.AsValue(filters.Quote(in.Interface())), nil
}

func addDaysFilter(in, param *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	n := 0
	if param != nil && !param.IsNil() {
		n = param.Integer()
	}
	return pongo2.AsValue(filters.AddDays(asWrapper(in), n)), nil
}
