package value

import "fmt"

// Wrapper is the SqlWrapper envelope from spec.md §3/§9: a value bound to
// its criterion name, modeled as a tagged sum (Scalar | List | Range)
// rather than as a polymorphic class hierarchy.
type Wrapper struct {
	Field string
	kind  kind
	scal  any
	list  []any
	rng   Range
}

type kind int

const (
	kindScalar kind = iota
	kindList
	kindRange
	kindEmpty
)

// Range models a {start,end} (or begin/finish) criterion mapping.
type Range struct {
	Start any
	End   any
	HasStart bool
	HasEnd   bool
}

// Preprocessor resolves {{now}} and relative-date arithmetic inside string
// criterion values. Normally Preprocess (preprocess.go); passed in so tests
// can supply their own.
type Preprocessor func(s string) string

// Wrap constructs a Wrapper for criterion `field` bound to `raw`, recursively
// preprocessing string leaves through pp (spec.md invariant 3: "for every
// string criterion value, SqlWrapper(v).value equals preprocess(v, now)").
func Wrap(field string, raw any, pp Preprocessor) *Wrapper {
	w := &Wrapper{Field: field}
	switch v := raw.(type) {
	case nil:
		w.kind = kindEmpty
	case string:
		if v == "" {
			w.kind = kindEmpty
			return w
		}
		w.kind = kindScalar
		w.scal = pp(v)
	case map[string]any:
		r := Range{}
		if s, ok := firstKey(v, "start", "begin"); ok {
			r.Start, r.HasStart = preprocessAny(s, pp), true
		}
		if e, ok := firstKey(v, "end", "finish"); ok {
			r.End, r.HasEnd = preprocessAny(e, pp), true
		}
		w.kind = kindRange
		w.rng = r
	case []any:
		if len(v) == 0 {
			w.kind = kindEmpty
			return w
		}
		w.kind = kindList
		w.list = make([]any, len(v))
		for i, item := range v {
			w.list[i] = preprocessAny(item, pp)
		}
	default:
		w.kind = kindScalar
		w.scal = v
	}
	return w
}

func preprocessAny(v any, pp Preprocessor) any {
	switch x := v.(type) {
	case string:
		return pp(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = preprocessAny(item, pp)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = preprocessAny(item, pp)
		}
		return out
	}
	return v
}

func firstKey(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// IsEmpty reports whether the wrapped value is nil, "", or an empty list —
// the condition every comparison filter short-circuits on (invariant 2).
func (w *Wrapper) IsEmpty() bool { return w == nil || w.kind == kindEmpty }

func (w *Wrapper) IsList() bool  { return w != nil && w.kind == kindList }
func (w *Wrapper) IsRange() bool { return w != nil && w.kind == kindRange }
func (w *Wrapper) IsScalar() bool {
	return w != nil && w.kind == kindScalar
}

func (w *Wrapper) Scalar() any    { return w.scal }
func (w *Wrapper) List() []any    { return w.list }
func (w *Wrapper) RangeVal() Range { return w.rng }

func (w *Wrapper) String() string {
	switch {
	case w.IsEmpty():
		return ""
	case w.IsScalar():
		return fmt.Sprintf("%v", w.scal)
	default:
		return fmt.Sprintf("%v", w.list)
	}
}
