package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func identity(s string) string { return s }

func TestWrapScalar(t *testing.T) {
	w := Wrap("ID", 101, identity)
	require.True(t, w.IsScalar())
	require.False(t, w.IsEmpty())
	require.Equal(t, 101, w.Scalar())
}

func TestWrapEmpty(t *testing.T) {
	for _, v := range []any{nil, "", []any{}} {
		w := Wrap("X", v, identity)
		require.True(t, w.IsEmpty(), "expected empty for %#v", v)
	}
}

func TestWrapRangeAliases(t *testing.T) {
	w := Wrap("CREATED_AT", map[string]any{"begin": "a", "finish": "b"}, identity)
	require.True(t, w.IsRange())
	r := w.RangeVal()
	require.Equal(t, "a", r.Start)
	require.Equal(t, "b", r.End)
}

func TestWrapPreprocessesStrings(t *testing.T) {
	w := Wrap("X", "hello", func(s string) string { return s + "!" })
	require.Equal(t, "hello!", w.Scalar())
}

func TestWrapListPreprocessesEachElement(t *testing.T) {
	w := Wrap("X", []any{"a", "b"}, func(s string) string { return s + "!" })
	require.True(t, w.IsList())
	require.Equal(t, []any{"a!", "b!"}, w.List())
}
