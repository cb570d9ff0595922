package filters

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlgateway/flightgw/internal/value"
)

func identity(s string) string { return s }

func TestEqScalarMatchesFieldEqualsQuote(t *testing.T) {
	w := value.Wrap("ID", 101, identity)
	require.Equal(t, "ID = 101", Eq(w, ""))
	require.Equal(t, "ID", FieldName(w, ""))
	require.Equal(t, "101", Quote(w.Scalar()))
}

func TestEqList(t *testing.T) {
	w := value.Wrap("ID", []any{1, 2, 3}, identity)
	require.Equal(t, "ID IN (1, 2, 3)", Eq(w, ""))
}

func TestEmptyShortCircuit(t *testing.T) {
	for _, v := range []any{nil, "", []any{}} {
		w := value.Wrap("F", v, identity)
		require.Equal(t, "", Eq(w, ""))
		require.Equal(t, "", Ne(w, ""))
		require.Equal(t, "", Gt(w, ""))
		require.Equal(t, "", Like(w, ""))
	}
}

func TestBetweenMissingSideIsNull(t *testing.T) {
	w := value.Wrap("D", map[string]any{"start": "20240101"}, identity)
	require.Equal(t, "D BETWEEN '20240101' AND NULL", Between(w, ""))
}

func TestLike(t *testing.T) {
	w := value.Wrap("NAME", "bob", identity)
	require.Equal(t, "NAME LIKE '%bob%'", Like(w, ""))
}

func TestExplicitFieldWinsOverBoundName(t *testing.T) {
	w := value.Wrap("BOUND", 1, identity)
	require.Equal(t, "OTHER = 1", Eq(w, "OTHER"))
}

func TestQuoteNilIsNull(t *testing.T) {
	require.Equal(t, "NULL", Quote(nil))
}

func TestSQLFilterBoolAsIntAndListParenthesized(t *testing.T) {
	w := value.Wrap("F", []any{true, false}, identity)
	require.Equal(t, "(1, 0)", SQLFilter(w))
}

func TestStartEndAliasesPassThroughOnScalar(t *testing.T) {
	w := value.Wrap("F", "x", identity)
	require.Equal(t, "x", Start(w))
	require.Equal(t, "x", End(w))
}
