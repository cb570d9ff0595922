package connreg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlgateway/flightgw/internal/apperrors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(context.Background(), "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSeedAndResolveCaseInsensitive(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.SeedSystemConnections(context.Background(), map[string]string{
		"Primary": "sqlite:///tmp/primary.db",
	}))

	dsn, typ, ok := r.Resolve(context.Background(), "primary")
	require.True(t, ok)
	require.Equal(t, "sqlite:///tmp/primary.db", dsn)
	require.Equal(t, "system", typ)
}

func TestSaveDuplicateNameFails(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Save(context.Background(), "dup", "sqlite", "path")
	require.NoError(t, err)

	_, err = r.Save(context.Background(), "dup", "sqlite", "path2")
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.DuplicateConnection, appErr.Code)
}

func TestDeleteProtectsSysPrefixedIDs(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Delete(context.Background(), "sys_1")
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperrors.ProtectedConnection, appErr.Code)
}

func TestListSortedByNumericID(t *testing.T) {
	r := newTestRegistry(t)
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"} {
		_, err := r.Save(context.Background(), n, "sqlite", "p")
		require.NoError(t, err)
	}
	list := r.List()
	for i := 1; i < len(list); i++ {
		require.True(t, idLess(list[i-1], list[i]) || list[i-1].ID == list[i].ID)
	}
}
