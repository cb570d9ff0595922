package templatemeta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadParsesSQLAndParams(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.yaml", "sql: \"SELECT * FROM ACCOUNTS WHERE {{ ID | eq }}\"\nparams:\n  - name: ID\n    label: Account ID\n    type: int\n    required: true\n")

	l := NewLoader([]string{dir})
	meta, err := l.Load("a.yaml")
	require.NoError(t, err)
	require.Equal(t, "SELECT * FROM ACCOUNTS WHERE {{ ID | eq }}", meta.SQL)
	require.Len(t, meta.Params, 1)
	require.Equal(t, "ID", meta.Params[0].Name)
}

func TestLoadWithoutExtensionSuffix(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "b.yaml", "sql: \"SELECT 1\"\n")

	l := NewLoader([]string{dir})
	meta, err := l.Load("b")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", meta.SQL)
}

func TestLoadNotFound(t *testing.T) {
	l := NewLoader([]string{t.TempDir()})
	_, err := l.Load("missing.yaml")
	require.Error(t, err)
}

func TestCacheBustsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "c.yaml", "sql: \"SELECT 1\"\n")

	l := NewLoader([]string{dir})
	meta1, err := l.Load("c.yaml")
	require.NoError(t, err)
	require.Equal(t, "SELECT 1", meta1.SQL)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("sql: \"SELECT 2\"\n"), 0o644))
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	meta2, err := l.Load("c.yaml")
	require.NoError(t, err)
	require.Equal(t, "SELECT 2", meta2.SQL)
}
