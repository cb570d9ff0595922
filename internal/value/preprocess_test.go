package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func withFrozenNow(t *testing.T, d string) {
	t.Helper()
	frozen, err := time.Parse(yyyymmdd, d)
	require.NoError(t, err)
	old := NowFunc
	NowFunc = func() time.Time { return frozen }
	t.Cleanup(func() { NowFunc = old })
}

func TestPreprocessRelativeDate(t *testing.T) {
	withFrozenNow(t, "20240115")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plus days", "20240115 +1d", "20240116"},
		{"minus days", "20240115 -1d", "20240114"},
		{"now template minus one day", "{{now}} -1d", "20240114"},
		{"plus weeks", "20240115 +1w", "20240122"},
		{"plus months is 30 day approx", "20240115 +1m", "20240214"},
		{"unparseable passthrough", "not-a-date", "not-a-date"},
		{"bare now", "{{now}}", "20240115"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Preprocess(tc.in))
		})
	}
}

func TestAddDays(t *testing.T) {
	require.Equal(t, "20240116", AddDays("20240115", 1))
	require.Equal(t, "2024-01-16", AddDays("2024-01-15", 1))
	require.Equal(t, "not-a-date", AddDays("not-a-date", 1))
}
