package session

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeCtx struct {
	closed *int32
}

func (f *fakeCtx) Close() error {
	atomic.AddInt32(f.closed, 1)
	return nil
}

func TestGetOrCreateReusesSession(t *testing.T) {
	closed := int32(0)
	m := NewManager(10, func(id string) (AnalyticalContext, error) {
		return &fakeCtx{closed: &closed}, nil
	}, zerolog.Nop())

	s1, err := m.GetOrCreate("a")
	require.NoError(t, err)
	s2, err := m.GetOrCreate("a")
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.Equal(t, 1, m.Len())
}

func TestFIFOEvictionAtCapacity(t *testing.T) {
	closed := int32(0)
	m := NewManager(2, func(id string) (AnalyticalContext, error) {
		return &fakeCtx{closed: &closed}, nil
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := m.GetOrCreate(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
	}

	require.Equal(t, 2, m.Len())
	require.Equal(t, int32(1), atomic.LoadInt32(&closed))
}

func TestEvictClosesSession(t *testing.T) {
	closed := int32(0)
	m := NewManager(10, func(id string) (AnalyticalContext, error) {
		return &fakeCtx{closed: &closed}, nil
	}, zerolog.Nop())

	_, err := m.GetOrCreate("a")
	require.NoError(t, err)
	m.Evict("a")
	require.Equal(t, 0, m.Len())
	require.Equal(t, int32(1), atomic.LoadInt32(&closed))
}
