package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	m, err := NewMemory(8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	b, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), b)

	b[0] = 'x'
	b, _, _ = m.Get(ctx, "a")
	assert.Equal(t, []byte("1"), b, "returned slice must not alias the entry")

	require.NoError(t, m.Delete(ctx, "a", "missing"))
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	m, err := NewMemory(8)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Minute))
	_, ok, _ := m.Get(ctx, "a")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_Bounded(t *testing.T) {
	m, err := NewMemory(2)
	require.NoError(t, err)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m.Set(ctx, k, []byte(k), 0))
	}
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	m, err := NewMemory(8)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, m, "ids", []int64{3, 1}, 0))

	var got []int64
	ok, err := GetJSON(ctx, m, "ids", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int64{3, 1}, got)

	ok, err = GetJSON(ctx, m, "nope", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), 0))
	_, err = GetJSON(ctx, m, "bad", &got)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var c Cache = Nop{}
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, c.Delete(ctx, "a"))
}
