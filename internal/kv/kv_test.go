package kv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	*MemoryStore
	mu   sync.Mutex
	sets map[string]int
	fail bool
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore(), sets: map[string]int{}}
}

func (c *countingStore) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	c.sets[key]++
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return c.MemoryStore.Set(ctx, key, value)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte("v")))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var out map[string]int
	found, err := GetJSON(ctx, s, KeyLastRead, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, KeyLastRead, []byte(`{"c1":42}`)))
	found, err = GetJSON(ctx, s, KeyLastRead, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, out["c1"])

	require.NoError(t, s.Set(ctx, KeyLastRead, []byte(`{`)))
	_, err = GetJSON(ctx, s, KeyLastRead, &out)
	assert.Error(t, err)
}

func TestWriterKeepsLatestValue(t *testing.T) {
	store := newCountingStore()
	w := NewWriter(store, zerolog.Nop())

	for i := 0; i < 100; i++ {
		w.Put(KeyFavorites, []int{i})
	}
	w.Close()

	var got []int
	found, err := GetJSON(context.Background(), store, KeyFavorites, &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{99}, got)
	assert.LessOrEqual(t, store.sets[KeyFavorites], 100)
}

func TestWriterSwallowsFailures(t *testing.T) {
	store := newCountingStore()
	store.fail = true
	w := NewWriter(store, zerolog.Nop())

	w.Put(KeyHeadsCache, map[string]string{"a": "b"})
	w.Flush(context.Background())
	w.Close()

	_, err := store.Get(context.Background(), KeyHeadsCache)
	assert.ErrorIs(t, err, ErrNotFound)
}
