package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/logger"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	values  map[combination.Triple]string
	failGet bool
	failSet bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[combination.Triple]string)}
}

func (s *memoryStore) Get(_ context.Context, triple combination.Triple) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet {
		return "", false, errors.New("store down")
	}
	value, ok := s.values[triple]
	return value, ok, nil
}

func (s *memoryStore) Set(_ context.Context, triple combination.Triple, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet {
		return errors.New("store down")
	}
	s.values[triple] = value
	return nil
}

func newTestCache(t *testing.T, remote Store) (*Cache, *int64) {
	l, err := logger.CreateLogger("error")
	require.NoError(t, err)

	var calls int64
	c := NewCache(remote, l)
	c.compute = func(a, b, c int) string {
		atomic.AddInt64(&calls, 1)
		return fmt.Sprintf("fp-%d-%d-%d", a, b, c)
	}
	return c, &calls
}

func TestCacheComputesOnce(t *testing.T) {
	c, calls := newTestCache(t, nil)
	triple := combination.Triple{A: 1, B: 2, C: 3}

	assert.Equal(t, "fp-1-2-3", c.Get(context.Background(), triple))
	assert.Equal(t, "fp-1-2-3", c.Get(context.Background(), triple))
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestCacheUsesRealComputation(t *testing.T) {
	l, err := logger.CreateLogger("error")
	require.NoError(t, err)

	c := NewCache(nil, l)
	assert.Equal(t, Compute(2, 3, 4), c.Get(context.Background(), combination.Triple{A: 2, B: 3, C: 4}))
}

func TestCacheConcurrentCallersShareComputation(t *testing.T) {
	c, calls := newTestCache(t, nil)
	triple := combination.Triple{A: 4, B: 5, C: 6}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "fp-4-5-6", c.Get(context.Background(), triple))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(calls), int64(16))
	assert.GreaterOrEqual(t, atomic.LoadInt64(calls), int64(1))
	assert.Equal(t, "fp-4-5-6", c.Get(context.Background(), triple))
}

func TestCacheRemoteStore(t *testing.T) {
	t.Run("Remote hit skips computation", func(t *testing.T) {
		remote := newMemoryStore()
		remote.values[combination.Triple{A: 1, B: 1, C: 1}] = "shared"
		c, calls := newTestCache(t, remote)

		assert.Equal(t, "shared", c.Get(context.Background(), combination.Triple{A: 1, B: 1, C: 1}))
		assert.Equal(t, int64(0), atomic.LoadInt64(calls))
	})

	t.Run("Miss is written back", func(t *testing.T) {
		remote := newMemoryStore()
		c, calls := newTestCache(t, remote)

		assert.Equal(t, "fp-2-2-2", c.Get(context.Background(), combination.Triple{A: 2, B: 2, C: 2}))
		assert.Equal(t, int64(1), atomic.LoadInt64(calls))
		assert.Equal(t, "fp-2-2-2", remote.values[combination.Triple{A: 2, B: 2, C: 2}])
	})

	t.Run("Remote failures fall back to computing", func(t *testing.T) {
		remote := newMemoryStore()
		remote.failGet = true
		remote.failSet = true
		c, calls := newTestCache(t, remote)

		assert.Equal(t, "fp-3-3-3", c.Get(context.Background(), combination.Triple{A: 3, B: 3, C: 3}))
		assert.Equal(t, int64(1), atomic.LoadInt64(calls))
	})
}

func TestCacheBatch(t *testing.T) {
	c, calls := newTestCache(t, nil)
	triples := []combination.Triple{{A: 1, B: 1, C: 1}, {A: 1, B: 1, C: 2}, {A: 1, B: 1, C: 1}, {A: 2, B: 2, C: 2}}

	result, err := c.Batch(context.Background(), triples)
	require.NoError(t, err)
	assert.Len(t, result, 3)
	assert.Equal(t, "fp-1-1-2", result[combination.Triple{A: 1, B: 1, C: 2}])
	assert.Equal(t, int64(3), atomic.LoadInt64(calls))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Batch(ctx, []combination.Triple{{A: 9, B: 9, C: 9}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	triple := combination.Triple{A: 1, B: 2, C: 3}

	mock.ExpectGet("fingerprint:1-2-3").RedisNil()
	_, found, err := store.Get(context.Background(), triple)
	require.NoError(t, err)
	assert.False(t, found)

	mock.ExpectSet("fingerprint:1-2-3", "abc", 0).SetVal("OK")
	require.NoError(t, store.Set(context.Background(), triple, "abc"))

	mock.ExpectGet("fingerprint:1-2-3").SetVal("abc")
	value, found, err := store.Get(context.Background(), triple)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", value)

	mock.ExpectGet("fingerprint:1-2-3").SetErr(errors.New("connection refused"))
	_, _, err = store.Get(context.Background(), triple)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
