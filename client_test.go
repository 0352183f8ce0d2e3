package minicache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SetGet(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "foo", Value: []byte("bar"), Flags: 42}))

	item, err := client.Get(ctx, "foo")
	require.NoError(t, err)
	assert.True(t, item.Found)
	assert.Equal(t, []byte("bar"), item.Value)
	assert.Equal(t, uint32(42), item.Flags)
	assert.Zero(t, item.CAS, "get does not expose the cas token")

	item, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, item.Found)
}

func TestClient_BinaryValue(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	value := []byte("line1\r\nline2\nEND\r\n\x00")
	require.NoError(t, client.Set(ctx, Item{Key: "bin", Value: value}))

	item, err := client.Get(ctx, "bin")
	require.NoError(t, err)
	assert.Equal(t, value, item.Value)
}

func TestClient_ConditionalWrites(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.ErrorIs(t, client.Replace(ctx, Item{Key: "k", Value: []byte("x")}), ErrNotStored)
	require.ErrorIs(t, client.Append(ctx, Item{Key: "k", Value: []byte("x")}), ErrNotStored)
	require.ErrorIs(t, client.Prepend(ctx, Item{Key: "k", Value: []byte("x")}), ErrNotStored)

	require.NoError(t, client.Add(ctx, Item{Key: "k", Value: []byte("A")}))
	require.ErrorIs(t, client.Add(ctx, Item{Key: "k", Value: []byte("other")}), ErrNotStored)

	require.NoError(t, client.Append(ctx, Item{Key: "k", Value: []byte("B")}))
	require.NoError(t, client.Prepend(ctx, Item{Key: "k", Value: []byte("X")}))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "XAB", string(item.Value))

	require.NoError(t, client.Replace(ctx, Item{Key: "k", Value: []byte("new")}))
	item, err = client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(item.Value))
}

func TestClient_CompareAndSwap(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v1")}))

	item, err := client.Gets(ctx, "k")
	require.NoError(t, err)
	require.NotZero(t, item.CAS)

	item.Value = []byte("v2")
	require.NoError(t, client.CompareAndSwap(ctx, item))

	// The token changed with the write
	item.Value = []byte("v3")
	require.ErrorIs(t, client.CompareAndSwap(ctx, item), ErrCASConflict)

	got, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Value))

	require.ErrorIs(t, client.CompareAndSwap(ctx, Item{Key: "gone", CAS: 1}), ErrNotFound)
}

func TestClient_Delete(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	require.NoError(t, client.Delete(ctx, "k"))
	require.NoError(t, client.Delete(ctx, "k"))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, item.Found)
}

func TestClient_TTL(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v"), TTL: 50 * time.Millisecond}))

	item, err := client.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, item.Found)

	require.Eventually(t, func() bool {
		item, err := client.Get(ctx, "k")
		return err == nil && !item.Found
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_InvalidKey(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	_, err := client.Get(ctx, "bad key")
	require.Error(t, err)

	// The connection stays usable
	require.NoError(t, client.Set(ctx, Item{Key: "good", Value: []byte("v")}))
	assert.Equal(t, uint64(1), client.Stats().Errors)
}

func TestClient_MultipleServers(t *testing.T) {
	ts1 := startTestServer(t)
	ts2 := startTestServer(t)
	client := newTestClient(t, Config{}, ts1.addr, ts2.addr)
	ctx := context.Background()

	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		require.NoError(t, client.Set(ctx, Item{Key: keys[i], Value: []byte(keys[i])}))
	}

	// Keys are spread and each lives on exactly one server
	assert.NotZero(t, ts1.store.Len())
	assert.NotZero(t, ts2.store.Len())
	assert.Equal(t, len(keys), ts1.store.Len()+ts2.store.Len())

	items, err := client.MultiGet(ctx, append(keys, "missing"))
	require.NoError(t, err)
	require.Len(t, items, len(keys)+1)
	for i, key := range keys {
		assert.True(t, items[i].Found, key)
		assert.Equal(t, key, items[i].Key)
		assert.Equal(t, key, string(items[i].Value))
	}
	assert.False(t, items[len(keys)].Found)

	assert.Len(t, client.AllPoolStats(), 2)
}

func TestClient_SelectServer(t *testing.T) {
	ts1 := startTestServer(t)
	ts2 := startTestServer(t)
	client := newTestClient(t, Config{SelectServer: staticSelector(1)}, ts1.addr, ts2.addr)
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, client.Set(ctx, Item{Key: fmt.Sprintf("k%d", i), Value: []byte("v")}))
	}

	assert.Zero(t, ts1.store.Len())
	assert.Equal(t, 10, ts2.store.Len())
}

func TestClient_Stats(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
	_, err := client.Get(ctx, "k")
	require.NoError(t, err)
	_, err = client.Get(ctx, "missing")
	require.NoError(t, err)
	require.ErrorIs(t, client.Add(ctx, Item{Key: "k"}), ErrNotStored)

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Sets)
	assert.Equal(t, uint64(2), stats.Gets)
	assert.Equal(t, uint64(1), stats.GetHits)
	assert.Equal(t, uint64(1), stats.Adds)
	assert.Equal(t, uint64(1), stats.NotStored)
	assert.Zero(t, stats.Errors)

	poolStats := client.AllPoolStats()
	require.Len(t, poolStats, 1)
	assert.Equal(t, ts.addr, poolStats[0].Addr)
	assert.Equal(t, uint64(1), poolStats[0].PoolStats.CreatedConns)
}

func TestClient_HealthCheck(t *testing.T) {
	ts := startTestServer(t)
	ctx := context.Background()

	t.Run("healthy connections are kept", func(t *testing.T) {
		client := newTestClient(t, Config{}, ts.addr)
		require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))

		client.checkAllPools()

		stats := client.AllPoolStats()[0].PoolStats
		assert.Equal(t, int32(1), stats.IdleConns)
		assert.Zero(t, stats.DestroyedConns)
	})

	t.Run("old connections are destroyed", func(t *testing.T) {
		client := newTestClient(t, Config{MaxConnLifetime: time.Nanosecond}, ts.addr)
		require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))
		time.Sleep(time.Millisecond)

		client.checkAllPools()

		require.Eventually(t, func() bool {
			return client.AllPoolStats()[0].PoolStats.DestroyedConns == 1
		}, time.Second, time.Millisecond)
	})

	t.Run("background loop", func(t *testing.T) {
		client := newTestClient(t, Config{
			MaxConnIdleTime:     time.Millisecond,
			HealthCheckInterval: 10 * time.Millisecond,
		}, ts.addr)
		require.NoError(t, client.Set(ctx, Item{Key: "k", Value: []byte("v")}))

		require.Eventually(t, func() bool {
			return client.AllPoolStats()[0].PoolStats.DestroyedConns == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := newTestClient(t, Config{
		NewCircuitBreaker: NewCircuitBreakerConfig(1, time.Minute, time.Minute),
	}, unusedAddr(t))
	ctx := context.Background()

	for range 3 {
		_, err := client.Get(ctx, "k")
		require.Error(t, err)
	}

	stats := client.AllPoolStats()
	require.Len(t, stats, 1)
	assert.Equal(t, gobreaker.StateOpen, stats[0].CircuitBreakerState)

	_, err := client.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	_, err = client.MultiGet(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestClient_ContextTimeout(t *testing.T) {
	ts := startTestServer(t)
	client := newTestClient(t, Config{}, ts.addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_Close(t *testing.T) {
	ts := startTestServer(t)
	client, err := NewClient(NewStaticServers(ts.addr), Config{HealthCheckInterval: time.Hour})
	require.NoError(t, err)

	require.NoError(t, client.Set(context.Background(), Item{Key: "k", Value: []byte("v")}))

	client.Close()
	client.Close()
}
