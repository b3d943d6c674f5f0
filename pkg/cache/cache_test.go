package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// downTransport fails every call, like an unreachable Redis.
type downTransport struct{}

var errDown = errors.New("dial tcp: connection refused")

func (downTransport) Get(context.Context, string) ([]byte, error) { return nil, errDown }

func (downTransport) Set(context.Context, string, []byte, time.Duration) error { return errDown }

func (downTransport) Delete(context.Context, ...string) error { return errDown }

func (downTransport) DeletePrefix(context.Context, string) (int, error) { return 0, errDown }

func (downTransport) Ping(context.Context) error { return errDown }

func newTestCache(t *testing.T) (*Cache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return New(NewMemoryTransport(100, clock), Options{Namespace: "test", DefaultTTL: time.Minute}), clock
}

type lead struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "acme", "lead:1", lead{Name: "Asha", Score: 7}, 0))

	var got lead
	found, err := c.Get(ctx, "acme", "lead:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, lead{Name: "Asha", Score: 7}, got)

	found, err = c.Get(ctx, "acme", "lead:2", &got)
	require.NoError(t, err)
	assert.False(t, found)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestCache_TenantIsolation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "tenant-a", "quote:1", "a-value", 0))
	require.NoError(t, c.Set(ctx, "tenant-b", "quote:1", "b-value", 0))

	var got string
	found, err := c.Get(ctx, "tenant-b", "quote:1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b-value", got)

	_, err = c.InvalidatePrefix(ctx, "tenant-a", "quote:")
	require.NoError(t, err)

	found, _ = c.Get(ctx, "tenant-b", "quote:1", &got)
	assert.True(t, found, "prefix invalidation for tenant-a must not touch tenant-b")

	found, _ = c.Get(ctx, "tenant-c", "quote:1", &got)
	assert.False(t, found)
}

func TestCache_RejectsDelimiter(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	// "a|b" + "c" and "a" + "b|c" would otherwise collide
	err := c.Set(ctx, "a|b", "c", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidKey)
	err = c.Set(ctx, "a", "b|c", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = c.Get(ctx, "", "k", new(int))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = c.Get(ctx, "a", "", new(int))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = c.InvalidatePrefix(ctx, "a", "x|")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t)

	require.NoError(t, c.Set(ctx, "acme", "short", "v", 10*time.Second))
	require.NoError(t, c.Set(ctx, "acme", "default", "v", 0))

	clock.Advance(11 * time.Second)
	var v string
	found, _ := c.Get(ctx, "acme", "short", &v)
	assert.False(t, found)
	found, _ = c.Get(ctx, "acme", "default", &v)
	assert.True(t, found)

	clock.Advance(time.Minute)
	found, _ = c.Get(ctx, "acme", "default", &v)
	assert.False(t, found)
}

func TestCache_InvalidateEntity(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	for _, k := range []string{"lead:1", "lead:2", "lead_list:page1", "lead_list:page2", "campaign_list:all"} {
		require.NoError(t, c.Set(ctx, "acme", k, k, 0))
	}

	require.NoError(t, c.InvalidateEntity(ctx, "acme", "lead", "1"))

	var v string
	for k, want := range map[string]bool{
		"lead:1":            false,
		"lead:2":            true,
		"lead_list:page1":   false,
		"lead_list:page2":   false,
		"campaign_list:all": true,
	} {
		found, _ := c.Get(ctx, "acme", k, &v)
		assert.Equal(t, want, found, k)
	}

	assert.ErrorIs(t, c.InvalidateEntity(ctx, "acme", "", "1"), ErrInvalidKey)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, "acme", "a", 1, 0))
	require.NoError(t, c.Set(ctx, "acme", "b", 2, 0))
	require.NoError(t, c.Set(ctx, "globex", "a", 3, 0))

	n, err := c.Clear(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var v int
	found, _ := c.Get(ctx, "globex", "a", &v)
	assert.True(t, found)
}

func TestCache_UnavailableDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	c := New(downTransport{}, Options{})

	assert.NoError(t, c.Set(ctx, "acme", "k", "v", 0))

	var v string
	found, err := c.Get(ctx, "acme", "k", &v)
	assert.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, c.Invalidate(ctx, "acme", "k"))
	n, err := c.InvalidatePrefix(ctx, "acme", "")
	assert.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, c.Purge(ctx, "acme", "k"), ErrUnavailable)
	assert.Error(t, c.Ping(ctx))
	assert.Equal(t, int64(5), c.Stats().Errors)

	calls := 0
	got, err := GetOrCompute(ctx, c, "acme", "k", 0, func(context.Context) (string, error) {
		calls++
		return "computed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "computed", got)
	assert.Equal(t, 1, calls)
}

func TestCache_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	transport := NewMemoryTransport(10, nil)
	c := New(transport, Options{Namespace: "test"})

	pk, err := PhysicalKey("test", "acme", "k")
	require.NoError(t, err)
	require.NoError(t, transport.Set(ctx, pk, []byte("{not json"), 0))

	var v lead
	found, err := c.Get(ctx, "acme", "k", &v)
	require.NoError(t, err)
	assert.False(t, found)
	_, err = transport.Get(ctx, pk)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCache_SetMarshalError(t *testing.T) {
	c, _ := newTestCache(t)
	err := c.Set(context.Background(), "acme", "k", make(chan int), 0)
	assert.Error(t, err)
}

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	calls := 0
	compute := func(context.Context) (lead, error) {
		calls++
		return lead{Name: "Ravi", Score: calls}, nil
	}

	first, err := GetOrCompute(ctx, c, "acme", "lead:9", 0, compute)
	require.NoError(t, err)
	second, err := GetOrCompute(ctx, c, "acme", "lead:9", 0, compute)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)

	t.Run("compute error is not cached", func(t *testing.T) {
		boom := errors.New("store down")
		_, err := GetOrCompute(ctx, c, "acme", "lead:10", 0, func(context.Context) (lead, error) {
			return lead{}, boom
		})
		assert.ErrorIs(t, err, boom)

		var v lead
		found, _ := c.Get(ctx, "acme", "lead:10", &v)
		assert.False(t, found)
	})
}

func TestGetOrCompute_Concurrent(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t)

	const callers = 32
	var computed sync.Map
	var calls atomic.Int32

	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := GetOrCompute(ctx, c, "acme", "hot", 0, func(context.Context) (string, error) {
				calls.Add(1)
				val := fmt.Sprintf("value-%d", i)
				computed.Store(val, true)
				return val, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	for _, r := range results {
		_, ok := computed.Load(r)
		assert.True(t, ok, "caller got %q which nobody computed", r)
	}

	var final string
	found, err := c.Get(ctx, "acme", "hot", &final)
	require.NoError(t, err)
	require.True(t, found)
	_, ok := computed.Load(final)
	assert.True(t, ok, "cache holds %q which nobody computed", final)
}
