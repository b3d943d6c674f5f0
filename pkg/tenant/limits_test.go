package tenant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmitra/tenancy/pkg/cache"
)

func newSharedCache(t cache.Transport) *cache.Cache {
	return cache.New(t, cache.Options{Namespace: "test"})
}

func TestLimiter_Check(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))

	var counts atomic.Int32
	usage := map[string]int64{ResourceUsers: 4}
	counter := UsageFunc(func(ctx context.Context, tenantID, resource string) (int64, error) {
		counts.Add(1)
		return usage[resource], nil
	})
	limiter := NewLimiter(f.registry, counter, f.shared, 0, nil, nil)

	require.NoError(t, limiter.Check(ctx, "acme", ResourceUsers, 1))

	err := limiter.Check(ctx, "acme", ResourceUsers, 2)
	var le *LimitExceededError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, int64(4), le.Current)
	assert.Equal(t, int64(5), le.Limit)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	// usage is memoized
	assert.Equal(t, int32(1), counts.Load())

	usage[ResourceUsers] = 5
	require.NoError(t, limiter.Reset(ctx, "acme", ResourceUsers))
	assert.ErrorIs(t, limiter.Check(ctx, "acme", ResourceUsers, 1), ErrLimitExceeded)
	assert.Equal(t, int32(2), counts.Load())
}

func TestLimiter_Unlimited(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))
	counter := UsageFunc(func(context.Context, string, string) (int64, error) {
		t.Fatal("counter must not be consulted for unlimited resources")
		return 0, nil
	})
	limiter := NewLimiter(f.registry, counter, nil, 0, nil, nil)

	assert.NoError(t, limiter.Check(ctx, "acme", ResourceStorageGB, 100))
	assert.NoError(t, limiter.Check(ctx, "acme", "policies", 1))
}

func TestLimiter_FailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))
	boom := errors.New("count query failed")
	limiter := NewLimiter(f.registry, UsageFunc(func(context.Context, string, string) (int64, error) {
		return 0, boom
	}), f.shared, 0, nil, nil)

	err := limiter.Check(ctx, "acme", ResourceUsers, 1)
	assert.ErrorIs(t, err, boom)

	err = limiter.Check(ctx, "ghost", ResourceUsers, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
