package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmitra/tenancy/pkg/cache"
)

// countingStore counts reads and can block GetTenant until released.
type countingStore struct {
	*MemoryStore
	reads   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *countingStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	s.reads.Add(1)
	t, err := s.MemoryStore.GetTenant(ctx, id)
	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	return t, err
}

// flakyTransport fails deletes on demand.
type flakyTransport struct {
	*cache.MemoryTransport
	failDeletes atomic.Bool
}

func (f *flakyTransport) Delete(ctx context.Context, keys ...string) error {
	if f.failDeletes.Load() {
		return errors.New("redis: connection pool timeout")
	}
	return f.MemoryTransport.Delete(ctx, keys...)
}

func activeTenant(id string, plan Plan) Tenant {
	return Tenant{ID: id, Code: id, Name: id, Status: StatusActive, Plan: plan, Limits: Limits{MaxUsers: 5}}
}

type registryFixture struct {
	store     *countingStore
	transport *cache.MemoryTransport
	shared    *cache.Cache
	clock     *clockwork.FakeClock
	registry  *Registry
}

func newRegistryFixture(t *testing.T, tenants ...Tenant) *registryFixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	transport := cache.NewMemoryTransport(100, clock)
	shared := cache.New(transport, cache.Options{Namespace: "test"})
	store := &countingStore{MemoryStore: NewMemoryStore(tenants...)}
	return &registryFixture{
		store:     store,
		transport: transport,
		shared:    shared,
		clock:     clock,
		registry:  NewRegistry(store, shared, RegistryOptions{TTL: 5 * time.Minute, Clock: clock}),
	}
}

func TestRegistry_ResolveTiers(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))

	tc, err := f.registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.ID())
	assert.Equal(t, int32(1), f.store.reads.Load())

	// tier 1
	_, err = f.registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.store.reads.Load())

	// tier 2: a second registry sharing the cache
	other := NewRegistry(f.store, f.shared, RegistryOptions{Clock: f.clock})
	tc2, err := other.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.store.reads.Load())
	assert.Equal(t, tc.Features.Enabled, tc2.Features.Enabled)

	// both tiers expire
	f.clock.Advance(6 * time.Minute)
	_, err = f.registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.store.reads.Load())
}

func TestRegistry_NotFound(t *testing.T) {
	f := newRegistryFixture(t)

	_, err := f.registry.Resolve(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.TenantID)

	_, err = f.registry.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ProfessionalWithCampaigns(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanProfessional))
	require.NoError(t, f.store.UpsertConfig(ctx, "acme", ConfigEntry{Key: FeatureOverrideKey, Type: ConfigList, Value: []string{"campaigns"}}))

	tc, err := f.registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user_management", "policy_management", "advanced_reporting", "campaigns", "api_access"}, tc.Features.Enabled)
	assert.Equal(t, []string{"campaigns"}, tc.Features.Overrides)

	// the copy served from the shared tier decodes to the same features
	other := NewRegistry(f.store, f.shared, RegistryOptions{Clock: f.clock})
	tc2, err := other.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, tc.Features, tc2.Features)
}

func TestRegistry_SuspendThenInvalidate(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))

	_, err := f.registry.Resolve(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, f.store.SetStatus(ctx, "acme", StatusSuspended))
	require.NoError(t, f.registry.Invalidate(ctx, "acme"))

	_, err = f.registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, ErrInactive)
	assert.False(t, errors.Is(err, ErrNotFound))

	tc, err := f.registry.Lookup(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, tc.Tenant.Status)
}

func TestRegistry_ExpiredTrialIsInactive(t *testing.T) {
	f := newRegistryFixture(t)
	end := f.clock.Now().Add(time.Hour)
	f.store.Put(Tenant{ID: "trialco", Status: StatusTrial, Plan: PlanBasic, TrialEndsAt: &end})

	_, err := f.registry.Resolve(context.Background(), "trialco")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.registry.Resolve(context.Background(), "trialco")
	var ie *InactiveError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, StatusTrial, ie.Status)
}

func TestRegistry_InvalidateFencesInflightLoad(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))
	f.store.entered = make(chan struct{})
	f.store.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.registry.Resolve(ctx, "acme")
		done <- err
	}()

	// the load has read the active tenant and is about to populate the caches
	<-f.store.entered
	require.NoError(t, f.store.SetStatus(ctx, "acme", StatusSuspended))
	require.NoError(t, f.registry.Invalidate(ctx, "acme"))
	f.store.entered = nil
	close(f.store.release)
	require.NoError(t, <-done)

	_, err := f.registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, ErrInactive, "a load that started before the invalidation must not be served afterwards")
}

func TestRegistry_SharedPurgeFailureBypassesSharedTier(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	transport := &flakyTransport{MemoryTransport: cache.NewMemoryTransport(100, clock)}
	shared := cache.New(transport, cache.Options{Namespace: "test"})
	store := NewMemoryStore(activeTenant("acme", PlanBasic))
	registry := NewRegistry(store, shared, RegistryOptions{TTL: time.Minute, Clock: clock})

	_, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, "acme", StatusSuspended))
	transport.failDeletes.Store(true)
	err = registry.Invalidate(ctx, "acme")
	require.Error(t, err)
	assert.ErrorIs(t, err, cache.ErrUnavailable)

	// the shared tier still holds the active context; it must not be served
	_, err = registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, ErrInactive)

	// after one TTL window the shared tier is read again
	transport.failDeletes.Store(false)
	clock.Advance(2 * time.Minute)
	_, err = registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, ErrInactive)
}

func TestRegistry_InProcessOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(activeTenant("acme", PlanBasic))
	registry := NewRegistry(store, nil, RegistryOptions{})

	_, err := registry.Resolve(ctx, "acme")
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, "acme", StatusCancelled))
	require.NoError(t, registry.Invalidate(ctx, "acme"))

	_, err = registry.Resolve(ctx, "acme")
	assert.ErrorIs(t, err, ErrInactive)
	assert.NoError(t, registry.Listen(ctx))
}

func TestRegistry_ListenAppliesRemoteInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newRegistryFixture(t, activeTenant("acme", PlanBasic))
	remote := NewRegistry(f.store, f.shared, RegistryOptions{Clock: f.clock})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = remote.Listen(ctx)
	}()
	require.Eventually(t, func() bool {
		return f.transport.Subscribers("test"+InvalidationChannel) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := remote.Resolve(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, f.store.SetStatus(ctx, "acme", StatusSuspended))
	require.NoError(t, f.registry.Invalidate(ctx, "acme"))

	require.Eventually(t, func() bool {
		_, err := remote.Resolve(ctx, "acme")
		return errors.Is(err, ErrInactive)
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()
}

func TestRegistry_Warm(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(t, activeTenant("a", PlanBasic), activeTenant("b", PlanEnterprise), activeTenant("c", PlanProfessional))

	require.NoError(t, f.registry.Warm(ctx, "a", "b", "c", "ghost"))
	assert.Equal(t, 3, f.registry.Len())

	reads := f.store.reads.Load()
	_, err := f.registry.Resolve(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, reads, f.store.reads.Load())
}
