package envelope

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/singleflight"

	"github.com/agentmitra/tenancy/pkg/observability"
	"github.com/agentmitra/tenancy/pkg/tenant"
)

const (
	// Algorithm names the record and blob cipher
	Algorithm = "AES-256-GCM"
	// KeyDerivation names the tenant key derivation function
	KeyDerivation = "PBKDF2-HMAC-SHA256"

	// DefaultIterations is the PBKDF2 work factor for tenant keys
	DefaultIterations = 100000
	// DefaultKeyTTL bounds how long a derived key stays cached
	DefaultKeyTTL = time.Hour

	keyLen = 32
)

// TenantResolver confirms that a tenant exists. *tenant.Registry satisfies it.
type TenantResolver interface {
	Lookup(ctx context.Context, tenantID string) (*tenant.Context, error)
}

// Options configures a Service
type Options struct {
	Iterations int
	KeyTTL     time.Duration
	// KeyCacheSize bounds the number of cached tenant keys. Default 4096.
	KeyCacheSize int
	// Resolver, when set, rejects tenants it reports as not found.
	Resolver TenantResolver
	Clock    clockwork.Clock
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

type cachedKey struct {
	key       []byte
	expiresAt time.Time
}

// Service derives per-tenant keys and encrypts record fields and blobs with them
type Service struct {
	source     KeySource
	iterations int
	ttl        time.Duration
	resolver   TenantResolver
	clock      clockwork.Clock
	logger     *observability.Logger
	metrics    *observability.Metrics

	keys  *lru.LRU[string, cachedKey]
	group singleflight.Group

	mu          sync.Mutex
	epoch       uint64
	generations map[string]uint64
	rotatedAt   map[string]time.Time
}

// NewService creates a service reading master key material from source
func NewService(source KeySource, opts Options) *Service {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.KeyTTL <= 0 {
		opts.KeyTTL = DefaultKeyTTL
	}
	if opts.KeyCacheSize <= 0 {
		opts.KeyCacheSize = 4096
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	return &Service{
		source:      source,
		iterations:  opts.Iterations,
		ttl:         opts.KeyTTL,
		resolver:    opts.Resolver,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		keys:        lru.NewLRU[string, cachedKey](opts.KeyCacheSize, nil, opts.KeyTTL),
		generations: make(map[string]uint64),
		rotatedAt:   make(map[string]time.Time),
	}
}

// DeriveKey returns the tenant's 256-bit key, deriving it at most once per
// TTL window however many callers ask concurrently.
func (s *Service) DeriveKey(ctx context.Context, tenantID string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", ErrKeyDerivation)
	}
	if e, ok := s.keys.Get(tenantID); ok && s.clock.Now().Before(e.expiresAt) {
		s.metrics.RecordKeyCacheLookup(true)
		return e.key, nil
	}
	s.metrics.RecordKeyCacheLookup(false)

	epoch, gen := s.fence(tenantID)
	flight := tenantID + "@" + strconv.FormatUint(epoch, 10) + "." + strconv.FormatUint(gen, 10)

	// The derivation is shared by every caller that joins the flight, so it
	// must not end when the caller that started it goes away.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(flight, func() (interface{}, error) {
		master, err := s.source.MasterKey(shared)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
		}
		start := s.clock.Now()
		key := pbkdf2.Key(master, []byte(tenantID), s.iterations, keyLen, sha256.New)
		s.metrics.ObserveKeyDerivation(s.clock.Since(start))

		s.storeKey(tenantID, epoch, gen, key)
		s.logger.WithTenant(tenantID).Debug("tenant key derived")
		return key, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.WithTenant(tenantID).WithError(res.Err).Error("tenant key derivation failed")
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) fence(tenantID string) (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, s.generations[tenantID]
}

// storeKey caches key unless a rotation happened since the derivation began.
func (s *Service) storeKey(tenantID string, epoch, gen uint64, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.generations[tenantID] != gen {
		return
	}
	s.keys.Add(tenantID, cachedKey{key: key, expiresAt: s.clock.Now().Add(s.ttl)})
}

// Rotate drops the tenant's cached key. Existing ciphertext is not
// re-encrypted; the next use derives the key again from the current master key.
func (s *Service) Rotate(ctx context.Context, tenantID string) {
	s.mu.Lock()
	s.generations[tenantID]++
	s.rotatedAt[tenantID] = s.clock.Now()
	s.keys.Remove(tenantID)
	s.mu.Unlock()

	s.logger.WithTenant(tenantID).Info("tenant key rotated")
}

// RotateAll drops every cached key, typically after the master key changed.
func (s *Service) RotateAll() {
	s.mu.Lock()
	s.epoch++
	s.keys.Purge()
	s.mu.Unlock()

	s.logger.Info("all cached tenant keys dropped")
}

// CachedKeys returns the number of tenant keys currently held
func (s *Service) CachedKeys() int {
	return s.keys.Len()
}

// checkTenant confirms the tenant exists when a resolver is configured.
func (s *Service) checkTenant(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return &tenant.NotFoundError{TenantID: tenantID}
	}
	if s.resolver == nil {
		return nil
	}
	if _, err := s.resolver.Lookup(ctx, tenantID); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return err
		}
		// The registry being unreachable must not block decryption of data
		// the caller already holds; key derivation still gates access.
		s.logger.WithTenant(tenantID).WithError(err).Warn("tenant lookup failed, continuing")
	}
	return nil
}

// Status describes the encryption setup for one tenant
type Status struct {
	TenantID        string        `json:"tenant_id"`
	KeyCached       bool          `json:"key_cached"`
	Algorithm       string        `json:"algorithm"`
	KeyDerivation   string        `json:"key_derivation"`
	Iterations      int           `json:"iterations"`
	KeyTTL          time.Duration `json:"key_ttl"`
	SensitiveFields []string      `json:"sensitive_fields"`
	LastRotatedAt   *time.Time    `json:"last_rotated_at,omitempty"`
}

// Status reports the tenant's encryption state without deriving a key
func (s *Service) Status(ctx context.Context, tenantID string) (*Status, error) {
	if err := s.checkTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	st := &Status{
		TenantID:        tenantID,
		Algorithm:       Algorithm,
		KeyDerivation:   KeyDerivation,
		Iterations:      s.iterations,
		KeyTTL:          s.ttl,
		SensitiveFields: SensitiveFields(),
	}
	if e, ok := s.keys.Peek(tenantID); ok && s.clock.Now().Before(e.expiresAt) {
		st.KeyCached = true
	}
	s.mu.Lock()
	if at, ok := s.rotatedAt[tenantID]; ok {
		st.LastRotatedAt = &at
	}
	s.mu.Unlock()
	return st, nil
}
