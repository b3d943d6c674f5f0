package tenant

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and Writer, used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	configs map[string]map[string]ConfigEntry
	now     func() time.Time
}

// NewMemoryStore creates a store seeded with tenants
func NewMemoryStore(tenants ...Tenant) *MemoryStore {
	s := &MemoryStore{
		tenants: make(map[string]Tenant),
		configs: make(map[string]map[string]ConfigEntry),
		now:     time.Now,
	}
	for _, t := range tenants {
		s.Put(t)
	}
	return s
}

// Put inserts or replaces a tenant
func (s *MemoryStore) Put(t Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

// GetTenant returns a copy of the stored tenant
func (s *MemoryStore) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, &NotFoundError{TenantID: tenantID}
	}
	return &t, nil
}

// GetConfig returns the config entries of a tenant sorted by key
func (s *MemoryStore) GetConfig(ctx context.Context, tenantID string) ([]ConfigEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]ConfigEntry, 0, len(s.configs[tenantID]))
	for _, e := range s.configs[tenantID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// SetStatus changes the status of a tenant
func (s *MemoryStore) SetStatus(ctx context.Context, tenantID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return &NotFoundError{TenantID: tenantID}
	}
	t.Status = status
	t.UpdatedAt = s.now()
	s.tenants[tenantID] = t
	return nil
}

// UpsertConfig sets a config entry, replacing any entry with the same key
func (s *MemoryStore) UpsertConfig(ctx context.Context, tenantID string, entry ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[tenantID]; !ok {
		return &NotFoundError{TenantID: tenantID}
	}
	if s.configs[tenantID] == nil {
		s.configs[tenantID] = make(map[string]ConfigEntry)
	}
	s.configs[tenantID][entry.Key] = entry
	return nil
}
