package rbac

import (
	"context"
	"sort"
	"sync"
)

type grantKey struct {
	tenantID string
	userID   string
}

// MemoryGrantStore is an in-process GrantStore and GrantWriter
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[grantKey]Grant
}

// NewMemoryGrantStore creates a store seeded with grants
func NewMemoryGrantStore(grants ...Grant) *MemoryGrantStore {
	s := &MemoryGrantStore{grants: make(map[grantKey]Grant)}
	for _, g := range grants {
		s.grants[grantKey{g.TenantID, g.UserID}] = *g.Clone()
	}
	return s
}

// GetGrant returns a copy of the stored grant
func (s *MemoryGrantStore) GetGrant(ctx context.Context, tenantID, userID string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey{tenantID, userID}]
	if !ok {
		return nil, nil
	}
	return g.Clone(), nil
}

// ListGrants returns the user's grants ordered by tenant id
func (s *MemoryGrantStore) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for k, g := range s.grants {
		if k.userID == userID {
			out = append(out, *g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// UpsertGrant creates or replaces a grant
func (s *MemoryGrantStore) UpsertGrant(ctx context.Context, grant Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[grantKey{grant.TenantID, grant.UserID}] = *grant.Clone()
	return nil
}

// DeactivateGrant marks a grant inactive; missing grants are ignored
func (s *MemoryGrantStore) DeactivateGrant(ctx context.Context, tenantID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := grantKey{tenantID, userID}
	if g, ok := s.grants[k]; ok {
		g.Active = false
		s.grants[k] = g
	}
	return nil
}
