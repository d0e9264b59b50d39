package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
)

// MemoryStore is a mutex-guarded in-process store. It backs tests and
// embedded deployments that do not need external persistence.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[core.ID]knowledge.Entry
}

var _ Store = (*MemoryStore)(nil)
var _ Writer = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[core.ID]knowledge.Entry)}
}

// Put inserts or replaces an entry. New writes always persist the normalized
// owner key; PutRaw exists for seeding legacy-shaped rows in tests.
func (s *MemoryStore) Put(ctx context.Context, entry knowledge.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	key, err := tenant.Normalize(entry.OwnerKey)
	if err != nil {
		return err
	}
	entry.OwnerKey = string(key)
	s.mu.Lock()
	s.entries[entry.ID] = entry.Clone()
	s.mu.Unlock()
	return nil
}

// PutRaw stores an entry without owner-key normalization. It simulates rows
// written before normalization was enforced and must not be used for new data.
func (s *MemoryStore) PutRaw(entry knowledge.Entry) error {
	if entry.ID.IsZero() {
		return errors.New("store: entry id is required")
	}
	s.mu.Lock()
	s.entries[entry.ID] = entry.Clone()
	s.mu.Unlock()
	return nil
}

// Deactivate soft-deletes an entry.
func (s *MemoryStore) Deactivate(ctx context.Context, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return errors.New("store: entry not found: " + id.String())
	}
	entry.IsActive = false
	s.entries[id] = entry
	return nil
}

// Find returns active entries matching the scope selector and any owner-key
// variant, newest first.
func (s *MemoryStore) Find(ctx context.Context, q Query) ([]knowledge.Entry, error) {
	if err := validateQuery(&q); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []knowledge.Entry
	for id := range s.entries {
		entry := s.entries[id]
		if !entry.IsActive {
			continue
		}
		if !matchesScope(&entry, &q) {
			continue
		}
		if !ownerMatches(entry.OwnerKey, q.OwnerKeys, q.Scope) {
			continue
		}
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ownerMatches applies the variant probe. Thread-scoped entries remain
// reachable with an empty variant set since the thread reference alone
// identifies them; owner-keyed scopes require a variant hit.
func ownerMatches(stored string, keys []tenant.Key, scope knowledge.Scope) bool {
	if scope == knowledge.ScopeThread && len(nonEmpty(keys)) == 0 {
		return true
	}
	return matchesOwner(stored, keys)
}

func nonEmpty(keys []tenant.Key) []tenant.Key {
	out := keys[:0:0]
	for _, k := range keys {
		if strings.TrimSpace(string(k)) != "" {
			out = append(out, k)
		}
	}
	return out
}
