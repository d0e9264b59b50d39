package store

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
)

const (
	cacheNumCountersFactor = 10
	cacheBufferItems       = 64
	defaultCacheTTL        = 5 * time.Minute
)

// CachedStore is a read-through decorator in front of any Store. Writes
// routed through it invalidate the cache, so the retrieval engine stays
// cache-agnostic and the cache never serves entries past a mutation.
type CachedStore struct {
	inner  Store
	writer Writer
	cache  *ristretto.Cache[string, []knowledge.Entry]
	ttl    time.Duration
}

var _ Store = (*CachedStore)(nil)
var _ Writer = (*CachedStore)(nil)

// CacheOptions sizes the decorator.
type CacheOptions struct {
	MaxEntries int64
	TTL        time.Duration
}

// NewCachedStore wraps inner with a ristretto-backed result cache. When inner
// also implements Writer, writes pass through and invalidate cached results.
func NewCachedStore(inner Store, opts CacheOptions) (*CachedStore, error) {
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []knowledge.Entry]{
		NumCounters: maxEntries * cacheNumCountersFactor,
		MaxCost:     maxEntries,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, err
	}
	writer, _ := inner.(Writer)
	return &CachedStore{inner: inner, writer: writer, cache: cache, ttl: ttl}, nil
}

func cacheKey(q *Query) string {
	var sb strings.Builder
	sb.WriteString(string(q.Scope))
	sb.WriteByte('\x1f')
	sb.WriteString(q.ScopeRef)
	for _, key := range q.OwnerKeys {
		sb.WriteByte('\x1f')
		sb.WriteString(string(key))
	}
	return sb.String()
}

// Find serves from cache when possible and falls through to the inner store.
// Store failures are never cached.
func (s *CachedStore) Find(ctx context.Context, q Query) ([]knowledge.Entry, error) {
	key := cacheKey(&q)
	if cached, ok := s.cache.Get(key); ok {
		out := make([]knowledge.Entry, len(cached))
		for i := range cached {
			out[i] = cached[i].Clone()
		}
		return out, nil
	}
	entries, err := s.inner.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	stored := make([]knowledge.Entry, len(entries))
	for i := range entries {
		stored[i] = entries[i].Clone()
	}
	s.cache.SetWithTTL(key, stored, int64(len(stored))+1, s.ttl)
	return entries, nil
}

// Put writes through and invalidates cached results.
func (s *CachedStore) Put(ctx context.Context, entry knowledge.Entry) error {
	if s.writer == nil {
		return knowledge.ErrStoreUnavailable
	}
	if err := s.writer.Put(ctx, entry); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Deactivate writes through and invalidates cached results.
func (s *CachedStore) Deactivate(ctx context.Context, id core.ID) error {
	if s.writer == nil {
		return knowledge.ErrStoreUnavailable
	}
	if err := s.writer.Deactivate(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

// Invalidate drops every cached result. Mutations are rare relative to reads
// in this system, so whole-cache invalidation keeps correctness simple.
func (s *CachedStore) Invalidate() {
	s.cache.Clear()
}

// Wait flushes pending cache writes. Tests use it for deterministic reads.
func (s *CachedStore) Wait() {
	s.cache.Wait()
}

// Close releases the cache resources.
func (s *CachedStore) Close() {
	s.cache.Close()
}
