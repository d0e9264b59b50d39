// Package store defines the knowledge persistence contract consumed by the
// retrieval engine, plus the in-memory, redis, and postgres implementations.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
)

// Query selects active entries for one scope. OwnerKeys carries the full
// variant set from the tenant normalizer; a row matches when its stored owner
// key equals any variant (logical OR).
type Query struct {
	OwnerKeys []tenant.Key
	Scope     knowledge.Scope
	ScopeRef  string
}

// Store is the read contract consumed by the retrieval engine.
// Implementations must filter is_active server-side and may return
// knowledge.ErrStoreUnavailable (possibly wrapped) on transient failures;
// the engine degrades that scope to empty rather than failing the request.
type Store interface {
	Find(ctx context.Context, q Query) ([]knowledge.Entry, error)
}

// Writer is the mutation contract implemented by persistent backends.
// Deactivate models deletion: entries are never physically removed in the
// hot path, preserving audit history.
type Writer interface {
	Put(ctx context.Context, entry knowledge.Entry) error
	Deactivate(ctx context.Context, id core.ID) error
}

var errEmptyQueryScope = errors.New("store: query scope is required")

func validateQuery(q *Query) error {
	if !q.Scope.IsValid() {
		return errEmptyQueryScope
	}
	return nil
}

// matchesOwner reports whether a stored owner key matches any probe variant.
// Historical rows may hold un-normalized keys, so the normalized form of the
// stored key is compared alongside the exact value.
func matchesOwner(stored string, keys []tenant.Key) bool {
	normalized, err := tenant.Normalize(stored)
	for _, k := range keys {
		if stored == string(k) {
			return true
		}
		if err == nil && normalized == k {
			return true
		}
	}
	return false
}

// matchesScope reports whether an entry satisfies the scope selector.
func matchesScope(e *knowledge.Entry, q *Query) bool {
	if e.Scope != q.Scope {
		return false
	}
	if q.Scope.RequiresRef() {
		return strings.TrimSpace(q.ScopeRef) != "" && e.ScopeRef == q.ScopeRef
	}
	return true
}
