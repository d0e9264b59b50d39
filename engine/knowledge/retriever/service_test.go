package retriever_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kontexa/kontexa/engine/core"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/composer"
	"github.com/kontexa/kontexa/engine/knowledge/retriever"
	"github.com/kontexa/kontexa/engine/knowledge/store"
	"github.com/kontexa/kontexa/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokens(v int) *int {
	return &v
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	knowledge.ResetMetricsForTesting()
	return logger.ContextWithLogger(context.Background(), logger.NewNopLogger())
}

func globalEntry(owner, name, content string, usage knowledge.UsageContext, createdAt time.Time) knowledge.Entry {
	return knowledge.Entry{
		ID:           core.MustNewID(),
		OwnerKey:     owner,
		Scope:        knowledge.ScopeGlobal,
		Name:         name,
		Content:      content,
		UsageContext: usage,
		IsActive:     true,
		CreatedAt:    createdAt,
	}
}

// scopeFailingStore fails one scope to exercise per-scope degradation.
type scopeFailingStore struct {
	inner  store.Store
	failOn knowledge.Scope
}

func (s *scopeFailingStore) Find(ctx context.Context, q store.Query) ([]knowledge.Entry, error) {
	if q.Scope == s.failOn {
		return nil, knowledge.ErrStoreUnavailable
	}
	return s.inner.Find(ctx, q)
}

func TestService_Retrieve(t *testing.T) {
	now := time.Now()

	t.Run("Should include an always entry verbatim with the footer", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		content := "Company holiday calendar: offices close Dec 24 through Jan 1."
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "Holidays", content, knowledge.UsageAlways, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Query:    "holidays",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal, TokenBudget: tokens(4000)}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusContent, res.Status)
		assert.Contains(t, res.Text, "## global knowledge")
		assert.Contains(t, res.Text, content)
		assert.Contains(t, res.Text, composer.DefaultTemplates().Footer)
		assert.Equal(t, 1, res.PerScopeCounts[knowledge.ScopeGlobal])
		assert.Positive(t, res.TotalTokens)
	})

	t.Run("Should degrade a failing scope and keep serving the rest", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "Policy A", "refund policy", knowledge.UsageAlways, now)))
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "Policy B", "shipping policy", knowledge.UsageAlways, now.Add(-time.Minute))))
		svc, err := retriever.New(&scopeFailingStore{inner: mem, failOn: knowledge.ScopeThread})
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Scopes: []knowledge.ScopeRequest{
				{Scope: knowledge.ScopeThread, ScopeRef: "thread-1"},
				{Scope: knowledge.ScopeGlobal},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusContent, res.Status)
		assert.Contains(t, res.Text, "refund policy")
		assert.Contains(t, res.Text, "shipping policy")
		assert.Equal(t, 0, res.PerScopeCounts[knowledge.ScopeThread])
		assert.Equal(t, 2, res.PerScopeCounts[knowledge.ScopeGlobal])
	})

	t.Run("Should keep only the newest entry under a tight combined budget", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		body := strings.Repeat("abcd", 38)
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "n1", body, knowledge.UsageContextual, now.Add(-2*time.Hour))))
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "n2", body, knowledge.UsageContextual, now.Add(-time.Hour))))
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "n3", body, knowledge.UsageContextual, now)))
		svc, err := retriever.New(mem, retriever.WithTemplates(composer.Templates{
			SectionHeader: "## %s",
			Footer:        "Use the context above.",
		}))
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID:       "acme",
			Scopes:         []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal, TokenBudget: tokens(2000)}},
			CombinedBudget: tokens(50),
		})
		require.NoError(t, err)
		require.Len(t, res.Entries, 1)
		assert.Equal(t, "n3", res.Entries[0].Entry.Name)
		assert.LessOrEqual(t, res.TotalTokens, 50)
	})

	t.Run("Should return empty for an explicit zero budget", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "doc", "relevant body", knowledge.UsageContextual, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID:       "acme",
			Scopes:         []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal, TokenBudget: tokens(0)}},
			CombinedBudget: tokens(0),
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusEmpty, res.Status)
		assert.Equal(t, knowledge.NoKnowledgeSentinel, res.Text)
		assert.Empty(t, res.Entries)
		assert.Zero(t, res.TotalTokens)
	})

	t.Run("Should honor an explicit zero scope budget while defaulting the rest", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "doc", "relevant body", knowledge.UsageContextual, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal, TokenBudget: tokens(0)}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusEmpty, res.Status)
	})

	t.Run("Should match legacy rows through the variant probe", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		legacy := globalEntry(" ABC-123 ", "Legacy doc", "migrated content", knowledge.UsageAlways, now)
		require.NoError(t, mem.PutRaw(legacy))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "abc-123",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusContent, res.Status)
		assert.Contains(t, res.Text, "migrated content")
	})

	t.Run("Should return the sentinel when nothing matches", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := retriever.New(store.NewMemoryStore())
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Query:    "anything",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusEmpty, res.Status)
		assert.Equal(t, knowledge.NoKnowledgeSentinel, res.Text)
		assert.Empty(t, res.Entries)
		assert.Zero(t, res.TotalTokens)
	})

	t.Run("Should proceed with an empty result for a missing tenant identifier", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "doc", "body", knowledge.UsageAlways, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: nil,
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusEmpty, res.Status)
	})

	t.Run("Should fail fast on an unusable tenant identifier", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := retriever.New(store.NewMemoryStore())
		require.NoError(t, err)

		_, err = svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: func() {},
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.Error(t, err)
		assert.True(t, knowledge.IsInvalidTenant(err))
	})

	t.Run("Should reject a request without scopes", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := retriever.New(store.NewMemoryStore())
		require.NoError(t, err)

		_, err = svc.Retrieve(ctx, &knowledge.RetrievalRequest{TenantID: "acme"})
		require.Error(t, err)
		assert.ErrorContains(t, err, "invalid request")
	})

	t.Run("Should reject an unknown scope value", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := retriever.New(store.NewMemoryStore())
		require.NoError(t, err)

		_, err = svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.Scope("workspace")}},
		})
		require.Error(t, err)
		assert.ErrorContains(t, err, "unknown scope")
	})

	t.Run("Should reject a nil request", func(t *testing.T) {
		ctx := testContext(t)
		svc, err := retriever.New(store.NewMemoryStore())
		require.NoError(t, err)

		_, err = svc.Retrieve(ctx, nil)
		require.Error(t, err)
	})

	t.Run("Should skip malformed stored rows without failing the request", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		malformed := globalEntry("acme", "bad row", "body", knowledge.UsageAlways, now)
		malformed.ScopeRef = "stray-ref"
		require.NoError(t, mem.PutRaw(malformed))
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "good row", "kept body", knowledge.UsageAlways, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Contains(t, res.Text, "kept body")
		assert.NotContains(t, res.Text, "bad row")
	})

	t.Run("Should exclude on_request entries from automatic retrieval", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "playbook", "escalation playbook", knowledge.UsageOnRequest, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Query:    "escalation playbook",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Equal(t, knowledge.StatusEmpty, res.Status)
	})

	t.Run("Should isolate tenants", func(t *testing.T) {
		ctx := testContext(t)
		mem := store.NewMemoryStore()
		require.NoError(t, mem.Put(ctx, globalEntry("acme", "acme doc", "acme body", knowledge.UsageAlways, now)))
		require.NoError(t, mem.Put(ctx, globalEntry("globex", "globex doc", "globex body", knowledge.UsageAlways, now)))
		svc, err := retriever.New(mem)
		require.NoError(t, err)

		res, err := svc.Retrieve(ctx, &knowledge.RetrievalRequest{
			TenantID: "acme",
			Scopes:   []knowledge.ScopeRequest{{Scope: knowledge.ScopeGlobal}},
		})
		require.NoError(t, err)
		assert.Contains(t, res.Text, "acme body")
		assert.NotContains(t, res.Text, "globex body")
	})
}
