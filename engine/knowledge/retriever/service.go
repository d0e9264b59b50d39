// Package retriever orchestrates knowledge context retrieval: identifier
// normalization, per-scope store fetch, ranking, budgeting, and composition.
package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/budget"
	"github.com/kontexa/kontexa/engine/knowledge/composer"
	"github.com/kontexa/kontexa/engine/knowledge/ranker"
	"github.com/kontexa/kontexa/engine/knowledge/store"
	"github.com/kontexa/kontexa/engine/knowledge/tenant"
	"github.com/kontexa/kontexa/pkg/config"
	"github.com/kontexa/kontexa/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "kontexa.knowledge.retriever"

var validate = validator.New()

// Service is the single entry point for knowledge context retrieval. It is
// stateless across requests and safe for concurrent use.
type Service struct {
	store     store.Store
	estimator budget.Estimator
	ranker    *ranker.Ranker
	templates composer.Templates
	defaults  knowledge.Defaults
	tracer    trace.Tracer
}

// Option customizes a Service.
type Option func(*Service)

// WithEstimator swaps the token estimator, e.g. for a precise BPE tokenizer.
func WithEstimator(est budget.Estimator) Option {
	return func(s *Service) { s.estimator = est }
}

// WithDefaults overrides the retrieval defaults applied to unset request knobs.
func WithDefaults(d knowledge.Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithTemplates overrides the composed-block text fragments.
func WithTemplates(t composer.Templates) Option {
	return func(s *Service) { s.templates = t }
}

// New builds a Service over the given store.
func New(st store.Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("retriever: store is required")
	}
	s := &Service{
		store:     st,
		estimator: budget.CharEstimator{},
		templates: composer.DefaultTemplates(),
		defaults:  knowledge.DefaultDefaults(),
		tracer:    otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	r, err := ranker.New(ranker.Options{
		MinScore:           &s.defaults.MinScore,
		ContentPrefixBytes: s.defaults.ContentPrefixBytes,
		CacheSize:          s.defaults.SimilarityCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: failed to build ranker: %w", err)
	}
	s.ranker = r
	return s, nil
}

// NewFromContext builds a Service using the application configuration stored
// in ctx for defaults and templates. Explicit options still win.
func NewFromContext(ctx context.Context, st store.Store, opts ...Option) (*Service, error) {
	cfg := config.FromContext(ctx)
	tc := cfg.Knowledge.Templates
	base := []Option{
		WithDefaults(knowledge.DefaultsFromConfig(cfg)),
		WithTemplates(composer.Templates{
			SectionHeader: tc.SectionHeader,
			EntryHeader:   tc.EntryHeader,
			Footer:        tc.Footer,
			EmptyResult:   tc.EmptyResult,
		}),
	}
	return New(st, append(base, opts...)...)
}

// Retrieve runs one retrieval request end to end and returns the composed
// context block.
//
// Only an invalid request or an unusable tenant identifier fails the call.
// A store failure or timeout for one scope degrades that scope to an empty
// selection; the remaining scopes still produce content. Malformed stored
// entries are skipped. Zero selected entries is a success with the
// no-knowledge sentinel as text, not an error.
func (s *Service) Retrieve(ctx context.Context, req *knowledge.RetrievalRequest) (*knowledge.RetrievalResult, error) {
	if req == nil {
		return nil, fmt.Errorf("retriever: request is required")
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("retriever: invalid request: %w", err)
	}
	for i := range req.Scopes {
		if !req.Scopes[i].Scope.IsValid() {
			return nil, fmt.Errorf("retriever: invalid request: unknown scope %q", req.Scopes[i].Scope)
		}
	}
	variants, err := tenant.Variants(req.TenantID)
	if err != nil {
		return nil, err
	}
	tenantKey := variants[0].String()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "knowledge.retrieve", trace.WithAttributes(
		attribute.String("tenant_key", tenantKey),
		attribute.Int("scope_count", len(req.Scopes)),
	))
	defer span.End()
	knowledge.RecordRetrievalAttempt(ctx, tenantKey)
	defer func() {
		knowledge.RecordQueryLatency(ctx, tenantKey, time.Since(start))
	}()

	fetched, err := s.fetchScopes(ctx, req, variants)
	if err != nil {
		return nil, err
	}

	// A nil budget means the caller left it unset; an explicit zero is a
	// valid degenerate budget and must reach the selector untouched.
	combined := s.defaults.CombinedBudget
	if req.CombinedBudget != nil {
		combined = *req.CombinedBudget
	}
	sections := make([]composer.Section, 0, len(req.Scopes))
	for i := range req.Scopes {
		sc := &req.Scopes[i]
		ranked := s.ranker.Rank(ctx, fetched[i], req.Query)
		scopeBudget := s.defaults.ScopeBudget
		if sc.TokenBudget != nil {
			scopeBudget = *sc.TokenBudget
		}
		sel := budget.Select(ctx, ranked, scopeBudget, s.estimator)
		sections = append(sections, composer.Section{
			Scope:   sc.Scope,
			Label:   sc.Scope.String(),
			Entries: sel.Entries,
		})
	}
	composed := composer.Compose(ctx, sections, combined, s.estimator, s.templates)

	result := &knowledge.RetrievalResult{
		Status:         knowledge.StatusContent,
		Text:           composed.Text,
		Entries:        composed.Entries,
		PerScopeCounts: composed.PerScopeCounts,
		TotalTokens:    composed.TotalTokens,
	}
	if len(composed.Entries) == 0 {
		result.Status = knowledge.StatusEmpty
		knowledge.RecordRetrievalEmpty(ctx, tenantKey)
	}
	span.SetAttributes(
		attribute.Int("entries_selected", len(composed.Entries)),
		attribute.Int("tokens_used", result.TotalTokens),
	)
	return result, nil
}

// fetchScopes queries the store for every requested scope in parallel. A
// failed or timed-out scope is degraded to an empty result set; only caller
// cancellation aborts the whole fetch.
func (s *Service) fetchScopes(
	ctx context.Context,
	req *knowledge.RetrievalRequest,
	variants []tenant.Key,
) ([][]knowledge.Entry, error) {
	log := logger.FromContext(ctx)
	fetched := make([][]knowledge.Entry, len(req.Scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range req.Scopes {
		sc := req.Scopes[i]
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, s.defaults.FetchTimeout)
			defer cancel()
			fctx, fspan := s.tracer.Start(fctx, "knowledge.fetch_scope", trace.WithAttributes(
				attribute.String("scope", sc.Scope.String()),
			))
			defer fspan.End()
			entries, err := s.store.Find(fctx, store.Query{
				OwnerKeys: variants,
				Scope:     sc.Scope,
				ScopeRef:  sc.ScopeRef,
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("knowledge scope degraded to empty after store failure",
					"scope", sc.Scope, "error", err)
				knowledge.RecordScopeDegraded(fctx, sc.Scope)
				return nil
			}
			fetched[i] = s.dropMalformed(fctx, log, entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}

// dropMalformed filters out entries violating structural invariants. One bad
// row must not poison the rest of the scope.
func (s *Service) dropMalformed(ctx context.Context, log logger.Logger, entries []knowledge.Entry) []knowledge.Entry {
	out := entries[:0]
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			log.Warn("skipping malformed knowledge entry", "entry_id", entries[i].ID, "error", err)
			knowledge.RecordMalformedEntry(ctx, entries[i].Scope)
			continue
		}
		out = append(out, entries[i])
	}
	return out
}
