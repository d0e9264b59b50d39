package knowledge

import (
	"strings"
	"time"

	"github.com/kontexa/kontexa/engine/core"
)

// Scope is the visibility level of a knowledge entry.
type Scope string

const (
	// ScopeThread limits an entry to a single conversation thread.
	ScopeThread Scope = "thread"
	// ScopeAgent limits an entry to a configured agent.
	ScopeAgent Scope = "agent"
	// ScopeGlobal makes an entry visible account-wide.
	ScopeGlobal Scope = "global"
)

func (s Scope) String() string {
	return string(s)
}

// IsValid reports whether the scope is one of the known values.
func (s Scope) IsValid() bool {
	switch s {
	case ScopeThread, ScopeAgent, ScopeGlobal:
		return true
	default:
		return false
	}
}

// RequiresRef reports whether entries in this scope need a scope reference.
func (s Scope) RequiresRef() bool {
	return s == ScopeThread || s == ScopeAgent
}

// Precedence orders scopes for composition: thread first, then agent,
// then global. Lower values render first and are dropped last under
// combined-budget pressure.
func (s Scope) Precedence() int {
	switch s {
	case ScopeThread:
		return 0
	case ScopeAgent:
		return 1
	case ScopeGlobal:
		return 2
	default:
		return 3
	}
}

// UsageContext is the per-entry injection policy.
type UsageContext string

const (
	// UsageAlways entries are injected whenever in scope, regardless of query relevance.
	UsageAlways UsageContext = "always"
	// UsageContextual entries are ranked against the query before inclusion.
	UsageContextual UsageContext = "contextual"
	// UsageOnRequest entries are excluded from automatic retrieval and must be
	// fetched by explicit name through a separate path.
	UsageOnRequest UsageContext = "on_request"
)

func (u UsageContext) String() string {
	return string(u)
}

// IsValid reports whether the usage context is one of the known values.
func (u UsageContext) IsValid() bool {
	switch u {
	case UsageAlways, UsageContextual, UsageOnRequest:
		return true
	default:
		return false
	}
}

// Entry is a single knowledge item owned by a tenant.
type Entry struct {
	ID           core.ID        `json:"id"`
	OwnerKey     string         `json:"owner_key"`
	Scope        Scope          `json:"scope"`
	ScopeRef     string         `json:"scope_ref,omitempty"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Content      string         `json:"content"`
	UsageContext UsageContext   `json:"usage_context"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate enforces the structural invariants of an entry. A violation marks
// the entry malformed: retrieval skips it rather than failing the request.
func (e *Entry) Validate() error {
	if e.ID.IsZero() {
		return NewMalformedEntryError(e.ID, "entry id is required")
	}
	if !e.Scope.IsValid() {
		return NewMalformedEntryError(e.ID, "unknown scope "+string(e.Scope))
	}
	if e.Scope.RequiresRef() && strings.TrimSpace(e.ScopeRef) == "" {
		return NewMalformedEntryError(e.ID, "scope "+string(e.Scope)+" requires a scope_ref")
	}
	if !e.Scope.RequiresRef() && strings.TrimSpace(e.ScopeRef) != "" {
		return NewMalformedEntryError(e.ID, "global entries must not carry a scope_ref")
	}
	if !e.UsageContext.IsValid() {
		return NewMalformedEntryError(e.ID, "unknown usage_context "+string(e.UsageContext))
	}
	return nil
}

// Clone returns a copy of the entry with its own metadata map.
func (e *Entry) Clone() Entry {
	out := *e
	out.Metadata = core.CloneMap(e.Metadata)
	return out
}

// ScopeRequest selects one scope for retrieval with its token sub-budget.
// A nil TokenBudget applies the configured default; an explicit zero is
// honored and admits nothing beyond always entries.
type ScopeRequest struct {
	Scope       Scope  `json:"scope"                  validate:"required"`
	ScopeRef    string `json:"scope_ref,omitempty"`
	TokenBudget *int   `json:"token_budget,omitempty" validate:"omitempty,min=0"`
}

// RetrievalRequest is the single entry point payload for context retrieval.
// TenantID accepts raw, possibly inconsistent identifier representations;
// normalization happens inside the engine. A nil CombinedBudget applies the
// configured default; an explicit zero is honored and composes nothing.
type RetrievalRequest struct {
	TenantID       any            `json:"tenant_id"`
	Query          string         `json:"query,omitempty"`
	Scopes         []ScopeRequest `json:"scopes"                    validate:"required,min=1,dive"`
	CombinedBudget *int           `json:"combined_budget,omitempty" validate:"omitempty,min=0"`
}

// Status is the terminal state of a retrieval.
type Status string

const (
	// StatusContent indicates at least one entry made it into the composed block.
	StatusContent Status = "succeeded-with-content"
	// StatusEmpty indicates retrieval ran but selected no entries.
	StatusEmpty Status = "succeeded-empty"
)

// ScoredEntry pairs a selected entry with its scope and matched score.
type ScoredEntry struct {
	Scope Scope   `json:"scope"`
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// RetrievalResult is the outcome of one retrieval request.
type RetrievalResult struct {
	Status         Status        `json:"status"`
	Text           string        `json:"text"`
	Entries        []ScoredEntry `json:"entries,omitempty"`
	PerScopeCounts map[Scope]int `json:"per_scope_counts"`
	TotalTokens    int           `json:"total_tokens"`
}

// HasContent reports whether the retrieval selected any entries.
func (r *RetrievalResult) HasContent() bool {
	return r.Status == StatusContent
}
