package budget

import (
	"context"
	"strings"

	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/ranker"
)

// SelectedEntry is a scored entry admitted under the budget. Truncated marks
// entries whose content was cut to fit a remaining sliver of budget.
type SelectedEntry struct {
	ranker.Scored
	Truncated bool
}

// Selection is the outcome of budgeted selection for one scope.
type Selection struct {
	Entries    []SelectedEntry
	TokensUsed int
}

// Select admits ranked entries greedily under budgetTokens.
//
// always entries are admitted first and never skipped: the budget is a soft
// target for contextual content, not a cap on mandatory knowledge. Contextual
// entries are taken in ranked order; one that does not fit is skipped so a
// smaller lower-ranked entry may still be admitted. Truncation happens only
// when the candidate would be the sole entry of an otherwise-empty selection
// and no later entry fits whole, so tight budgets surface partial content
// instead of nothing while fitting entries are never silently mangled.
func Select(ctx context.Context, ranked []ranker.Scored, budgetTokens int, est Estimator) Selection {
	if est == nil {
		est = CharEstimator{}
	}
	sel := Selection{}
	var contextual []ranker.Scored
	for i := range ranked {
		if ranked[i].Entry.UsageContext == knowledge.UsageAlways {
			cost := entryCost(ctx, est, &ranked[i].Entry)
			sel.Entries = append(sel.Entries, SelectedEntry{Scored: ranked[i]})
			sel.TokensUsed += cost
			continue
		}
		contextual = append(contextual, ranked[i])
	}
	for i := range contextual {
		remaining := budgetTokens - sel.TokensUsed
		if remaining <= 0 {
			break
		}
		cost := entryCost(ctx, est, &contextual[i].Entry)
		if cost <= remaining {
			sel.Entries = append(sel.Entries, SelectedEntry{Scored: contextual[i]})
			sel.TokensUsed += cost
			continue
		}
		if len(sel.Entries) == 0 && !laterEntryFits(ctx, est, contextual[i+1:], remaining) {
			truncated, used, ok := truncateToFit(ctx, est, contextual[i], remaining)
			if ok {
				sel.Entries = append(sel.Entries, truncated)
				sel.TokensUsed += used
			}
			break
		}
	}
	return sel
}

// entryCost estimates the rendered cost of an entry: header fields plus content.
func entryCost(ctx context.Context, est Estimator, entry *knowledge.Entry) int {
	return est.EstimateTokens(ctx, entry.Name) +
		est.EstimateTokens(ctx, entry.Description) +
		est.EstimateTokens(ctx, entry.Content)
}

func laterEntryFits(ctx context.Context, est Estimator, rest []ranker.Scored, remaining int) bool {
	for i := range rest {
		if entryCost(ctx, est, &rest[i].Entry) <= remaining {
			return true
		}
	}
	return false
}

// truncateToFit cuts the entry content so the whole entry costs at most
// remaining tokens. Returns ok=false when even the header does not fit.
func truncateToFit(ctx context.Context, est Estimator, scored ranker.Scored, remaining int) (SelectedEntry, int, bool) {
	headerCost := est.EstimateTokens(ctx, scored.Entry.Name) +
		est.EstimateTokens(ctx, scored.Entry.Description)
	contentBudget := remaining - headerCost
	if contentBudget <= 0 {
		return SelectedEntry{}, 0, false
	}
	runes := []rune(scored.Entry.Content)
	// Binary search the longest prefix fitting the content budget; the
	// estimator is monotonic in text length for any sane tokenizer.
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if est.EstimateTokens(ctx, string(runes[:mid])) <= contentBudget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return SelectedEntry{}, 0, false
	}
	entry := scored.Entry.Clone()
	entry.Content = strings.TrimRight(string(runes[:lo]), " \t\n")
	out := SelectedEntry{Scored: ranker.Scored{Entry: entry, Score: scored.Score}, Truncated: true}
	used := headerCost + est.EstimateTokens(ctx, entry.Content)
	return out, used, true
}
