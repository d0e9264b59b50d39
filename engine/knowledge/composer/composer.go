// Package composer renders budgeted entries from multiple scopes into a
// single plain-text block for prompt injection.
package composer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kontexa/kontexa/engine/knowledge"
	"github.com/kontexa/kontexa/engine/knowledge/budget"
)

// Templates holds the text fragments of the composed block. Fragments are
// configurable so non-English deployments can localize the rendered prompt.
// SectionHeader and EntryHeader are fmt patterns with one %s verb.
type Templates struct {
	SectionHeader string
	EntryHeader   string
	Footer        string
	EmptyResult   string
}

// DefaultTemplates returns the built-in English fragments.
func DefaultTemplates() Templates {
	return Templates{
		SectionHeader: "## %s knowledge",
		EntryHeader:   "### %s",
		Footer: "Answer using the knowledge entries above. They are provided inline; " +
			"do not attempt to read files or look them up elsewhere.",
		EmptyResult: knowledge.NoKnowledgeSentinel,
	}
}

func (t Templates) withDefaults() Templates {
	def := DefaultTemplates()
	if t.SectionHeader == "" {
		t.SectionHeader = def.SectionHeader
	}
	if t.EntryHeader == "" {
		t.EntryHeader = def.EntryHeader
	}
	if t.Footer == "" {
		t.Footer = def.Footer
	}
	if t.EmptyResult == "" {
		t.EmptyResult = def.EmptyResult
	}
	return t
}

// Section is one scope's budgeted selection with its rendered label.
type Section struct {
	Scope   knowledge.Scope
	Label   string
	Entries []budget.SelectedEntry
}

// Result is the composed block plus the bookkeeping callers surface upstream.
type Result struct {
	Text           string
	Entries        []knowledge.ScoredEntry
	PerScopeCounts map[knowledge.Scope]int
	TotalTokens    int
}

// Compose merges per-scope selections into one text block.
//
// Sections render in fixed precedence order (thread, then agent, then
// global) regardless of input order. A non-negative combinedBudget is
// enforced as a second pass: when the concatenation exceeds it, whole entries
// are dropped from the lowest-precedence scope first, in reverse-selection
// order within that scope. Zero is a valid budget and drops everything; a
// negative value disables the combined cap. Entries are never split here;
// per-entry truncation happens during selection. With zero entries the
// EmptyResult sentinel is returned, and the footer is appended only when at
// least one entry made it in.
func Compose(
	ctx context.Context,
	sections []Section,
	combinedBudget int,
	est budget.Estimator,
	tpl Templates,
) Result {
	if est == nil {
		est = budget.CharEstimator{}
	}
	tpl = tpl.withDefaults()
	ordered := orderSections(sections)
	text := render(ordered, tpl)
	if combinedBudget >= 0 {
		for countEntries(ordered) > 0 && est.EstimateTokens(ctx, text) > combinedBudget {
			if !dropLowestPrecedence(ordered) {
				break
			}
			text = render(ordered, tpl)
		}
	}
	res := Result{PerScopeCounts: make(map[knowledge.Scope]int, len(ordered))}
	for _, sec := range ordered {
		res.PerScopeCounts[sec.Scope] += len(sec.Entries)
		for _, e := range sec.Entries {
			res.Entries = append(res.Entries, knowledge.ScoredEntry{
				Scope: sec.Scope,
				Entry: e.Entry,
				Score: e.Score,
			})
		}
	}
	if len(res.Entries) == 0 {
		res.Text = tpl.EmptyResult
		return res
	}
	res.Text = text
	res.TotalTokens = est.EstimateTokens(ctx, text)
	return res
}

// orderSections copies the sections sorted by scope precedence so drops do
// not mutate caller slices.
func orderSections(sections []Section) []*Section {
	out := make([]*Section, 0, len(sections))
	for i := range sections {
		sec := sections[i]
		sec.Entries = append([]budget.SelectedEntry(nil), sec.Entries...)
		out = append(out, &sec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Scope.Precedence() < out[j].Scope.Precedence()
	})
	return out
}

func countEntries(sections []*Section) int {
	total := 0
	for _, sec := range sections {
		total += len(sec.Entries)
	}
	return total
}

// dropLowestPrecedence removes the most recently selected entry from the
// lowest-precedence non-empty section. Returns false when nothing is left.
func dropLowestPrecedence(sections []*Section) bool {
	for i := len(sections) - 1; i >= 0; i-- {
		if n := len(sections[i].Entries); n > 0 {
			sections[i].Entries = sections[i].Entries[:n-1]
			return true
		}
	}
	return false
}

func render(sections []*Section, tpl Templates) string {
	var b strings.Builder
	wrote := false
	for _, sec := range sections {
		if len(sec.Entries) == 0 {
			continue
		}
		if wrote {
			b.WriteString("\n")
		}
		label := sec.Label
		if label == "" {
			label = string(sec.Scope)
		}
		fmt.Fprintf(&b, tpl.SectionHeader+"\n", label)
		for _, e := range sec.Entries {
			b.WriteString("\n")
			fmt.Fprintf(&b, tpl.EntryHeader+"\n", e.Entry.Name)
			if e.Entry.Description != "" {
				b.WriteString(e.Entry.Description + "\n")
			}
			b.WriteString(e.Entry.Content + "\n")
		}
		wrote = true
	}
	if wrote {
		b.WriteString("\n" + tpl.Footer + "\n")
	}
	return b.String()
}
