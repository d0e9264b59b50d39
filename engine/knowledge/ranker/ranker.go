// Package ranker scores knowledge entries against a user query using
// deterministic lexical heuristics. Semantic scoring can replace the
// similarity function behind the same Rank contract without touching the
// engine; the default is intentionally dependency-free and explainable.
package ranker

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kontexa/kontexa/engine/knowledge"
)

// AlwaysScore is assigned to usage_context=always entries. It sits above the
// 0-1 similarity scale so an always entry never ranks below a contextual one.
const AlwaysScore = 2.0

const (
	substringWeight = 0.35
	jaccardWeight   = 0.40
	trigramWeight   = 0.25
	defaultCacheSz  = 1024
)

// Options tunes ranking behavior.
type Options struct {
	// MinScore drops contextual entries scoring below it when a query is
	// present. Nil applies the default threshold; an explicit zero disables
	// the cutoff.
	MinScore *float64
	// ContentPrefixBytes bounds how much entry content participates in scoring,
	// keeping per-entry cost independent of document length.
	ContentPrefixBytes int
	// CacheSize bounds the per-entry trigram profile cache.
	CacheSize int
}

// Scored pairs an entry with its matched score.
type Scored struct {
	Entry knowledge.Entry
	Score float64
}

// Ranker scores and orders candidate entries. It is safe for concurrent use.
type Ranker struct {
	opts     Options
	minScore float64
	profiles *lru.Cache[string, map[string]struct{}]
}

func New(opts Options) (*Ranker, error) {
	minScore := knowledge.DefaultDefaults().MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}
	if opts.ContentPrefixBytes <= 0 {
		opts.ContentPrefixBytes = knowledge.DefaultDefaults().ContentPrefixBytes
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSz
	}
	profiles, err := lru.New[string, map[string]struct{}](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Ranker{opts: opts, minScore: minScore, profiles: profiles}, nil
}

// Rank returns scorable entries ordered by score descending, ties broken by
// created_at descending (newest first) and then ID for determinism.
//
// always entries receive AlwaysScore unconditionally. on_request and inactive
// entries are never returned. With an empty query, contextual entries pass
// through unscored in created_at order so "show what's there" callers still
// get content.
func (r *Ranker) Rank(ctx context.Context, entries []knowledge.Entry, query string) []Scored {
	query = strings.TrimSpace(query)
	out := make([]Scored, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if !entry.IsActive || entry.UsageContext == knowledge.UsageOnRequest {
			continue
		}
		if entry.UsageContext == knowledge.UsageAlways {
			out = append(out, Scored{Entry: *entry, Score: AlwaysScore})
			continue
		}
		if query == "" {
			out = append(out, Scored{Entry: *entry, Score: 0})
			continue
		}
		score := r.similarity(entry, query)
		if score < r.minScore {
			continue
		}
		out = append(out, Scored{Entry: *entry, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Entry.CreatedAt.Equal(out[j].Entry.CreatedAt) {
			return out[i].Entry.CreatedAt.After(out[j].Entry.CreatedAt)
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	return out
}

// similarity combines substring containment, word-set Jaccard overlap, and
// trigram overlap into a 0-1 score.
func (r *Ranker) similarity(entry *knowledge.Entry, query string) float64 {
	haystack := r.scoringText(entry)
	needle := strings.ToLower(query)
	score := 0.0
	if strings.Contains(haystack, needle) {
		score += substringWeight
	}
	score += jaccardWeight * jaccard(tokenSet(needle), tokenSet(haystack))
	score += trigramWeight * jaccard(trigramSet(needle), r.entryTrigrams(entry, haystack))
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// scoringText concatenates name, description, and a bounded content prefix.
func (r *Ranker) scoringText(entry *knowledge.Entry) string {
	content := entry.Content
	if len(content) > r.opts.ContentPrefixBytes {
		content = content[:r.opts.ContentPrefixBytes]
	}
	return strings.ToLower(entry.Name + " " + entry.Description + " " + content)
}

// entryTrigrams returns the cached trigram profile for an entry, keyed by
// entry ID plus a content fingerprint so edits bust the cached profile.
func (r *Ranker) entryTrigrams(entry *knowledge.Entry, haystack string) map[string]struct{} {
	h := fnv.New64a()
	h.Write([]byte(haystack))
	key := entry.ID.String() + ":" + strconv.FormatUint(h.Sum64(), 16)
	if cached, ok := r.profiles.Get(key); ok {
		return cached
	}
	profile := trigramSet(haystack)
	r.profiles.Add(key, profile)
	return profile
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(c rune) bool {
		return !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9')
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[strings.ToLower(f)] = struct{}{}
	}
	return out
}

func trigramSet(text string) map[string]struct{} {
	runes := []rune(text)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return map[string]struct{}{}
		}
		return map[string]struct{}{string(runes): {}}
	}
	out := make(map[string]struct{}, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
