package knowledge

import (
	"context"
	"time"

	appconfig "github.com/kontexa/kontexa/pkg/config"
)

const (
	// MinScoreFloor and MaxScoreCeiling bound the contextual similarity threshold.
	MinScoreFloor   = 0.0
	MaxScoreCeiling = 1.0
	// MinContentPrefix and MaxContentPrefix bound how much content is scored per entry.
	MinContentPrefix = 256
	MaxContentPrefix = 65536
	maxFetchTimeout  = 2 * time.Minute
)

// NoKnowledgeSentinel is returned as the composed text when retrieval ran but
// selected nothing. It lets callers distinguish "ran, found nothing" from
// "feature not invoked", which would otherwise both look like an empty string.
const NoKnowledgeSentinel = "[no relevant knowledge found]"

var builtinDefaults = Defaults{
	MinScore:            0.1,
	ContentPrefixBytes:  2048,
	ScopeBudget:         2000,
	CombinedBudget:      6000,
	FetchTimeout:        5 * time.Second,
	SimilarityCacheSize: 1024,
}

// Defaults captures retrieval defaults applied when a request leaves a knob unset.
type Defaults struct {
	MinScore            float64
	ContentPrefixBytes  int
	ScopeBudget         int
	CombinedBudget      int
	FetchTimeout        time.Duration
	SimilarityCacheSize int
}

// DefaultDefaults returns the built-in defaults used when no configuration
// override is supplied.
func DefaultDefaults() Defaults {
	return builtinDefaults
}

// DefaultsFromContext retrieves defaults using the application configuration
// stored in context.
func DefaultsFromContext(ctx context.Context) Defaults {
	return DefaultsFromConfig(appconfig.FromContext(ctx))
}

// DefaultsFromConfig builds Defaults from the application configuration.
// Invalid values fall back to the built-in defaults to keep retrieval predictable.
func DefaultsFromConfig(cfg *appconfig.Config) Defaults {
	if cfg == nil {
		return builtinDefaults
	}
	kc := &cfg.Knowledge
	return sanitizeDefaults(Defaults{
		MinScore:            kc.MinScore,
		ContentPrefixBytes:  kc.ContentPrefixBytes,
		ScopeBudget:         kc.DefaultScopeBudget,
		CombinedBudget:      kc.DefaultCombinedBudget,
		FetchTimeout:        kc.FetchTimeout,
		SimilarityCacheSize: kc.SimilarityCacheSize,
	})
}

func sanitizeDefaults(in Defaults) Defaults {
	out := in
	out.MinScore = clampFloat(out.MinScore, MinScoreFloor, MaxScoreCeiling)
	if out.ContentPrefixBytes <= 0 {
		out.ContentPrefixBytes = builtinDefaults.ContentPrefixBytes
	}
	out.ContentPrefixBytes = clampInt(out.ContentPrefixBytes, MinContentPrefix, MaxContentPrefix)
	if out.ScopeBudget < 0 {
		out.ScopeBudget = builtinDefaults.ScopeBudget
	}
	if out.CombinedBudget < 0 {
		out.CombinedBudget = builtinDefaults.CombinedBudget
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = builtinDefaults.FetchTimeout
	}
	if out.FetchTimeout > maxFetchTimeout {
		out.FetchTimeout = maxFetchTimeout
	}
	if out.SimilarityCacheSize <= 0 {
		out.SimilarityCacheSize = builtinDefaults.SimilarityCacheSize
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
