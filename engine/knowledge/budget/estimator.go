// Package budget estimates token cost and greedily selects ranked entries
// under a caller-supplied token budget.
package budget

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates the token cost of formatted text. Implementations
// are swappable without touching ranking or composition.
type Estimator interface {
	EstimateTokens(ctx context.Context, text string) int
}

// charsPerToken is the standard rough heuristic of four characters per token.
const charsPerToken = 4

// CharEstimator estimates tokens as ceil(character_count / 4).
type CharEstimator struct{}

func (CharEstimator) EstimateTokens(_ context.Context, text string) int {
	count := len([]rune(text))
	if count == 0 {
		return 0
	}
	return (count + charsPerToken - 1) / charsPerToken
}

// TiktokenEstimator counts tokens with a real BPE encoding for callers that
// need precise budgets.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
	fallback CharEstimator
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encodingName string) (*TiktokenEstimator, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("budget: failed to load encoding %q: %w", encodingName, err)
	}
	return &TiktokenEstimator{encoding: encoding}, nil
}

func (e *TiktokenEstimator) EstimateTokens(ctx context.Context, text string) int {
	if e.encoding == nil {
		return e.fallback.EstimateTokens(ctx, text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}
