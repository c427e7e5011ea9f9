// Package matcher turns two lists of normalized records into a scored
// candidate graph.
//
// The pipeline has four stages, each usable on its own:
//  1. FilterCandidates keeps pairs whose dates fall inside the date window.
//  2. RuleScorer scores amount and date proximity and drops pairs outside the
//     amount tolerance.
//  3. The semantic scorer compares descriptions through embeddings and a
//     nearest-neighbour index.
//  4. Combiner merges both scores into a single confidence.
//
// Acceptance against the confidence threshold is left to the assignment
// solver so that it can see the full graph.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateWindowDays = 3
//
//	m, err := matcher.NewMatcher(config, semantic.NewHashingEmbedder(256), semantic.FlatIndexBuilder{})
//	candidates, stats, err := m.ScoreCandidates(ctx, bank, ledger)
package matcher

import (
	"fmt"
	"math"
	"runtime"

	"github.com/shopspring/decimal"
)

// MatchingConfig holds the tolerances and weights used to score candidate pairs.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): balanced approach for most use cases
//   - StrictMatchingConfig(): tight tolerances for month-end close
//   - RelaxedMatchingConfig(): loose tolerances for exploratory matching
type MatchingConfig struct {
	// AmountTolerance is the hard cutoff on |bank amount - ledger amount|.
	// A pair whose delta equals or exceeds the tolerance is never scored.
	// Zero means only exact amounts are eligible.
	AmountTolerance decimal.Decimal `mapstructure:"amount_tolerance" json:"amount_tolerance"`

	// DateWindowDays is the maximum number of calendar days between the two
	// records of a candidate pair.
	DateWindowDays int `mapstructure:"date_window_days" json:"date_window_days"`

	// RuleWeights balances the amount and date sub-scores inside the rule score.
	RuleWeights RuleWeights `mapstructure:"rule_weights" json:"rule_weights"`

	// RuleWeight and SemanticWeight combine the two scores into the
	// confidence. They must sum to 1.
	RuleWeight     float64 `mapstructure:"rule_weight" json:"rule_weight"`
	SemanticWeight float64 `mapstructure:"semantic_weight" json:"semantic_weight"`

	// ExactRuleWeight replaces RuleWeight when amount and date agree exactly,
	// with 1-ExactRuleWeight going to the semantic score.
	ExactRuleWeight float64 `mapstructure:"exact_rule_weight" json:"exact_rule_weight"`

	// MinConfidence is the acceptance floor applied by the assignment solver.
	MinConfidence float64 `mapstructure:"min_confidence" json:"min_confidence"`

	// TopK caps how many semantic neighbours are kept per bank record.
	// Zero keeps every candidate.
	TopK int `mapstructure:"top_k" json:"top_k"`

	// Workers bounds the goroutines used for rule scoring.
	Workers int `mapstructure:"workers" json:"workers"`
}

// RuleWeights holds the relative weights of the rule sub-scores.
type RuleWeights struct {
	Amount float64 `mapstructure:"amount" json:"amount"`
	Date   float64 `mapstructure:"date" json:"date"`
}

// Validate ensures the weights are usable
func (w RuleWeights) Validate() error {
	if w.Amount < 0 || w.Date < 0 {
		return fmt.Errorf("rule weights cannot be negative: amount=%.2f date=%.2f", w.Amount, w.Date)
	}
	if w.Amount+w.Date == 0 {
		return fmt.Errorf("rule weights cannot both be zero")
	}
	return nil
}

// DefaultMatchingConfig returns the balanced default configuration
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		AmountTolerance: decimal.RequireFromString("5.00"),
		DateWindowDays:  7,
		RuleWeights:     RuleWeights{Amount: 0.5, Date: 0.5},
		RuleWeight:      0.5,
		SemanticWeight:  0.5,
		ExactRuleWeight: 0.7,
		MinConfidence:   0.6,
		TopK:            10,
		Workers:         runtime.GOMAXPROCS(0),
	}
}

// StrictMatchingConfig returns tight tolerances where only near-exact pairs match
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AmountTolerance = decimal.RequireFromString("0.01")
	config.DateWindowDays = 2
	config.MinConfidence = 0.8
	config.TopK = 5
	return config
}

// RelaxedMatchingConfig returns loose tolerances for exploratory runs
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.AmountTolerance = decimal.RequireFromString("25.00")
	config.DateWindowDays = 14
	config.MinConfidence = 0.5
	config.TopK = 0
	return config
}

// Validate checks that every setting is within range
func (c *MatchingConfig) Validate() error {
	if c.AmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerance cannot be negative: %s", c.AmountTolerance)
	}

	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", c.DateWindowDays)
	}

	if err := c.RuleWeights.Validate(); err != nil {
		return fmt.Errorf("invalid rule weights: %w", err)
	}

	if c.RuleWeight < 0 || c.SemanticWeight < 0 {
		return fmt.Errorf("confidence weights cannot be negative: rule=%.2f semantic=%.2f", c.RuleWeight, c.SemanticWeight)
	}

	if math.Abs(c.RuleWeight+c.SemanticWeight-1) > 1e-9 {
		return fmt.Errorf("confidence weights must sum to 1, got %.4f", c.RuleWeight+c.SemanticWeight)
	}

	if c.ExactRuleWeight < 0 || c.ExactRuleWeight > 1 {
		return fmt.Errorf("exact rule weight must be between 0 and 1: %.2f", c.ExactRuleWeight)
	}

	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1: %.2f", c.MinConfidence)
	}

	if c.TopK < 0 {
		return fmt.Errorf("top k cannot be negative: %d", c.TopK)
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1: %d", c.Workers)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *MatchingConfig) Clone() *MatchingConfig {
	clone := *c
	return &clone
}

// String returns a string representation of the configuration
func (c *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{AmountTolerance: %s, DateWindow: %d days, Weights: rule=%.2f semantic=%.2f, MinConfidence: %.2f, TopK: %d}",
		c.AmountTolerance, c.DateWindowDays, c.RuleWeight, c.SemanticWeight, c.MinConfidence, c.TopK)
}
