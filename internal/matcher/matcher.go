package matcher

import (
	"context"
	"fmt"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/semantic"
	"ledger-reconciliation-service/pkg/logger"
)

// closeConfidence is the confidence above which a non-exact match is labelled close.
const closeConfidence = 0.85

// Matcher runs the scoring pipeline: date window, rule scores, semantic scores
// and confidence. It holds no per-run state and may be shared between runs.
type Matcher struct {
	config   *MatchingConfig
	rules    *RuleScorer
	semantic *semantic.Scorer
	combiner *Combiner
	logger   logger.Logger
}

// Stats counts how many pairs survived each stage of a scoring run.
type Stats struct {
	WindowPairs   int `json:"window_pairs"`
	EligiblePairs int `json:"eligible_pairs"`
	ScoredPairs   int `json:"scored_pairs"`
}

// NewMatcher creates a matcher. A nil builder selects the exact flat index.
func NewMatcher(config *MatchingConfig, embedder semantic.Embedder, builder semantic.IndexBuilder) (*Matcher, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("an embedder is required")
	}

	return &Matcher{
		config:   config.Clone(),
		rules:    NewRuleScorer(config),
		semantic: semantic.NewScorer(embedder, builder, config.TopK),
		combiner: NewCombiner(config),
		logger:   logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the matcher's configuration
func (m *Matcher) Config() *MatchingConfig {
	return m.config.Clone()
}

// ScoreCandidates builds the scored candidate graph for one run. The
// returned pairs carry a confidence but have not been accepted.
func (m *Matcher) ScoreCandidates(ctx context.Context, bank, ledger []*models.Record) ([]Candidate, *Stats, error) {
	stats := &Stats{}

	candidates := FilterCandidates(bank, ledger, m.config.DateWindowDays)
	stats.WindowPairs = len(candidates)

	eligible, err := m.rules.Score(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}
	stats.EligiblePairs = len(eligible)

	if len(eligible) == 0 {
		return nil, stats, nil
	}

	pairs := make([]semantic.Pair, len(eligible))
	for i, c := range eligible {
		pairs[i] = semantic.Pair{
			BankID:     c.Bank.ID,
			BankText:   c.Bank.Description,
			LedgerID:   c.Ledger.ID,
			LedgerText: c.Ledger.Description,
		}
	}

	scores, err := m.semantic.Score(ctx, pairs)
	if err != nil {
		return nil, nil, err
	}

	scored := eligible[:0]
	for i := range eligible {
		if !scores[i].Kept {
			continue
		}
		c := eligible[i]
		c.Pair.SemanticScore = scores[i].Value
		m.combiner.Combine(&c)
		scored = append(scored, c)
	}
	stats.ScoredPairs = len(scored)

	m.logger.WithFields(logger.Fields{
		"window_pairs":   stats.WindowPairs,
		"eligible_pairs": stats.EligiblePairs,
		"scored_pairs":   stats.ScoredPairs,
	}).Debug("Candidate graph scored")

	return scored, stats, nil
}

// DescribeMatch labels an accepted pair and lists the reasons it matched.
func DescribeMatch(b models.ScoreBreakdown, confidence float64) (models.MatchType, []string) {
	var reasons []string

	if b.AmountScore == 1 {
		reasons = append(reasons, "Exact amount match")
	} else {
		reasons = append(reasons, fmt.Sprintf("Amount within tolerance (difference: %s)", b.AmountDelta))
	}

	switch b.DayDelta {
	case 0:
		reasons = append(reasons, "Same date")
	case 1:
		reasons = append(reasons, "Date within 1 day")
	default:
		reasons = append(reasons, fmt.Sprintf("Date within %d days", b.DayDelta))
	}

	if b.SemanticScore >= 0.75 {
		reasons = append(reasons, fmt.Sprintf("Descriptions similar (%.2f)", b.SemanticScore))
	} else {
		reasons = append(reasons, fmt.Sprintf("Descriptions differ (%.2f)", b.SemanticScore))
	}

	switch {
	case b.ExactRule():
		return models.MatchExact, reasons
	case confidence >= closeConfidence:
		return models.MatchClose, reasons
	default:
		return models.MatchFuzzy, reasons
	}
}
