package matcher

import (
	"context"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// minChunk keeps tiny inputs from being split across goroutines.
const minChunk = 256

// RuleScorer scores candidate pairs on amount and date proximity.
type RuleScorer struct {
	amountTolerance decimal.Decimal
	windowDays      int
	weights         RuleWeights
	workers         int
	logger          logger.Logger
}

// NewRuleScorer creates a rule scorer from the matching configuration
func NewRuleScorer(config *MatchingConfig) *RuleScorer {
	workers := config.Workers
	if workers < 1 {
		workers = 1
	}
	return &RuleScorer{
		amountTolerance: config.AmountTolerance,
		windowDays:      config.DateWindowDays,
		weights:         config.RuleWeights,
		workers:         workers,
		logger:          logger.GetGlobalLogger().WithComponent("rule_scorer"),
	}
}

// AmountScore returns the amount sub-score for delta and whether the pair is
// eligible at all. The tolerance boundary is exclusive.
func (s *RuleScorer) AmountScore(delta decimal.Decimal) (float64, bool) {
	if s.amountTolerance.IsZero() {
		return 1, delta.IsZero()
	}
	if delta.GreaterThanOrEqual(s.amountTolerance) {
		return 0, false
	}
	ratio := delta.Div(s.amountTolerance).InexactFloat64()
	return 1 - ratio, true
}

// DateScore returns the date sub-score, decaying linearly to 0 at the window edge.
func (s *RuleScorer) DateScore(days int) float64 {
	if days == 0 {
		return 1
	}
	if s.windowDays <= 0 || days >= s.windowDays {
		return 0
	}
	return 1 - float64(days)/float64(s.windowDays)
}

// ScorePair fills in the rule score of c and reports whether it survives the
// amount cutoff. A debit never pairs with a credit, however small the gap.
func (s *RuleScorer) ScorePair(c *Candidate) bool {
	if OppositeDirections(c.Bank.Amount, c.Ledger.Amount) {
		return false
	}

	delta := models.AbsAmountDelta(c.Bank.Amount, c.Ledger.Amount)
	amountScore, ok := s.AmountScore(delta)
	if !ok {
		return false
	}

	days := models.DaysBetween(c.Bank.Date, c.Ledger.Date)
	dateScore := s.DateScore(days)

	total := s.weights.Amount + s.weights.Date
	rule := (s.weights.Amount*amountScore + s.weights.Date*dateScore) / total

	c.Pair.RuleScore = rule
	c.Pair.Breakdown.AmountScore = amountScore
	c.Pair.Breakdown.DateScore = dateScore
	c.Pair.Breakdown.AmountDelta = delta.String()
	c.Pair.Breakdown.DayDelta = days
	c.Pair.Breakdown.RuleScore = rule
	return true
}

// OppositeDirections reports whether one amount is money in and the other
// money out. Zero amounts have no direction.
func OppositeDirections(a, b decimal.Decimal) bool {
	return a.Sign()*b.Sign() < 0
}

// Score scores every candidate in parallel and returns the survivors in input
// order. Each worker owns a disjoint slice of the input.
func (s *RuleScorer) Score(ctx context.Context, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := make([]Candidate, len(candidates))
	copy(scored, candidates)
	keep := make([]bool, len(scored))

	chunk := (len(scored) + s.workers - 1) / s.workers
	if chunk < minChunk {
		chunk = minChunk
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "rule_scoring",
		Total:     int64(len(scored)),
		Logger:    s.logger,
	})

	p := pool.New().WithMaxGoroutines(s.workers)
	for start := 0; start < len(scored); start += chunk {
		end := start + chunk
		if end > len(scored) {
			end = len(scored)
		}
		lo, hi := start, end
		p.Go(func() {
			for i := lo; i < hi; i++ {
				if ctx.Err() != nil {
					return
				}
				keep[i] = s.ScorePair(&scored[i])
			}
			tracker.Add(int64(hi - lo))
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		tracker.CompleteWithError(err)
		return nil, err
	}
	tracker.Complete()

	survivors := scored[:0]
	for i := range scored {
		if keep[i] {
			survivors = append(survivors, scored[i])
		}
	}

	s.logger.WithFields(logger.Fields{
		"candidates": len(candidates),
		"eligible":   len(survivors),
	}).Debug("Rule scoring finished")

	return survivors, nil
}
