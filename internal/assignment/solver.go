// Package assignment resolves a scored many-to-many candidate graph into a
// one-to-one set of accepted pairs.
//
// Two strategies are available. GlobalSolver, the default, solves a
// maximum-weight bipartite matching per connected component with the
// Hungarian algorithm. GreedySolver accepts pairs in descending confidence
// order and is kept as an explicit fast path; it can lock in a mediocre pair
// and starve a better overall pairing.
package assignment

import (
	"fmt"
	"sort"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/pkg/errors"
)

// Strategy names an assignment algorithm.
type Strategy string

const (
	StrategyGlobal Strategy = "global"
	StrategyGreedy Strategy = "greedy"
)

// IsValid checks if the strategy is supported
func (s Strategy) IsValid() bool {
	return s == StrategyGlobal || s == StrategyGreedy
}

// Assignment is the accepted, one-to-one subset of the candidate pairs,
// ordered by (bank id, ledger id).
type Assignment struct {
	Pairs    []models.CandidatePair
	Strategy Strategy
}

// Solver turns scored candidate pairs into an Assignment. Pairs below
// minConfidence are never accepted.
type Solver interface {
	Solve(pairs []models.CandidatePair, minConfidence float64) (*Assignment, error)
	Strategy() Strategy
}

// New returns the solver for strategy.
func New(strategy Strategy, maxComponentSize int) (Solver, error) {
	switch strategy {
	case StrategyGlobal, "":
		return NewGlobalSolver(maxComponentSize), nil
	case StrategyGreedy:
		return GreedySolver{}, nil
	default:
		return nil, fmt.Errorf("unknown assignment strategy %q", strategy)
	}
}

// eligible returns the pairs at or above the floor, keeping the best score
// for any repeated (bank, ledger) pair.
func eligible(pairs []models.CandidatePair, minConfidence float64) []models.CandidatePair {
	best := make(map[[2]string]int)
	var out []models.CandidatePair

	for _, p := range pairs {
		if p.Confidence < minConfidence {
			continue
		}
		key := [2]string{p.BankID, p.LedgerID}
		if i, ok := best[key]; ok {
			if p.Confidence > out[i].Confidence {
				out[i] = p
			}
			continue
		}
		best[key] = len(out)
		out = append(out, p)
	}
	return out
}

// sortByConfidence orders pairs by descending confidence, ties broken by
// ascending (bank id, ledger id).
func sortByConfidence(pairs []models.CandidatePair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].Confidence != pairs[j].Confidence {
			return pairs[i].Confidence > pairs[j].Confidence
		}
		if pairs[i].BankID != pairs[j].BankID {
			return pairs[i].BankID < pairs[j].BankID
		}
		return pairs[i].LedgerID < pairs[j].LedgerID
	})
}

func sortByIDs(pairs []models.CandidatePair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].BankID != pairs[j].BankID {
			return pairs[i].BankID < pairs[j].BankID
		}
		return pairs[i].LedgerID < pairs[j].LedgerID
	})
}

// Verify checks the one-to-one invariant and the confidence floor on an
// accepted set. A violation is always a solver bug.
func Verify(accepted []models.CandidatePair, minConfidence float64) error {
	banks := make(map[string]string, len(accepted))
	ledgers := make(map[string]string, len(accepted))

	for _, p := range accepted {
		if other, dup := banks[p.BankID]; dup {
			return errors.MatchingError(errors.CodeInvariantViolation, "assignment",
				fmt.Errorf("bank record %s assigned to ledger records %s and %s", p.BankID, other, p.LedgerID)).
				WithContext("record_id", p.BankID)
		}
		if other, dup := ledgers[p.LedgerID]; dup {
			return errors.MatchingError(errors.CodeInvariantViolation, "assignment",
				fmt.Errorf("ledger record %s assigned to bank records %s and %s", p.LedgerID, other, p.BankID)).
				WithContext("record_id", p.LedgerID)
		}
		if p.Confidence < minConfidence {
			return errors.MatchingError(errors.CodeInvariantViolation, "assignment",
				fmt.Errorf("pair %s/%s accepted below the confidence floor (%.4f < %.4f)", p.BankID, p.LedgerID, p.Confidence, minConfidence))
		}
		banks[p.BankID] = p.LedgerID
		ledgers[p.LedgerID] = p.BankID
	}
	return nil
}

// GreedySolver accepts pairs best-first.
type GreedySolver struct{}

// Strategy implements Solver
func (GreedySolver) Strategy() Strategy { return StrategyGreedy }

// Solve implements Solver
func (GreedySolver) Solve(pairs []models.CandidatePair, minConfidence float64) (*Assignment, error) {
	accepted := greedy(eligible(pairs, minConfidence))
	sortByIDs(accepted)

	if err := Verify(accepted, minConfidence); err != nil {
		return nil, err
	}
	return &Assignment{Pairs: accepted, Strategy: StrategyGreedy}, nil
}

func greedy(pairs []models.CandidatePair) []models.CandidatePair {
	ordered := make([]models.CandidatePair, len(pairs))
	copy(ordered, pairs)
	sortByConfidence(ordered)

	usedBank := make(map[string]bool)
	usedLedger := make(map[string]bool)
	var accepted []models.CandidatePair

	for _, p := range ordered {
		if usedBank[p.BankID] || usedLedger[p.LedgerID] {
			continue
		}
		usedBank[p.BankID] = true
		usedLedger[p.LedgerID] = true
		accepted = append(accepted, p)
	}
	return accepted
}
