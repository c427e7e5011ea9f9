// Package reconciler runs a complete reconciliation: it validates the two
// record lists, scores candidate pairs, resolves them one-to-one, classifies
// what is left over and optionally asks a language model to explain it.
//
// An Engine holds only configuration and stateless collaborators, so one
// Engine may serve concurrent runs. Each run gets its own id and progress
// state and publishes its Result only once every stage has succeeded.
//
// Example usage:
//
//	engine, err := reconciler.NewEngine(reconciler.DefaultConfig(), semantic.NewHashingEmbedder(256), nil,
//		reconciler.WithProgressCallback(func(p reconciler.Progress) {
//			fmt.Printf("%s: %.0f%%\n", p.Stage, p.PercentComplete)
//		}))
//
//	result, err := engine.Reconcile(ctx, bankRecords, ledgerRecords)
package reconciler

import (
	"context"
	"fmt"
	"time"

	"ledger-reconciliation-service/internal/assignment"
	"ledger-reconciliation-service/internal/discrepancy"
	"ledger-reconciliation-service/internal/explain"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/semantic"
	"ledger-reconciliation-service/pkg/errors"
	"ledger-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// Engine orchestrates reconciliation runs.
type Engine struct {
	config     *Config
	matcher    *matcher.Matcher
	solver     assignment.Solver
	classifier *discrepancy.Classifier
	adapter    *explain.Adapter
	callbacks  []ProgressCallback
	logger     logger.Logger
}

type engineOptions struct {
	indexBuilder semantic.IndexBuilder
	callbacks    []ProgressCallback
}

// Option customises an Engine.
type Option func(*engineOptions)

// WithProgressCallback registers a callback invoked as each run changes stage.
func WithProgressCallback(callback ProgressCallback) Option {
	return func(o *engineOptions) {
		o.callbacks = append(o.callbacks, callback)
	}
}

// WithIndexBuilder replaces the exact flat nearest-neighbour index.
func WithIndexBuilder(builder semantic.IndexBuilder) Option {
	return func(o *engineOptions) {
		o.indexBuilder = builder
	}
}

// NewEngine creates an engine. The explainer may be nil, in which case
// explanation enrichment is skipped even when EnableLLM is set.
func NewEngine(config *Config, embedder semantic.Embedder, explainer explain.Explainer, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}

	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}

	m, err := matcher.NewMatcher(&config.MatchingConfig, embedder, options.indexBuilder)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", nil, err)
	}

	solver, err := assignment.New(config.Strategy, config.MaxComponentSize)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "strategy", config.Strategy, err)
	}

	severity := config.Severity
	classifier, err := discrepancy.NewClassifier(&severity)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "severity", nil, err)
	}

	log := logger.GetGlobalLogger().WithComponent("reconciler")
	if config.EnableLLM && explainer == nil {
		log.Warn("enable_llm is set but no explainer is configured, explanations will be skipped")
	}

	copied := *config
	return &Engine{
		config:     &copied,
		matcher:    m,
		solver:     solver,
		classifier: classifier,
		adapter:    explain.NewAdapter(config.AdapterConfig(), explainer),
		callbacks:  options.callbacks,
		logger:     log,
	}, nil
}

// Config returns a copy of the engine's configuration
func (e *Engine) Config() Config {
	return *e.config
}

// Reconcile runs one reconciliation. Invalid input aborts with aggregated
// ValidationErrors; a broken invariant aborts with a MatchingError; a
// cancelled ctx aborts with ctx.Err(). No partial Result is ever returned.
func (e *Engine) Reconcile(ctx context.Context, bank, ledger []*models.Record) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	log := e.logger.WithField("run_id", runID)
	op := logger.NewOperationLogger("reconcile", log).
		WithField("bank_records", len(bank)).
		WithField("ledger_records", len(ledger))
	progress := newRunProgress(runID, len(bank), len(ledger), e.callbacks)

	progress.enter(StageValidating)
	if err := ValidateRecords(bank, ledger); err != nil {
		op.Error(err, "Input validation failed")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.enter(StageScoring)
	candidates, stats, err := e.matcher.ScoreCandidates(ctx, bank, ledger)
	if err != nil {
		return nil, e.stageError(ctx, op, err, "scoring")
	}
	progress.current.CandidatePairs = len(candidates)
	op.Step("scoring", logger.Fields{
		"window_pairs":   stats.WindowPairs,
		"eligible_pairs": stats.EligiblePairs,
		"scored_pairs":   stats.ScoredPairs,
	})

	progress.enter(StageAssigning)
	pairs := make([]models.CandidatePair, len(candidates))
	for i, c := range candidates {
		pairs[i] = c.Pair
	}
	solved, err := e.solver.Solve(pairs, e.config.MinConfidence)
	if err != nil {
		return nil, e.stageError(ctx, op, err, "assignment")
	}

	result, err := assemble(runID, bank, ledger, solved.Pairs)
	if err != nil {
		op.Error(err, "Assignment broke an invariant")
		return nil, err
	}
	progress.current.MatchesFound = len(result.Matches)
	op.Step("assignment", logger.Fields{"strategy": solved.Strategy, "matches": len(result.Matches)})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	progress.enter(StageClassifying)
	result.Discrepancies = e.classifier.Classify(discrepancy.Input{
		Bank:          bank,
		Ledger:        ledger,
		Matches:       result.Matches,
		Candidates:    pairs,
		MinConfidence: e.config.MinConfidence,
	})
	if result.Discrepancies == nil {
		result.Discrepancies = []*models.Discrepancy{}
	}

	progress.enter(StageExplaining)
	explained, err := e.adapter.Enrich(ctx, result.Discrepancies)
	if err != nil {
		return nil, err
	}

	result.Summary = summarize(result, *stats, solved.Strategy, explained, time.Since(start))

	progress.enter(StageCompleted)
	op.WithField("matched", result.Summary.Matched).
		WithField("discrepancies", result.Summary.Discrepancies).
		WithField("degraded", result.Summary.Degraded).
		Success("Reconciliation completed")

	return result, nil
}

func (e *Engine) stageError(ctx context.Context, op *logger.OperationLogger, err error, stage string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	op.Error(err, fmt.Sprintf("Stage %s failed", stage))
	if _, ok := errors.AsReconcilerError(err); ok {
		return err
	}
	return errors.MatchingError(errors.CodeScoringFailed, stage, err)
}

// assemble resolves accepted pairs to records and derives the residue sets,
// checking that every record ends up in exactly one place.
func assemble(runID string, bank, ledger []*models.Record, accepted []models.CandidatePair) (*Result, error) {
	bankByID := make(map[string]*models.Record, len(bank))
	for _, r := range bank {
		bankByID[r.ID] = r
	}
	ledgerByID := make(map[string]*models.Record, len(ledger))
	for _, r := range ledger {
		ledgerByID[r.ID] = r
	}

	result := &Result{
		RunID:           runID,
		Matches:         make([]*models.Match, 0, len(accepted)),
		UnmatchedBank:   []*models.Record{},
		UnmatchedLedger: []*models.Record{},
	}

	matchedBank := make(map[string]bool, len(accepted))
	matchedLedger := make(map[string]bool, len(accepted))
	for _, p := range accepted {
		b, l := bankByID[p.BankID], ledgerByID[p.LedgerID]
		if b == nil || l == nil {
			return nil, errors.MatchingError(errors.CodeInvariantViolation, "assignment",
				fmt.Errorf("accepted pair %s/%s references an unknown record", p.BankID, p.LedgerID))
		}
		matchedBank[p.BankID] = true
		matchedLedger[p.LedgerID] = true

		matchType, reasons := matcher.DescribeMatch(p.Breakdown, p.Confidence)
		result.Matches = append(result.Matches, &models.Match{
			Bank:       b,
			Ledger:     l,
			Confidence: p.Confidence,
			MatchType:  matchType,
			Breakdown:  p.Breakdown,
			Reasons:    reasons,
		})
	}

	for _, r := range bank {
		if !matchedBank[r.ID] {
			result.UnmatchedBank = append(result.UnmatchedBank, r)
		}
	}
	for _, r := range ledger {
		if !matchedLedger[r.ID] {
			result.UnmatchedLedger = append(result.UnmatchedLedger, r)
		}
	}

	if len(result.Matches)+len(result.UnmatchedBank) != len(bank) ||
		len(result.Matches)+len(result.UnmatchedLedger) != len(ledger) {
		return nil, errors.MatchingError(errors.CodeInvariantViolation, "conservation",
			fmt.Errorf("records not conserved: %d matches, %d/%d unmatched bank, %d/%d unmatched ledger",
				len(result.Matches), len(result.UnmatchedBank), len(bank), len(result.UnmatchedLedger), len(ledger)))
	}
	return result, nil
}
