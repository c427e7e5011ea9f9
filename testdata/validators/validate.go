package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"ledger-reconciliation-service/internal/assignment"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/parsers"
	"ledger-reconciliation-service/internal/reconciler"
)

// Expected mirrors the manifest written by the generators
type Expected struct {
	Scenario   string            `json:"scenario"`
	Seed       int64             `json:"seed"`
	Pairs      map[string]string `json:"pairs"`
	Duplicates []string          `json:"duplicates,omitempty"`
}

// ScenarioReport holds the accuracy figures for one scenario run
type ScenarioReport struct {
	Scenario        string        `json:"scenario"`
	BankRecords     int           `json:"bank_records"`
	LedgerRecords   int           `json:"ledger_records"`
	ExpectedPairs   int           `json:"expected_pairs"`
	Matched         int           `json:"matched"`
	CorrectMatches  int           `json:"correct_matches"`
	Precision       float64       `json:"precision"`
	Recall          float64       `json:"recall"`
	DuplicatesFound int           `json:"duplicates_found"`
	Violations      []string      `json:"violations,omitempty"`
	Duration        time.Duration `json:"duration"`
}

func main() {
	var (
		dataDir   = flag.String("data-dir", "../generated", "Directory containing generated scenarios")
		scenario  = flag.String("scenario", "all", "Scenario to validate, or 'all'")
		minRecall = flag.Float64("min-recall", 0.9, "Fail when recall drops below this value")
		strategy  = flag.String("strategy", "global", "Assignment strategy: global or greedy")
		report    = flag.String("report", "", "Write the JSON report to this file (optional)")
	)
	flag.Parse()

	dirs, err := scenarioDirs(*dataDir, *scenario)
	if err != nil {
		log.Fatalf("Failed to list scenarios: %v", err)
	}

	cfg := reconciler.DefaultConfig()
	cfg.Strategy = assignment.Strategy(*strategy)

	var reports []*ScenarioReport
	failed := false
	for _, dir := range dirs {
		r, err := validateScenario(context.Background(), cfg, dir)
		if err != nil {
			log.Fatalf("Failed to validate %s: %v", dir, err)
		}
		reports = append(reports, r)

		status := "PASS"
		if r.Recall < *minRecall || len(r.Violations) > 0 {
			status = "FAIL"
			failed = true
		}
		fmt.Printf("%-12s %s precision=%.3f recall=%.3f matched=%d/%d duplicates=%d (%v)\n",
			r.Scenario, status, r.Precision, r.Recall, r.Matched, r.ExpectedPairs, r.DuplicatesFound, r.Duration.Round(time.Millisecond))
		for _, v := range r.Violations {
			fmt.Printf("    ✗ %s\n", v)
		}
	}

	if *report != "" {
		data, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		if err := os.WriteFile(*report, data, 0644); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
	}

	if failed {
		os.Exit(1)
	}
}

func scenarioDirs(dataDir, scenario string) ([]string, error) {
	if scenario != "all" {
		return []string{filepath.Join(dataDir, scenario)}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dataDir, "*", "expected.json"))
	if err != nil {
		return nil, err
	}
	dirs := make([]string, len(matches))
	for i, m := range matches {
		dirs[i] = filepath.Dir(m)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func validateScenario(ctx context.Context, cfg *reconciler.Config, dir string) (*ScenarioReport, error) {
	expected, err := loadExpected(filepath.Join(dir, "expected.json"))
	if err != nil {
		return nil, err
	}

	parsed, err := parsers.ParseSources(ctx, parsers.SourceFiles{
		BankFile:   filepath.Join(dir, "bank.csv"),
		LedgerFile: filepath.Join(dir, "ledger.csv"),
	}, parsers.DefaultStreamingConfig())
	if err != nil {
		return nil, err
	}

	embedder, closer, err := reconciler.NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	engine, err := reconciler.NewEngine(cfg, embedder, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := engine.Reconcile(ctx, parsed.Bank, parsed.Ledger)
	if err != nil {
		return nil, err
	}

	r := &ScenarioReport{
		Scenario:      expected.Scenario,
		BankRecords:   len(parsed.Bank),
		LedgerRecords: len(parsed.Ledger),
		ExpectedPairs: len(expected.Pairs),
		Matched:       len(result.Matches),
		Duration:      time.Since(start),
	}

	for _, m := range result.Matches {
		if expected.Pairs[m.Bank.ID] == m.Ledger.ID {
			r.CorrectMatches++
		}
	}
	r.Precision = ratio(r.CorrectMatches, r.Matched)
	r.Recall = ratio(r.CorrectMatches, r.ExpectedPairs)

	duplicates := make(map[string]bool, len(expected.Duplicates))
	for _, id := range expected.Duplicates {
		duplicates[id] = true
	}
	for _, d := range result.Discrepancies {
		if d.Type != models.DiscrepancyDuplicateCandidate {
			continue
		}
		for _, rec := range d.Records {
			if duplicates[rec.ID] {
				r.DuplicatesFound++
			}
		}
	}

	r.Violations = checkPartition(parsed.Bank, parsed.Ledger, result)
	return r, nil
}

// checkPartition verifies every input record is either matched exactly once
// or reported as unmatched, never both.
func checkPartition(bank, ledger []*models.Record, result *reconciler.Result) []string {
	var violations []string
	seen := make(map[string]int)

	for _, m := range result.Matches {
		seen["bank/"+m.Bank.ID]++
		seen["ledger/"+m.Ledger.ID]++
	}
	for _, rec := range result.UnmatchedBank {
		seen["bank/"+rec.ID]++
	}
	for _, rec := range result.UnmatchedLedger {
		seen["ledger/"+rec.ID]++
	}

	for _, rec := range bank {
		if n := seen["bank/"+rec.ID]; n != 1 {
			violations = append(violations, fmt.Sprintf("bank record %s appears %d times", rec.ID, n))
		}
	}
	for _, rec := range ledger {
		if n := seen["ledger/"+rec.ID]; n != 1 {
			violations = append(violations, fmt.Sprintf("ledger record %s appears %d times", rec.ID, n))
		}
	}
	return violations
}

func loadExpected(path string) (*Expected, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var expected Expected
	if err := json.Unmarshal(data, &expected); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &expected, nil
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 1
	}
	return float64(n) / float64(d)
}
