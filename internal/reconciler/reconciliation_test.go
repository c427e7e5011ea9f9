package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"ledger-reconciliation-service/internal/assignment"
	"ledger-reconciliation-service/internal/explain"
	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/semantic"
	"ledger-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func date(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func bankRec(id, amount, day, desc string) *models.Record {
	return models.NewRecord(id, models.SourceBank, decimal.RequireFromString(amount), date(day), desc)
}

func ledgerRec(id, amount, day, desc string) *models.Record {
	return models.NewRecord(id, models.SourceLedger, decimal.RequireFromString(amount), date(day), desc)
}

func newTestEngine(t *testing.T, config *Config, explainer explain.Explainer, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(config, semantic.NewHashingEmbedder(semantic.DefaultHashingDimensions), explainer, opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "random" }},
		{"bad min confidence", func(c *Config) { c.MinConfidence = 2 }},
		{"bad ticket severity", func(c *Config) { c.MinSeverityForTickets = models.Severity(9) }},
		{"bad embedder backend", func(c *Config) { c.Embedder.Backend = "word2vec" }},
		{"zero explain timeout", func(c *Config) { c.Explain.Timeout = 0 }},
		{"unordered severity", func(c *Config) { c.Severity.Days.High = 1 }},
		{"no component size", func(c *Config) { c.MaxComponentSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Strategy = "random"

	_, err := NewEngine(config, semantic.NewHashingEmbedder(8), nil)
	if err == nil {
		t.Fatal("Expected error for invalid config")
	}
	if rerr, ok := errors.AsReconcilerError(err); !ok || rerr.Category != errors.CategoryConfiguration {
		t.Errorf("Expected configuration error, got %v", err)
	}

	if _, err := NewEngine(DefaultConfig(), nil, nil); err == nil {
		t.Error("Expected error without embedder")
	}
}

func TestReconcileScenarioA(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{bankRec("B1", "100.00", "2024-01-05", "UBER TRIP")},
		[]*models.Record{ledgerRec("L1", "100.00", "2024-01-05", "Uber Rides")},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	m := result.Matches[0]
	if m.Confidence < 0.6 {
		t.Errorf("Expected confidence >= 0.6, got %.3f", m.Confidence)
	}
	if m.MatchType != models.MatchExact {
		t.Errorf("Expected exact match, got %s", m.MatchType)
	}
	if len(result.Discrepancies) != 0 {
		t.Errorf("Expected no discrepancies, got %v", result.Discrepancies)
	}
	if result.RunID == "" {
		t.Error("Expected a run id")
	}
}

func TestReconcileNeverPairsDebitWithCredit(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{
			bankRec("B1", "100.00", "2024-01-05", "ACME REFUND"),
			bankRec("B2", "-42.10", "2024-01-06", "STARBUCKS"),
		},
		[]*models.Record{
			ledgerRec("L1", "-100.00", "2024-01-05", "ACME purchase"),
			ledgerRec("L2", "-42.10", "2024-01-06", "Starbucks"),
		},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 || result.Matches[0].Bank.ID != "B2" || result.Matches[0].Ledger.ID != "L2" {
		t.Fatalf("Expected only the two debits to match, got %v", result.Matches)
	}
	if len(result.UnmatchedBank) != 1 || result.UnmatchedBank[0].ID != "B1" {
		t.Errorf("Expected refund B1 unmatched, got %v", result.UnmatchedBank)
	}
	if len(result.UnmatchedLedger) != 1 || result.UnmatchedLedger[0].ID != "L1" {
		t.Errorf("Expected purchase L1 unmatched, got %v", result.UnmatchedLedger)
	}
	if result.Summary.ByType[models.DiscrepancyMissingInLedger] != 1 || result.Summary.ByType[models.DiscrepancyMissingInBank] != 1 {
		t.Errorf("Expected one missing record per side, got %v", result.Summary.ByType)
	}
}

func TestReconcileScenarioB(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{bankRec("B1", "176.89", "2024-02-01", "GAS STATION")},
		[]*models.Record{ledgerRec("L1", "176.89", "2024-03-15", "Fuel")},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 0 {
		t.Fatalf("Expected no matches, got %d", len(result.Matches))
	}
	if len(result.Discrepancies) != 2 {
		t.Fatalf("Expected 2 discrepancies, got %d", len(result.Discrepancies))
	}

	d := result.Discrepancies[0]
	if d.Type != models.DiscrepancyMissingInLedger || d.Records[0].ID != "B1" {
		t.Errorf("Expected missing_in_ledger for B1, got %s", d)
	}
	if result.Discrepancies[1].Type != models.DiscrepancyMissingInBank {
		t.Errorf("Expected missing_in_bank second, got %s", result.Discrepancies[1].Type)
	}

	s := result.Summary
	if s.UnmatchedBank != 1 || s.UnmatchedLedger != 1 || s.Discrepancies != 2 {
		t.Errorf("Unexpected summary: %+v", s)
	}
	if s.ByType[models.DiscrepancyMissingInLedger] != 1 || s.ByType[models.DiscrepancyAmountMismatch] != 0 {
		t.Errorf("Unexpected by_type: %v", s.ByType)
	}
}

func TestReconcileScenarioC(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{bankRec("B1", "50.00", "2024-01-10", "OFFICE SUPPLIES")},
		[]*models.Record{ledgerRec("L1", "50.05", "2024-01-10", "office supplies")},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(result.Matches) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(result.Matches))
	}
	if len(result.Discrepancies) != 1 {
		t.Fatalf("Expected 1 discrepancy, got %d", len(result.Discrepancies))
	}

	d := result.Discrepancies[0]
	if d.Type != models.DiscrepancyAmountMismatch {
		t.Errorf("Expected amount_mismatch, got %s", d.Type)
	}
	if d.Severity != models.SeverityLow {
		t.Errorf("Expected low severity, got %s", d.Severity)
	}
	if d.Magnitude != "0.05" {
		t.Errorf("Expected magnitude 0.05, got %s", d.Magnitude)
	}
}

func TestReconcileScenarioD(t *testing.T) {
	config := DefaultConfig()
	config.EnableLLM = true
	config.Explain.Timeout = 20 * time.Millisecond

	explainer := explain.ExplainerFunc(func(ctx context.Context, req explain.Request) (*explain.Response, error) {
		if req.Records[0].ID == "B2" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &explain.Response{Explanation: "Payment not yet recorded in the ledger"}, nil
	})

	engine := newTestEngine(t, config, explainer)
	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{
			bankRec("B1", "176.89", "2024-02-01", "GAS STATION"),
			bankRec("B2", "12.00", "2024-02-02", "PARKING"),
		},
		nil,
	)
	if err != nil {
		t.Fatalf("Expected the run to succeed, got %v", err)
	}

	if len(result.Discrepancies) != 2 {
		t.Fatalf("Expected 2 discrepancies, got %d", len(result.Discrepancies))
	}
	if result.Discrepancies[0].LLMExplanation == nil {
		t.Error("Expected B1 to be explained")
	}
	if result.Discrepancies[1].LLMExplanation != nil {
		t.Error("Expected B2 explanation to stay null after timeout")
	}

	s := result.Summary
	if !s.Degraded || s.ExplanationsRequested != 2 || s.ExplanationsFailed != 1 {
		t.Errorf("Unexpected summary: %+v", s)
	}
	if s.UnmatchedBank != 2 || s.Discrepancies != 2 || s.Matched != 0 {
		t.Errorf("Unexpected counts: %+v", s)
	}

	out, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("Failed to marshal result: %v", err)
	}
	if !strings.Contains(string(out), `"llm_explanation":null`) {
		t.Error("Expected null llm_explanation in JSON output")
	}
}

func TestReconcileSkipsExplanationsWhenDisabled(t *testing.T) {
	called := false
	explainer := explain.ExplainerFunc(func(context.Context, explain.Request) (*explain.Response, error) {
		called = true
		return &explain.Response{Explanation: "x"}, nil
	})

	engine := newTestEngine(t, DefaultConfig(), explainer)
	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{bankRec("B1", "10.00", "2024-02-01", "X")}, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if called {
		t.Error("Expected explainer not to be called with enable_llm off")
	}
	if result.Summary.Degraded || result.Summary.ExplanationsRequested != 0 {
		t.Errorf("Unexpected summary: %+v", result.Summary)
	}
}

func TestReconcileValidationErrors(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	bank := []*models.Record{
		bankRec("B1", "10.00", "2024-01-01", ""),
		bankRec("B1", "11.00", "2024-01-02", ""),
		ledgerRec("L9", "12.00", "2024-01-03", ""),
	}
	ledger := []*models.Record{
		ledgerRec("", "10.00", "2024-01-01", ""),
		{ID: "L2", Source: models.SourceLedger, Amount: decimal.NewFromInt(1), Date: time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)},
	}

	result, err := engine.Reconcile(context.Background(), bank, ledger)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if result != nil {
		t.Error("Expected no partial result")
	}

	flat := errors.Flatten(err)
	if len(flat) != 4 {
		t.Fatalf("Expected 4 aggregated errors, got %d: %v", len(flat), err)
	}

	wantCodes := []errors.ErrorCode{errors.CodeDuplicateID, errors.CodeInvalidSource, errors.CodeMissingField, errors.CodeInvalidDate}
	for i, e := range flat {
		if e.Category != errors.CategoryValidation {
			t.Errorf("Expected validation category, got %s", e.Category)
		}
		if e.Code != wantCodes[i] {
			t.Errorf("Error %d: expected code %s, got %s", i, wantCodes[i], e.Code)
		}
		if e.Context["stage"] != stageValidation {
			t.Errorf("Error %d: expected stage context, got %v", i, e.Context)
		}
	}
	if flat[0].Context["record_id"] != "B1" {
		t.Errorf("Expected duplicate error to name B1, got %v", flat[0].Context["record_id"])
	}
}

func TestReconcileCancelled(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Reconcile(ctx,
		[]*models.Record{bankRec("B1", "10.00", "2024-01-01", "")},
		[]*models.Record{ledgerRec("L1", "10.00", "2024-01-01", "")})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Error("Expected no result for a cancelled run")
	}
}

func randomRecords(rng *rand.Rand, n int) ([]*models.Record, []*models.Record) {
	words := []string{"UBER", "RENT", "COFFEE", "PAYROLL", "AWS", "FUEL", "LUNCH", "OFFICE"}
	var bank, ledger []*models.Record
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(rng.Intn(5000))).Div(decimal.NewFromInt(100)).Add(decimal.NewFromInt(10))
		day := time.Date(2024, 1, 1+rng.Intn(20), 0, 0, 0, 0, time.UTC)
		desc := words[rng.Intn(len(words))] + " " + words[rng.Intn(len(words))]
		bank = append(bank, models.NewRecord(fmt.Sprintf("B%03d", i), models.SourceBank, amount, day, desc))

		if rng.Float64() < 0.8 {
			shift := decimal.NewFromInt(int64(rng.Intn(300))).Div(decimal.NewFromInt(100))
			ledger = append(ledger, models.NewRecord(fmt.Sprintf("L%03d", i), models.SourceLedger,
				amount.Add(shift), day.AddDate(0, 0, rng.Intn(4)), strings.ToLower(desc)))
		}
	}
	return bank, ledger
}

func TestReconcileConservationAndOneToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for _, strategy := range []assignment.Strategy{assignment.StrategyGlobal, assignment.StrategyGreedy} {
		config := DefaultConfig()
		config.Strategy = strategy
		engine := newTestEngine(t, config, nil)

		bank, ledger := randomRecords(rng, 60)
		result, err := engine.Reconcile(context.Background(), bank, ledger)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", strategy, err)
		}

		if len(result.Matches)+len(result.UnmatchedBank) != len(bank) {
			t.Errorf("%s: bank records not conserved", strategy)
		}
		if len(result.Matches)+len(result.UnmatchedLedger) != len(ledger) {
			t.Errorf("%s: ledger records not conserved", strategy)
		}

		seenBank := map[string]bool{}
		seenLedger := map[string]bool{}
		for _, m := range result.Matches {
			if seenBank[m.Bank.ID] || seenLedger[m.Ledger.ID] {
				t.Errorf("%s: record matched twice: %s/%s", strategy, m.Bank.ID, m.Ledger.ID)
			}
			seenBank[m.Bank.ID], seenLedger[m.Ledger.ID] = true, true
			if m.Confidence < config.MinConfidence {
				t.Errorf("%s: match below threshold: %.3f", strategy, m.Confidence)
			}
		}
		if result.Summary.Strategy != strategy {
			t.Errorf("Expected strategy %s in summary, got %s", strategy, result.Summary.Strategy)
		}
	}
}

func TestReconcileDeterministic(t *testing.T) {
	bank, ledger := randomRecords(rand.New(rand.NewSource(5)), 40)
	engine := newTestEngine(t, DefaultConfig(), nil)

	first, err := engine.Reconcile(context.Background(), bank, ledger)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := engine.Reconcile(context.Background(), bank, ledger)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if first.RunID == second.RunID {
		t.Error("Expected distinct run ids")
	}

	fingerprint := func(r *Result) string {
		var b strings.Builder
		for _, m := range r.Matches {
			fmt.Fprintf(&b, "m:%s-%s:%.6f;", m.Bank.ID, m.Ledger.ID, m.Confidence)
		}
		for _, d := range r.Discrepancies {
			fmt.Fprintf(&b, "d:%s;", d)
		}
		return b.String()
	}
	if fingerprint(first) != fingerprint(second) {
		t.Error("Expected identical outcomes for identical input")
	}
}

func TestReconcileConcurrentRuns(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	bank, ledger := randomRecords(rand.New(rand.NewSource(9)), 30)

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := engine.Reconcile(context.Background(), bank, ledger)
			errs <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
}
