package matcher

import (
	"context"
	"math"
	"testing"

	"ledger-reconciliation-service/internal/models"
	"ledger-reconciliation-service/internal/semantic"

	"github.com/shopspring/decimal"
)

func newTestMatcher(t *testing.T, config *MatchingConfig) *Matcher {
	t.Helper()
	m, err := NewMatcher(config, semantic.NewHashingEmbedder(semantic.DefaultHashingDimensions), nil)
	if err != nil {
		t.Fatalf("Failed to create matcher: %v", err)
	}
	return m
}

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(c *MatchingConfig) {}, false},
		{"negative tolerance", func(c *MatchingConfig) { c.AmountTolerance = decimal.NewFromInt(-1) }, true},
		{"negative window", func(c *MatchingConfig) { c.DateWindowDays = -1 }, true},
		{"weights not summing to one", func(c *MatchingConfig) { c.RuleWeight = 0.7 }, true},
		{"min confidence above one", func(c *MatchingConfig) { c.MinConfidence = 1.5 }, true},
		{"zero rule weights", func(c *MatchingConfig) { c.RuleWeights = RuleWeights{} }, true},
		{"no workers", func(c *MatchingConfig) { c.Workers = 0 }, true},
		{"zero tolerance allowed", func(c *MatchingConfig) { c.AmountTolerance = decimal.Zero }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	for _, config := range []*MatchingConfig{StrictMatchingConfig(), RelaxedMatchingConfig()} {
		if err := config.Validate(); err != nil {
			t.Errorf("Expected preset to be valid: %v", err)
		}
	}
}

func TestAmountScoreToleranceBoundary(t *testing.T) {
	scorer := NewRuleScorer(DefaultMatchingConfig())

	tests := []struct {
		delta     string
		wantScore float64
		wantOK    bool
	}{
		{"0", 1, true},
		{"2.50", 0.5, true},
		{"4.99", 0.002, true},
		{"5.00", 0, false},
		{"7.25", 0, false},
	}

	for _, tt := range tests {
		score, ok := scorer.AmountScore(decimal.RequireFromString(tt.delta))
		if ok != tt.wantOK {
			t.Errorf("delta %s: expected eligible=%v, got %v", tt.delta, tt.wantOK, ok)
		}
		if math.Abs(score-tt.wantScore) > 1e-9 {
			t.Errorf("delta %s: expected score %.4f, got %.4f", tt.delta, tt.wantScore, score)
		}
	}
}

func TestAmountScoreZeroTolerance(t *testing.T) {
	config := DefaultMatchingConfig()
	config.AmountTolerance = decimal.Zero
	scorer := NewRuleScorer(config)

	if score, ok := scorer.AmountScore(decimal.Zero); !ok || score != 1 {
		t.Errorf("Expected exact amount to be eligible with score 1, got %v %.2f", ok, score)
	}
	if _, ok := scorer.AmountScore(decimal.RequireFromString("0.01")); ok {
		t.Error("Expected any difference to be ineligible")
	}
}

func TestDateScore(t *testing.T) {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 4
	scorer := NewRuleScorer(config)

	expected := map[int]float64{0: 1, 1: 0.75, 2: 0.5, 4: 0}
	for days, want := range expected {
		if got := scorer.DateScore(days); math.Abs(got-want) > 1e-9 {
			t.Errorf("DateScore(%d) = %.2f, want %.2f", days, got, want)
		}
	}

	config.DateWindowDays = 0
	if NewRuleScorer(config).DateScore(0) != 1 {
		t.Error("Expected same-day score 1 with zero window")
	}
}

func TestRuleScorerDropsIneligiblePairs(t *testing.T) {
	config := DefaultMatchingConfig()
	config.Workers = 4
	scorer := NewRuleScorer(config)

	bank := rec("B1", models.SourceBank, "100.00", 5, "")
	candidates := []Candidate{
		{Bank: bank, Ledger: rec("L1", models.SourceLedger, "100.00", 5, "")},
		{Bank: bank, Ledger: rec("L2", models.SourceLedger, "105.00", 5, "")},
		{Bank: bank, Ledger: rec("L3", models.SourceLedger, "98.00", 6, "")},
	}

	scored, err := scorer.Score(context.Background(), candidates)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("Expected 2 eligible pairs, got %d", len(scored))
	}
	if scored[0].Ledger.ID != "L1" || scored[1].Ledger.ID != "L3" {
		t.Errorf("Expected input order to be kept, got %s, %s", scored[0].Ledger.ID, scored[1].Ledger.ID)
	}
	if scored[0].Pair.RuleScore != 1 {
		t.Errorf("Expected exact pair to score 1, got %.3f", scored[0].Pair.RuleScore)
	}

	// amount 1 - 2/5 = 0.6, date 1 - 1/7
	want := (0.6 + (1 - 1.0/7)) / 2
	if math.Abs(scored[1].Pair.RuleScore-want) > 1e-9 {
		t.Errorf("Expected rule score %.4f, got %.4f", want, scored[1].Pair.RuleScore)
	}
	if scored[1].Pair.Breakdown.AmountDelta != "2" || scored[1].Pair.Breakdown.DayDelta != 1 {
		t.Errorf("Unexpected breakdown: %+v", scored[1].Pair.Breakdown)
	}
}

func TestRuleScorerRejectsOppositeDirections(t *testing.T) {
	scorer := NewRuleScorer(DefaultMatchingConfig())

	tests := []struct {
		bank, ledger string
		eligible     bool
	}{
		{"100.00", "-100.00", false},
		{"-2.00", "2.00", false},
		{"-100.00", "-101.00", true},
		{"0.00", "-1.00", true},
	}

	for _, tt := range tests {
		c := Candidate{
			Bank:   rec("B1", models.SourceBank, tt.bank, 5, "ACME"),
			Ledger: rec("L1", models.SourceLedger, tt.ledger, 5, "ACME"),
		}
		if got := scorer.ScorePair(&c); got != tt.eligible {
			t.Errorf("Expected %s vs %s eligible=%v, got %v", tt.bank, tt.ledger, tt.eligible, got)
		}
	}
}

func TestRuleScorerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bank := rec("B1", models.SourceBank, "1", 5, "")
	_, err := NewRuleScorer(DefaultMatchingConfig()).Score(ctx, []Candidate{
		{Bank: bank, Ledger: rec("L1", models.SourceLedger, "1", 5, "")},
	})
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCombinerWeights(t *testing.T) {
	combiner := NewCombiner(DefaultMatchingConfig())

	exact := Candidate{Pair: models.CandidatePair{
		RuleScore:     1,
		SemanticScore: 0.5,
		Breakdown:     models.ScoreBreakdown{AmountScore: 1, DateScore: 1},
	}}
	combiner.Combine(&exact)
	if math.Abs(exact.Pair.Confidence-(0.7+0.3*0.5)) > 1e-9 {
		t.Errorf("Expected exact weighting, got %.4f", exact.Pair.Confidence)
	}
	if exact.Pair.Breakdown.RuleWeight != 0.7 {
		t.Errorf("Expected rule weight 0.7 recorded, got %.2f", exact.Pair.Breakdown.RuleWeight)
	}

	fuzzy := Candidate{Pair: models.CandidatePair{
		RuleScore:     0.8,
		SemanticScore: 0.4,
		Breakdown:     models.ScoreBreakdown{AmountScore: 0.6, DateScore: 1},
	}}
	combiner.Combine(&fuzzy)
	if math.Abs(fuzzy.Pair.Confidence-0.6) > 1e-9 {
		t.Errorf("Expected 0.6, got %.4f", fuzzy.Pair.Confidence)
	}
}

func TestScoreCandidatesScenarioA(t *testing.T) {
	m := newTestMatcher(t, DefaultMatchingConfig())

	bank := []*models.Record{rec("B1", models.SourceBank, "100.00", 5, "UBER TRIP")}
	ledger := []*models.Record{rec("L1", models.SourceLedger, "100.00", 5, "Uber Rides")}

	scored, stats, err := m.ScoreCandidates(context.Background(), bank, ledger)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(scored) != 1 {
		t.Fatalf("Expected 1 scored pair, got %d", len(scored))
	}
	if scored[0].Pair.Confidence < 0.6 {
		t.Errorf("Expected confidence >= 0.6, got %.3f", scored[0].Pair.Confidence)
	}
	if stats.WindowPairs != 1 || stats.EligiblePairs != 1 || stats.ScoredPairs != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestScoreCandidatesRespectsHardFilters(t *testing.T) {
	m := newTestMatcher(t, DefaultMatchingConfig())

	bank := []*models.Record{rec("B1", models.SourceBank, "100.00", 1, "RENT")}
	ledger := []*models.Record{
		rec("L1", models.SourceLedger, "100.00", 20, "RENT"),
		rec("L2", models.SourceLedger, "150.00", 1, "RENT"),
	}

	scored, stats, err := m.ScoreCandidates(context.Background(), bank, ledger)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(scored) != 0 {
		t.Errorf("Expected identical descriptions not to override hard filters, got %d pairs", len(scored))
	}
	if stats.WindowPairs != 1 || stats.EligiblePairs != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestDescribeMatch(t *testing.T) {
	matchType, reasons := DescribeMatch(models.ScoreBreakdown{AmountScore: 1, DateScore: 1, SemanticScore: 0.9}, 0.97)
	if matchType != models.MatchExact {
		t.Errorf("Expected exact, got %s", matchType)
	}
	if len(reasons) != 3 || reasons[0] != "Exact amount match" || reasons[1] != "Same date" {
		t.Errorf("Unexpected reasons: %v", reasons)
	}

	matchType, _ = DescribeMatch(models.ScoreBreakdown{AmountScore: 0.9, DateScore: 0.8, DayDelta: 2, AmountDelta: "0.5"}, 0.9)
	if matchType != models.MatchClose {
		t.Errorf("Expected close, got %s", matchType)
	}

	matchType, _ = DescribeMatch(models.ScoreBreakdown{AmountScore: 0.2, DayDelta: 6, AmountDelta: "4"}, 0.61)
	if matchType != models.MatchFuzzy {
		t.Errorf("Expected fuzzy, got %s", matchType)
	}
}

func TestNewMatcherRequiresEmbedder(t *testing.T) {
	if _, err := NewMatcher(DefaultMatchingConfig(), nil, nil); err == nil {
		t.Error("Expected error without embedder")
	}

	bad := DefaultMatchingConfig()
	bad.MinConfidence = -1
	if _, err := NewMatcher(bad, semantic.NewHashingEmbedder(8), nil); err == nil {
		t.Error("Expected error for invalid config")
	}
}
