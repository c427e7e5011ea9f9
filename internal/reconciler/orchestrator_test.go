package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger-reconciliation-service/internal/models"
)

func TestProgressCallbackStageOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []Progress
	)
	engine := newTestEngine(t, DefaultConfig(), nil, WithProgressCallback(func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, p)
	}))

	result, err := engine.Reconcile(context.Background(),
		[]*models.Record{
			bankRec("B1", "100.00", "2024-01-05", "UBER TRIP"),
			bankRec("B2", "42.00", "2024-01-06", "COFFEE"),
		},
		[]*models.Record{ledgerRec("L1", "100.00", "2024-01-05", "Uber Rides")},
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(updates) != len(stageOrder) {
		t.Fatalf("Expected %d progress updates, got %d", len(stageOrder), len(updates))
	}

	for i, p := range updates {
		if p.Stage != stageOrder[i] {
			t.Errorf("Update %d: expected stage %s, got %s", i, stageOrder[i], p.Stage)
		}
		if p.RunID != result.RunID {
			t.Errorf("Update %d: expected run id %s, got %s", i, result.RunID, p.RunID)
		}
		if p.BankRecords != 2 || p.LedgerRecords != 1 {
			t.Errorf("Update %d: unexpected record counts %d/%d", i, p.BankRecords, p.LedgerRecords)
		}
		if i > 0 && p.PercentComplete < updates[i-1].PercentComplete {
			t.Errorf("Update %d: progress went backwards", i)
		}
	}

	first, last := updates[0], updates[len(updates)-1]
	if first.PercentComplete != 0 {
		t.Errorf("Expected 0%% at start, got %.1f", first.PercentComplete)
	}
	if last.PercentComplete != 100 || last.EstimatedRemaining != 0 {
		t.Errorf("Expected 100%% with nothing remaining, got %.1f / %s", last.PercentComplete, last.EstimatedRemaining)
	}
	if last.MatchesFound != 1 {
		t.Errorf("Expected 1 match reported, got %d", last.MatchesFound)
	}
	if last.CandidatePairs == 0 {
		t.Error("Expected candidate pairs to be reported")
	}
}

func TestProgressStopsAtFailedStage(t *testing.T) {
	var stages []Stage
	engine := newTestEngine(t, DefaultConfig(), nil, WithProgressCallback(func(p Progress) {
		stages = append(stages, p.Stage)
	}))

	_, err := engine.Reconcile(context.Background(),
		[]*models.Record{bankRec("B1", "1.00", "2024-01-01", ""), bankRec("B1", "2.00", "2024-01-01", "")},
		nil)
	if err == nil {
		t.Fatal("Expected validation error")
	}

	if len(stages) != 1 || stages[0] != StageValidating {
		t.Errorf("Expected only the validating stage, got %v", stages)
	}
}

func TestRunProgressEstimate(t *testing.T) {
	var got []Progress
	p := newRunProgress("run", 3, 4, []ProgressCallback{func(pr Progress) { got = append(got, pr) }})
	p.start = time.Now().Add(-2 * time.Second)

	p.enter(StageAssigning)

	if len(got) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(got))
	}
	if got[0].CompletedSteps != 2 || got[0].TotalSteps != 5 {
		t.Errorf("Expected 2/5 steps, got %d/%d", got[0].CompletedSteps, got[0].TotalSteps)
	}
	if got[0].PercentComplete != 40 {
		t.Errorf("Expected 40%%, got %.1f", got[0].PercentComplete)
	}
	if got[0].EstimatedRemaining < 2*time.Second {
		t.Errorf("Expected remaining estimate of at least 2s, got %s", got[0].EstimatedRemaining)
	}
}

func TestValidateRecords(t *testing.T) {
	bank := []*models.Record{bankRec("B1", "1.00", "2024-01-01", "")}
	ledger := []*models.Record{ledgerRec("L1", "1.00", "2024-01-01", "")}

	if err := ValidateRecords(bank, ledger); err != nil {
		t.Errorf("Expected valid input, got %v", err)
	}

	if err := ValidateRecords(nil, nil); err != nil {
		t.Errorf("Expected empty input to be valid, got %v", err)
	}

	if err := ValidateRecords([]*models.Record{nil}, ledger); err == nil {
		t.Error("Expected error for nil record")
	}

	// Ids only need to be unique within one source.
	shared := []*models.Record{ledgerRec("B1", "1.00", "2024-01-01", "")}
	if err := ValidateRecords(bank, shared); err != nil {
		t.Errorf("Expected ids to be scoped per source, got %v", err)
	}
}
