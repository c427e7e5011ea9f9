package reconciler

import "time"

// Stage names a step of a reconciliation run.
type Stage string

const (
	StageValidating  Stage = "validating"
	StageScoring     Stage = "scoring"
	StageAssigning   Stage = "assigning"
	StageClassifying Stage = "classifying"
	StageExplaining  Stage = "explaining"
	StageCompleted   Stage = "completed"
)

var stageOrder = []Stage{StageValidating, StageScoring, StageAssigning, StageClassifying, StageExplaining, StageCompleted}

// Progress reports how far a run has got.
type Progress struct {
	RunID              string        `json:"run_id"`
	Stage              Stage         `json:"stage"`
	CompletedSteps     int           `json:"completed_steps"`
	TotalSteps         int           `json:"total_steps"`
	PercentComplete    float64       `json:"percent_complete"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`

	BankRecords    int `json:"bank_records"`
	LedgerRecords  int `json:"ledger_records"`
	CandidatePairs int `json:"candidate_pairs"`
	MatchesFound   int `json:"matches_found"`
}

// ProgressCallback is called synchronously as a run enters each stage. The
// Progress value is a copy owned by the callback.
type ProgressCallback func(Progress)

// runProgress is the per-run progress state. Runs never share one.
type runProgress struct {
	current   Progress
	start     time.Time
	callbacks []ProgressCallback
}

func newRunProgress(runID string, bank, ledger int, callbacks []ProgressCallback) *runProgress {
	return &runProgress{
		current: Progress{
			RunID:         runID,
			TotalSteps:    len(stageOrder) - 1,
			BankRecords:   bank,
			LedgerRecords: ledger,
		},
		start:     time.Now(),
		callbacks: callbacks,
	}
}

func (p *runProgress) enter(stage Stage) {
	completed := 0
	for i, s := range stageOrder {
		if s == stage {
			completed = i
			break
		}
	}

	elapsed := time.Since(p.start)
	p.current.Stage = stage
	p.current.CompletedSteps = completed
	p.current.ElapsedTime = elapsed
	p.current.PercentComplete = float64(completed) / float64(p.current.TotalSteps) * 100

	p.current.EstimatedRemaining = 0
	if completed > 0 && completed < p.current.TotalSteps {
		perStep := elapsed / time.Duration(completed)
		p.current.EstimatedRemaining = perStep * time.Duration(p.current.TotalSteps-completed)
	}

	for _, callback := range p.callbacks {
		callback(p.current)
	}
}
